package internaldefs

import (
	goOTP "github.com/MrEthical07/goOTP"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goOTP.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goOTP.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goOTP.MetricInitiateSuccess, Name: "otp_initiate_success_total", Help: "Passcodes stored and delivered."},
	{ID: goOTP.MetricInitiateFailure, Name: "otp_initiate_failure_total", Help: "Rejected or failed initiate calls."},
	{ID: goOTP.MetricDeliveryFailure, Name: "otp_delivery_failure_total", Help: "Delivery gateway failures."},
	{ID: goOTP.MetricRollbackFailure, Name: "otp_rollback_failure_total", Help: "Challenges left behind after a failed delivery rollback."},
	{ID: goOTP.MetricVerifySuccess, Name: "otp_verify_success_total", Help: "Staged tokens minted."},
	{ID: goOTP.MetricVerifyInvalidCode, Name: "otp_verify_invalid_code_total", Help: "Wrong passcodes within the attempt budget."},
	{ID: goOTP.MetricVerifyNotFound, Name: "otp_verify_not_found_total", Help: "Verify calls without a live challenge."},
	{ID: goOTP.MetricLockout, Name: "otp_lockout_total", Help: "Challenges destroyed after the attempt budget was spent."},
	{ID: goOTP.MetricConsumeSuccess, Name: "otp_consume_success_total", Help: "Staged tokens redeemed and finalized."},
	{ID: goOTP.MetricConsumeFailure, Name: "otp_consume_failure_total", Help: "Failed consume calls."},
	{ID: goOTP.MetricReplayDetected, Name: "otp_replay_detected_total", Help: "Spent or superseded staged tokens presented again."},
	{ID: goOTP.MetricFinalizationFailure, Name: "otp_finalization_failure_total", Help: "Finalizer errors after a token was spent."},
	{ID: goOTP.MetricCancel, Name: "otp_cancel_total", Help: "Cancelled pairs."},
	{ID: goOTP.MetricRateLimitHit, Name: "otp_rate_limit_hit_total", Help: "Throttle checks that denied requests."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goOTP.MetricVerifyLatency, Name: "otp_verify_latency_seconds", Help: "Verify latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's fixed buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds as instrument-name suffixes.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into le counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
