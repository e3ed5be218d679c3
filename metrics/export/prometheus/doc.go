// Package prometheus renders goOTP engine metrics in Prometheus text
// exposition format.
//
// [NewExporter] wraps an engine and [Exporter.Handler] serves the snapshot.
// Counters are named otp_*_total and verify latency is exported as the
// otp_verify_latency_seconds histogram. Nothing is registered globally; mount
// the handler wherever scrapes arrive.
package prometheus
