package goOTP

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goOTP/internal/audit"
	"github.com/MrEthical07/goOTP/internal/flows"
	"github.com/MrEthical07/goOTP/internal/limiters"
	"github.com/MrEthical07/goOTP/internal/stores"
	"github.com/MrEthical07/goOTP/jwt"
)

// Engine runs the passcode protocol for every configured purpose. All
// protocol state lives in Redis, so any number of engines may share one
// deployment. An Engine is safe for concurrent use.
type Engine struct {
	config     Config
	store      *stores.Store
	limiter    *limiters.OTPLimiter
	tokens     *jwt.Manager
	delivery   DeliveryGateway
	finalizers map[Purpose]Finalizer
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	clock      func() time.Time
}

// Close flushes pending audit events and stops the dispatcher. The Redis
// client is owned by the caller and stays open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events never reached the sink.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks that the challenge store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return mapStoreError(err)
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) policy(purpose string) (flows.Policy, bool) {
	p, ok := e.config.Purposes[Purpose(purpose)]
	if !ok {
		return flows.Policy{}, false
	}
	return flows.Policy{
		CodeLength:      p.CodeLength,
		ChallengeTTL:    p.ChallengeTTL,
		MaxAttempts:     p.MaxAttempts,
		TokenTTL:        p.TokenTTL,
		RequirePayload:  p.RequirePayload,
		MaxPayloadBytes: p.MaxPayloadBytes,
	}, true
}

// commonDeps wires the engine's shared concerns into a flow.
func (e *Engine) commonDeps() flows.Common {
	return flows.Common{
		Policy:              e.policy,
		Now:                 e.now,
		ClientIPFromContext: clientIPFromContext,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		MetricObserve: func(id int, d time.Duration) {
			e.metricObserve(MetricID(id), d)
		},
		EmitAudit: e.emitAudit,
		LogDebug: func(ctx context.Context, msg string, args ...any) {
			e.logger.DebugContext(ctx, msg, args...)
		},
		LogWarn: func(ctx context.Context, msg string, args ...any) {
			e.logger.WarnContext(ctx, msg, args...)
		},
		LogError: func(ctx context.Context, msg string, args ...any) {
			e.logger.ErrorContext(ctx, msg, args...)
		},
		Metrics: flows.Metrics{
			InitiateSuccess:   int(MetricInitiateSuccess),
			InitiateFailure:   int(MetricInitiateFailure),
			DeliveryFailure:   int(MetricDeliveryFailure),
			RollbackFailure:   int(MetricRollbackFailure),
			VerifySuccess:     int(MetricVerifySuccess),
			VerifyInvalidCode: int(MetricVerifyInvalidCode),
			VerifyNotFound:    int(MetricVerifyNotFound),
			Lockout:           int(MetricLockout),
			ConsumeSuccess:    int(MetricConsumeSuccess),
			ConsumeFailure:    int(MetricConsumeFailure),
			Replay:            int(MetricReplayDetected),
			FinalizeFailure:   int(MetricFinalizationFailure),
			Cancel:            int(MetricCancel),
			RateLimitHit:      int(MetricRateLimitHit),
			VerifyLatency:     int(MetricVerifyLatency),
		},
		Events: flows.Events{
			Initiate:  auditEventInitiate,
			Verify:    auditEventVerify,
			Lockout:   auditEventLockout,
			Consume:   auditEventConsume,
			Replay:    auditEventReplay,
			Cancel:    auditEventCancel,
			RateLimit: auditEventRateLimitTriggered,
		},
		Errors: flows.Errors{
			EngineNotReady:            ErrEngineNotReady,
			UnknownPurpose:            ErrUnknownPurpose,
			InvalidSubject:            ErrInvalidSubject,
			PayloadRequired:           ErrPayloadRequired,
			PayloadTooLarge:           ErrPayloadTooLarge,
			RateLimited:               ErrRateLimited,
			ChallengeAlreadyActive:    ErrChallengeAlreadyActive,
			DeliveryFailed:            ErrDeliveryFailed,
			ChallengeNotFound:         ErrChallengeNotFound,
			AttemptsExceeded:          ErrAttemptsExceeded,
			InvalidCode:               ErrInvalidCode,
			TokenInvalid:              ErrTokenInvalid,
			TokenExpired:              ErrTokenExpired,
			TokenAlreadyUsedOrRevoked: ErrTokenAlreadyUsedOrRevoked,
			FinalizationFailed:        ErrFinalizationFailed,
			StoreUnavailable:          ErrStoreUnavailable,
			NewInvalidCode: func(remaining int) error {
				return &InvalidCodeError{RemainingAttempts: remaining}
			},
		},
	}
}

// mapStoreError translates store sentinels into the public taxonomy. Anything
// unrecognised is an infrastructure failure.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeActive):
		return ErrChallengeAlreadyActive
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrChallengeLocked):
		return ErrAttemptsExceeded
	case errors.Is(err, stores.ErrCodeMismatch):
		return ErrInvalidCode
	case errors.Is(err, stores.ErrLedgerNotFound),
		errors.Is(err, stores.ErrLedgerMismatch):
		return ErrTokenAlreadyUsedOrRevoked
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// mapThrottleError translates limiter results into the public taxonomy.
func mapThrottleError(limited *limiters.Limited, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrOTPRateLimited):
		if limited != nil && limited.RetryAfter > 0 {
			return fmt.Errorf("%w: %s retry after %s", ErrRateLimited, limited.Scope, limited.RetryAfter)
		}
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
