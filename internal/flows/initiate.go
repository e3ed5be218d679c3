package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type InitiateResult struct {
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

type InitiateDeps struct {
	Common

	CheckThrottle func(ctx context.Context, purpose, subject, ip string) error
	GenerateCode  func(length int) (string, error)
	HashCode      func(purpose, subject, code string) [32]byte

	// CreateChallenge returns an opaque handle that DiscardChallenge accepts.
	CreateChallenge  func(ctx context.Context, purpose, subject string, challenge Challenge, payload []byte, ttl time.Duration) ([]byte, error)
	DiscardChallenge func(ctx context.Context, purpose, subject string, handle []byte) error
	Deliver          func(ctx context.Context, subject, purpose, code string) error
}

// RunInitiate opens a challenge for (purpose, subject), stages payload next to
// it and hands the passcode to the delivery gateway. A delivery failure rolls
// the stored state back before returning.
func RunInitiate(ctx context.Context, purpose, subject string, payload []byte, deps InitiateDeps) (InitiateResult, error) {
	normalizeInitiateDeps(&deps)

	if deps.CreateChallenge == nil || deps.DiscardChallenge == nil || deps.Deliver == nil || deps.GenerateCode == nil || deps.HashCode == nil {
		return InitiateResult{}, deps.Errors.EngineNotReady
	}

	fail := func(err error, metadata func() map[string]string) (InitiateResult, error) {
		deps.MetricInc(deps.Metrics.InitiateFailure)
		deps.EmitAudit(ctx, deps.Events.Initiate, false, purpose, subject, err, metadata)
		return InitiateResult{}, err
	}

	policy, err := deps.resolve(purpose, subject)
	if err != nil {
		return fail(err, nil)
	}
	if policy.RequirePayload && len(payload) == 0 {
		return fail(deps.Errors.PayloadRequired, nil)
	}
	if policy.MaxPayloadBytes > 0 && len(payload) > policy.MaxPayloadBytes {
		return fail(deps.Errors.PayloadTooLarge, func() map[string]string {
			return map[string]string{
				"payload_bytes": strconv.Itoa(len(payload)),
			}
		})
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckThrottle(ctx, purpose, subject, ip); err != nil {
		if errors.Is(err, deps.Errors.RateLimited) {
			deps.MetricInc(deps.Metrics.RateLimitHit)
			deps.EmitAudit(ctx, deps.Events.RateLimit, false, purpose, subject, err, func() map[string]string {
				return map[string]string{
					"operation": "initiate",
				}
			})
		}
		return fail(err, nil)
	}

	code, err := deps.GenerateCode(policy.CodeLength)
	if err != nil {
		return fail(fmt.Errorf("%w: passcode generation: %v", deps.Errors.EngineNotReady, err), nil)
	}

	now := deps.Now()
	expiresAt := now.Add(policy.ChallengeTTL)
	challenge := Challenge{
		CodeHash:    deps.HashCode(purpose, subject, code),
		IssuedAt:    now.Unix(),
		ExpiresAt:   expiresAt.Unix(),
		Attempts:    0,
		MaxAttempts: policy.MaxAttempts,
	}

	handle, err := deps.CreateChallenge(ctx, purpose, subject, challenge, payload, policy.ChallengeTTL)
	if err != nil {
		if errors.Is(err, deps.Errors.StoreUnavailable) {
			deps.LogWarn(ctx, "challenge store unavailable", "purpose", purpose, "error", err)
		}
		return fail(err, nil)
	}

	if err := deps.Deliver(ctx, subject, purpose, code); err != nil {
		deps.MetricInc(deps.Metrics.DeliveryFailure)
		deps.LogWarn(ctx, "passcode delivery failed", "purpose", purpose, "error", err)

		// The request context may already be done; rollback must still run.
		rollbackCtx := context.WithoutCancel(ctx)
		if rbErr := deps.DiscardChallenge(rollbackCtx, purpose, subject, handle); rbErr != nil {
			deps.MetricInc(deps.Metrics.RollbackFailure)
			deps.LogError(ctx, "challenge rollback failed", "purpose", purpose, "error", rbErr)
		}

		return fail(fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, err), nil)
	}

	deps.MetricInc(deps.Metrics.InitiateSuccess)
	deps.LogDebug(ctx, "challenge issued", "purpose", purpose, "ttl", policy.ChallengeTTL)
	deps.EmitAudit(ctx, deps.Events.Initiate, true, purpose, subject, nil, func() map[string]string {
		return map[string]string{
			"code_length":  strconv.Itoa(policy.CodeLength),
			"max_attempts": strconv.Itoa(policy.MaxAttempts),
			"payload":      strconv.FormatBool(len(payload) > 0),
		}
	})

	return InitiateResult{
		ExpiresAt: expiresAt,
		ExpiresIn: policy.ChallengeTTL,
	}, nil
}

func normalizeInitiateDeps(deps *InitiateDeps) {
	normalizeCommon(&deps.Common)
	if deps.CheckThrottle == nil {
		deps.CheckThrottle = func(context.Context, string, string, string) error { return nil }
	}
}
