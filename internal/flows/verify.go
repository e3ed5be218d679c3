package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type VerifyResult struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

type VerifyDeps struct {
	Common

	CheckThrottle func(ctx context.Context, ip string) error
	HashCode      func(purpose, subject, code string) [32]byte
	NewTokenID    func() (string, error)
	MintToken     func(purpose, subject, jti string, ttl time.Duration, now time.Time) (string, time.Time, error)

	// AttemptChallenge checks the digest and, on a match, deletes the challenge
	// and activates jti in the ledger in one step. On InvalidCode it also
	// reports the attempts left.
	AttemptChallenge func(ctx context.Context, purpose, subject string, hash [32]byte, maxAttempts int, now time.Time, jti string, tokenTTL time.Duration) (int, error)
}

// RunVerify checks code against the live challenge and, on success, returns
// a staged token whose jti is already the pair's only live ledger entry.
func RunVerify(ctx context.Context, purpose, subject, code string, deps VerifyDeps) (VerifyResult, error) {
	normalizeVerifyDeps(&deps)

	if deps.AttemptChallenge == nil || deps.HashCode == nil || deps.MintToken == nil || deps.NewTokenID == nil {
		return VerifyResult{}, deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer func() {
		deps.MetricObserve(deps.Metrics.VerifyLatency, deps.Now().Sub(start))
	}()

	fail := func(err error, metadata func() map[string]string) (VerifyResult, error) {
		deps.EmitAudit(ctx, deps.Events.Verify, false, purpose, subject, err, metadata)
		return VerifyResult{}, err
	}

	policy, err := deps.resolve(purpose, subject)
	if err != nil {
		return fail(err, nil)
	}

	if err := deps.CheckThrottle(ctx, deps.ClientIPFromContext(ctx)); err != nil {
		if errors.Is(err, deps.Errors.RateLimited) {
			deps.MetricInc(deps.Metrics.RateLimitHit)
			deps.EmitAudit(ctx, deps.Events.RateLimit, false, purpose, subject, err, func() map[string]string {
				return map[string]string{
					"operation": "verify",
				}
			})
		}
		return fail(err, nil)
	}

	// The token is signed up front; it only becomes redeemable once the
	// challenge script writes its jti to the ledger.
	jti, err := deps.NewTokenID()
	if err != nil {
		return fail(fmt.Errorf("%w: token id: %v", deps.Errors.EngineNotReady, err), nil)
	}
	now := deps.Now()
	token, expiresAt, err := deps.MintToken(purpose, subject, jti, policy.TokenTTL, now)
	if err != nil {
		return fail(fmt.Errorf("%w: token signing: %v", deps.Errors.EngineNotReady, err), nil)
	}

	hash := deps.HashCode(purpose, subject, code)
	remaining, err := deps.AttemptChallenge(ctx, purpose, subject, hash, policy.MaxAttempts, now, jti, policy.TokenTTL)
	switch {
	case err == nil:
	case errors.Is(err, deps.Errors.InvalidCode):
		deps.MetricInc(deps.Metrics.VerifyInvalidCode)
		return fail(deps.Errors.NewInvalidCode(remaining), func() map[string]string {
			return map[string]string{
				"remaining_attempts": strconv.Itoa(remaining),
			}
		})
	case errors.Is(err, deps.Errors.AttemptsExceeded):
		deps.MetricInc(deps.Metrics.Lockout)
		deps.LogDebug(ctx, "challenge locked", "purpose", purpose)
		deps.EmitAudit(ctx, deps.Events.Lockout, false, purpose, subject, err, func() map[string]string {
			return map[string]string{
				"max_attempts": strconv.Itoa(policy.MaxAttempts),
			}
		})
		return fail(err, nil)
	case errors.Is(err, deps.Errors.ChallengeNotFound):
		deps.MetricInc(deps.Metrics.VerifyNotFound)
		return fail(err, nil)
	default:
		if errors.Is(err, deps.Errors.StoreUnavailable) {
			deps.LogWarn(ctx, "challenge store unavailable", "purpose", purpose, "error", err)
		}
		return fail(err, nil)
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.LogDebug(ctx, "challenge verified", "purpose", purpose)
	deps.EmitAudit(ctx, deps.Events.Verify, true, purpose, subject, nil, func() map[string]string {
		return map[string]string{
			"jti": jti,
		}
	})

	return VerifyResult{
		Token:     token,
		JTI:       jti,
		ExpiresAt: expiresAt,
		ExpiresIn: policy.TokenTTL,
	}, nil
}

func normalizeVerifyDeps(deps *VerifyDeps) {
	normalizeCommon(&deps.Common)
	if deps.CheckThrottle == nil {
		deps.CheckThrottle = func(context.Context, string) error { return nil }
	}
}
