package flows

import (
	"context"
	"errors"
	"time"
)

// TokenClaims is the verified content of a staged token.
type TokenClaims struct {
	Subject   string
	Purpose   string
	JTI       string
	ExpiresAt time.Time
}

// FinalizeFunc performs the purpose's account mutation.
type FinalizeFunc func(ctx context.Context, subject string, payload []byte) (any, error)

type ConsumeResult struct {
	Subject string
	Purpose string
	Value   any
}

type ConsumeDeps struct {
	Common

	ParseToken func(token string) (TokenClaims, error)
	// Finalizer returns the finalizer for purpose, or false if none is registered.
	Finalizer func(purpose string) (FinalizeFunc, bool)
	// ConsumeLedger deletes the ledger entry and staged payload if jti is live.
	ConsumeLedger func(ctx context.Context, purpose, subject, jti string) ([]byte, error)
}

// RunConsume validates token, spends it and then runs the purpose's
// finalizer. The ledger entry is gone before the finalizer starts, so a
// failed finalization cannot be retried with the same token.
func RunConsume(ctx context.Context, token string, override FinalizeFunc, deps ConsumeDeps) (ConsumeResult, error) {
	normalizeConsumeDeps(&deps)

	if deps.ParseToken == nil || deps.ConsumeLedger == nil {
		return ConsumeResult{}, deps.Errors.EngineNotReady
	}

	fail := func(purpose, subject string, err error) (ConsumeResult, error) {
		deps.MetricInc(deps.Metrics.ConsumeFailure)
		deps.EmitAudit(ctx, deps.Events.Consume, false, purpose, subject, err, nil)
		return ConsumeResult{}, err
	}

	claims, err := deps.ParseToken(token)
	if err != nil {
		return fail("", "", err)
	}
	if _, err := deps.resolve(claims.Purpose, claims.Subject); err != nil {
		return fail(claims.Purpose, claims.Subject, deps.Errors.TokenInvalid)
	}

	finalize := override
	if finalize == nil {
		var ok bool
		finalize, ok = deps.Finalizer(claims.Purpose)
		if !ok || finalize == nil {
			return fail(claims.Purpose, claims.Subject, deps.Errors.EngineNotReady)
		}
	}

	payload, err := deps.ConsumeLedger(ctx, claims.Purpose, claims.Subject, claims.JTI)
	if err != nil {
		if errors.Is(err, deps.Errors.TokenAlreadyUsedOrRevoked) {
			deps.MetricInc(deps.Metrics.Replay)
			deps.EmitAudit(ctx, deps.Events.Replay, false, claims.Purpose, claims.Subject, err, func() map[string]string {
				return map[string]string{
					"jti": claims.JTI,
				}
			})
		} else if errors.Is(err, deps.Errors.StoreUnavailable) {
			deps.LogWarn(ctx, "token ledger unavailable", "purpose", claims.Purpose, "error", err)
		}
		return fail(claims.Purpose, claims.Subject, err)
	}

	value, err := finalize(ctx, claims.Subject, payload)
	if err != nil {
		deps.MetricInc(deps.Metrics.FinalizeFailure)
		deps.LogWarn(ctx, "finalizer failed", "purpose", claims.Purpose, "error", err)
		return fail(claims.Purpose, claims.Subject, errors.Join(deps.Errors.FinalizationFailed, err))
	}

	deps.MetricInc(deps.Metrics.ConsumeSuccess)
	deps.LogDebug(ctx, "staged token consumed", "purpose", claims.Purpose)
	deps.EmitAudit(ctx, deps.Events.Consume, true, claims.Purpose, claims.Subject, nil, func() map[string]string {
		return map[string]string{
			"jti": claims.JTI,
		}
	})

	return ConsumeResult{
		Subject: claims.Subject,
		Purpose: claims.Purpose,
		Value:   value,
	}, nil
}

func normalizeConsumeDeps(deps *ConsumeDeps) {
	normalizeCommon(&deps.Common)
	if deps.Finalizer == nil {
		deps.Finalizer = func(string) (FinalizeFunc, bool) { return nil, false }
	}
}
