package flows

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Pair states reported by RunStatus.
const (
	StateIdle     = "idle"
	StatePending  = "pending"
	StateLocked   = "locked"
	StateVerified = "verified"
)

// PairSnapshot is what the store reports about a pair.
type PairSnapshot struct {
	Challenge    *Challenge
	ChallengeTTL time.Duration
	Locked       bool
	LockTTL      time.Duration
	TokenActive  bool
	TokenTTL     time.Duration
}

type StatusResult struct {
	State             string
	AttemptsUsed      int
	AttemptsRemaining int
	ExpiresIn         time.Duration
	TokenOutstanding  bool
	TokenExpiresIn    time.Duration
}

type StatusDeps struct {
	Common

	Inspect func(ctx context.Context, purpose, subject string) (PairSnapshot, error)
}

// RunStatus reports where a pair sits in its lifecycle. A live challenge
// takes precedence over an outstanding token, which takes precedence over a
// lockout marker.
func RunStatus(ctx context.Context, purpose, subject string, deps StatusDeps) (StatusResult, error) {
	normalizeCommon(&deps.Common)

	if deps.Inspect == nil {
		return StatusResult{}, deps.Errors.EngineNotReady
	}
	policy, err := deps.resolve(purpose, subject)
	if err != nil {
		return StatusResult{}, err
	}

	snap, err := deps.Inspect(ctx, purpose, subject)
	if err != nil {
		if errors.Is(err, deps.Errors.StoreUnavailable) {
			deps.LogWarn(ctx, "challenge store unavailable", "purpose", purpose, "error", err)
		}
		return StatusResult{}, err
	}

	result := StatusResult{
		State:            StateIdle,
		TokenOutstanding: snap.TokenActive,
		TokenExpiresIn:   snap.TokenTTL,
	}

	now := deps.Now().Unix()
	switch {
	case snap.Challenge != nil && snap.Challenge.ExpiresAt >= now:
		maxAttempts := snap.Challenge.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = policy.MaxAttempts
		}
		result.State = StatePending
		result.AttemptsUsed = snap.Challenge.Attempts
		result.AttemptsRemaining = max(maxAttempts-snap.Challenge.Attempts, 0)
		result.ExpiresIn = snap.ChallengeTTL
	case snap.TokenActive:
		result.State = StateVerified
		result.ExpiresIn = snap.TokenTTL
	case snap.Locked:
		result.State = StateLocked
		result.ExpiresIn = snap.LockTTL
	}

	return result, nil
}

type CancelDeps struct {
	Common

	Purge func(ctx context.Context, purpose, subject string) (int64, error)
}

// RunCancel returns a pair to idle by deleting every record it holds. It
// reports whether anything was removed.
func RunCancel(ctx context.Context, purpose, subject string, deps CancelDeps) (bool, error) {
	normalizeCommon(&deps.Common)

	if deps.Purge == nil {
		return false, deps.Errors.EngineNotReady
	}
	if _, err := deps.resolve(purpose, subject); err != nil {
		deps.EmitAudit(ctx, deps.Events.Cancel, false, purpose, subject, err, nil)
		return false, err
	}

	removed, err := deps.Purge(ctx, purpose, subject)
	if err != nil {
		if errors.Is(err, deps.Errors.StoreUnavailable) {
			deps.LogWarn(ctx, "challenge store unavailable", "purpose", purpose, "error", err)
		}
		deps.EmitAudit(ctx, deps.Events.Cancel, false, purpose, subject, err, nil)
		return false, err
	}

	deps.MetricInc(deps.Metrics.Cancel)
	deps.LogDebug(ctx, "pair cancelled", "purpose", purpose, "keys", removed)
	deps.EmitAudit(ctx, deps.Events.Cancel, true, purpose, subject, nil, func() map[string]string {
		return map[string]string{
			"keys_removed": strconv.FormatInt(removed, 10),
		}
	})

	return removed > 0, nil
}
