package goOTP

import (
	"context"

	"github.com/MrEthical07/goOTP/internal/flows"
)

// Status reports where (subject, purpose) sits in its lifecycle. It never
// mutates state and never reveals the passcode digest or a token.
func (e *Engine) Status(ctx context.Context, subject string, purpose Purpose) (*StatusResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	res, err := flows.RunStatus(ctx, string(purpose), subject, flows.StatusDeps{
		Common:  e.commonDeps(),
		Inspect: e.inspect,
	})
	if err != nil {
		return nil, err
	}

	return &StatusResult{
		State:             State(res.State),
		AttemptsUsed:      res.AttemptsUsed,
		AttemptsRemaining: res.AttemptsRemaining,
		ExpiresIn:         res.ExpiresIn,
		TokenOutstanding:  res.TokenOutstanding,
		TokenExpiresIn:    res.TokenExpiresIn,
	}, nil
}

// Cancel deletes every record of (subject, purpose): a pending challenge, its
// payload, a lockout marker and any outstanding token. It reports whether
// anything existed.
func (e *Engine) Cancel(ctx context.Context, subject string, purpose Purpose) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}

	return flows.RunCancel(ctx, string(purpose), subject, flows.CancelDeps{
		Common: e.commonDeps(),
		Purge: func(ctx context.Context, purpose, subject string) (int64, error) {
			n, err := e.store.Purge(ctx, purpose, subject)
			if err != nil {
				return 0, mapStoreError(err)
			}
			return n, nil
		},
	})
}

func (e *Engine) inspect(ctx context.Context, purpose, subject string) (flows.PairSnapshot, error) {
	state, err := e.store.Inspect(ctx, purpose, subject)
	if err != nil {
		return flows.PairSnapshot{}, mapStoreError(err)
	}

	snap := flows.PairSnapshot{
		ChallengeTTL: state.ChallengeTTL,
		Locked:       state.Locked,
		LockTTL:      state.LockTTL,
		TokenActive:  state.TokenActive,
		TokenTTL:     state.TokenTTL,
	}
	if c := state.Challenge; c != nil {
		snap.Challenge = &flows.Challenge{
			IssuedAt:    c.IssuedAt,
			ExpiresAt:   c.ExpiresAt,
			Attempts:    int(c.Attempts),
			MaxAttempts: int(c.MaxAttempts),
		}
	}
	return snap, nil
}
