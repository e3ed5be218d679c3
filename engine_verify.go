package goOTP

import (
	"context"
	"time"

	"github.com/MrEthical07/goOTP/internal"
	"github.com/MrEthical07/goOTP/internal/flows"
)

// Verify checks code against the live challenge for (subject, purpose).
//
// A wrong code returns an *InvalidCodeError carrying the attempts left. The
// attempt that spends the budget destroys the challenge and returns
// ErrAttemptsExceeded, as does every later Verify until a fresh Initiate. A
// correct code destroys the challenge and returns a staged token; of several
// concurrent correct calls exactly one succeeds and the rest see
// ErrChallengeNotFound. Any token previously issued for the pair stops being
// redeemable.
func (e *Engine) Verify(ctx context.Context, subject string, purpose Purpose, code string) (*VerifyResult, error) {
	if e == nil || e.store == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	res, err := flows.RunVerify(ctx, string(purpose), subject, code, e.verifyDeps())
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		StagedToken:      res.Token,
		ExpiresAt:        res.ExpiresAt,
		ExpiresInSeconds: int64(res.ExpiresIn / time.Second),
	}, nil
}

func (e *Engine) verifyDeps() flows.VerifyDeps {
	return flows.VerifyDeps{
		Common: e.commonDeps(),
		CheckThrottle: func(ctx context.Context, ip string) error {
			return mapThrottleError(e.limiter.CheckVerify(ctx, ip))
		},
		HashCode:   e.hashCode,
		NewTokenID: internal.NewTokenID,
		MintToken:  e.tokens.CreateStaged,
		AttemptChallenge: func(ctx context.Context, purpose, subject string, hash [32]byte, maxAttempts int, now time.Time, jti string, tokenTTL time.Duration) (int, error) {
			_, remaining, err := e.store.AttemptChallenge(ctx, purpose, subject, hash, maxAttempts, now, jti, tokenTTL)
			if err != nil {
				return remaining, mapStoreError(err)
			}
			return 0, nil
		},
	}
}
