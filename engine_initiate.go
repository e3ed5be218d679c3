package goOTP

import (
	"context"
	"time"

	"github.com/MrEthical07/goOTP/internal"
	"github.com/MrEthical07/goOTP/internal/flows"
	"github.com/MrEthical07/goOTP/internal/stores"
)

// Initiate issues a passcode for (subject, purpose) and hands it to the
// delivery gateway. payload is staged until the resulting token is consumed;
// purposes configured with RequirePayload reject an empty one.
//
// A second Initiate while a challenge is live fails with
// ErrChallengeAlreadyActive and delivers nothing. When delivery fails the
// stored challenge and payload are removed and ErrDeliveryFailed is returned.
func (e *Engine) Initiate(ctx context.Context, subject string, purpose Purpose, payload []byte) (*InitiateResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	res, err := flows.RunInitiate(ctx, string(purpose), subject, payload, e.initiateDeps())
	if err != nil {
		return nil, err
	}

	return &InitiateResult{
		ExpiresAt:        res.ExpiresAt,
		ExpiresInSeconds: int64(res.ExpiresIn / time.Second),
	}, nil
}

func (e *Engine) initiateDeps() flows.InitiateDeps {
	return flows.InitiateDeps{
		Common: e.commonDeps(),
		CheckThrottle: func(ctx context.Context, purpose, subject, ip string) error {
			return mapThrottleError(e.limiter.CheckInitiate(ctx, purpose, subject, ip))
		},
		GenerateCode: internal.NewPasscode,
		HashCode:     e.hashCode,
		CreateChallenge: func(ctx context.Context, purpose, subject string, c flows.Challenge, payload []byte, ttl time.Duration) ([]byte, error) {
			record := &stores.ChallengeRecord{
				CodeHash:    c.CodeHash,
				IssuedAt:    c.IssuedAt,
				ExpiresAt:   c.ExpiresAt,
				Attempts:    uint16(c.Attempts),
				MaxAttempts: uint16(c.MaxAttempts),
			}
			handle, err := e.store.CreateChallenge(ctx, purpose, subject, record, payload, len(payload) > 0, ttl)
			if err != nil {
				return nil, mapStoreError(err)
			}
			return handle, nil
		},
		DiscardChallenge: func(ctx context.Context, purpose, subject string, handle []byte) error {
			_, err := e.store.DiscardChallenge(ctx, purpose, subject, handle)
			if err != nil {
				return mapStoreError(err)
			}
			return nil
		},
		Deliver: func(ctx context.Context, subject, purpose, code string) error {
			if timeout := e.config.Delivery.Timeout; timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return e.delivery.Deliver(ctx, subject, Purpose(purpose), code)
		},
	}
}

func (e *Engine) hashCode(purpose, subject, code string) [32]byte {
	return internal.HashPasscode(e.config.Hashing.CodePepper, purpose, subject, code)
}
