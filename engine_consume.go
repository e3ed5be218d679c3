package goOTP

import (
	"context"

	"github.com/MrEthical07/goOTP/internal/flows"
)

// Consume redeems a staged token with the finalizer registered for its
// purpose. The token is spent before the finalizer runs: a finalizer error
// is returned joined with ErrFinalizationFailed and the token cannot be
// presented again.
func (e *Engine) Consume(ctx context.Context, token string) (*ConsumeResult, error) {
	return e.consume(ctx, token, nil)
}

// ConsumeWith is Consume with an explicit finalizer, used instead of the
// registered one.
func (e *Engine) ConsumeWith(ctx context.Context, token string, finalizer Finalizer) (*ConsumeResult, error) {
	if finalizer == nil {
		return e.consume(ctx, token, nil)
	}
	return e.consume(ctx, token, finalizer.Finalize)
}

func (e *Engine) consume(ctx context.Context, token string, override flows.FinalizeFunc) (*ConsumeResult, error) {
	if e == nil || e.store == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	res, err := flows.RunConsume(ctx, token, override, e.consumeDeps())
	if err != nil {
		return nil, err
	}

	return &ConsumeResult{
		Subject: res.Subject,
		Purpose: Purpose(res.Purpose),
		Value:   res.Value,
	}, nil
}

func (e *Engine) consumeDeps() flows.ConsumeDeps {
	return flows.ConsumeDeps{
		Common: e.commonDeps(),
		ParseToken: func(token string) (flows.TokenClaims, error) {
			claims, err := e.tokens.ParseStaged(token)
			if err != nil {
				return flows.TokenClaims{}, mapTokenError(err)
			}
			out := flows.TokenClaims{
				Subject: claims.Subject,
				Purpose: claims.Purpose,
				JTI:     claims.ID,
			}
			if claims.ExpiresAt != nil {
				out.ExpiresAt = claims.ExpiresAt.Time
			}
			return out, nil
		},
		Finalizer: func(purpose string) (flows.FinalizeFunc, bool) {
			f, ok := e.finalizers[Purpose(purpose)]
			if !ok || f == nil {
				return nil, false
			}
			return f.Finalize, true
		},
		ConsumeLedger: func(ctx context.Context, purpose, subject, jti string) ([]byte, error) {
			consumed, err := e.store.ConsumeToken(ctx, purpose, subject, jti)
			if err != nil {
				return nil, mapStoreError(err)
			}
			if !consumed.HasPayload {
				return nil, nil
			}
			return consumed.Payload, nil
		},
	}
}
