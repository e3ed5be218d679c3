package goOTP

import (
	"context"
	"time"

	"github.com/MrEthical07/goOTP/internal/flows"
)

// Purpose names the flow a challenge and its staged token belong to.
type Purpose string

const (
	// PurposeRegistration gates creation of a new account. Its payload carries
	// the candidate account fields until the staged token is consumed.
	PurposeRegistration Purpose = "registration"
	// PurposePasswordReset gates a credential change on an existing subject.
	PurposePasswordReset Purpose = "password_reset"
)

// DeliveryGateway sends a passcode to its subject out of band. It never
// touches stored state; the engine rolls back the challenge when it fails.
type DeliveryGateway interface {
	Deliver(ctx context.Context, subject string, purpose Purpose, code string) error
}

// DeliveryGatewayFunc adapts a function to DeliveryGateway.
type DeliveryGatewayFunc func(ctx context.Context, subject string, purpose Purpose, code string) error

// Deliver calls f.
func (f DeliveryGatewayFunc) Deliver(ctx context.Context, subject string, purpose Purpose, code string) error {
	return f(ctx, subject, purpose, code)
}

// Finalizer performs the account mutation for one purpose. payload is nil
// when the challenge was initiated without one.
type Finalizer interface {
	Finalize(ctx context.Context, subject string, payload []byte) (any, error)
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, subject string, payload []byte) (any, error)

// Finalize calls f.
func (f FinalizerFunc) Finalize(ctx context.Context, subject string, payload []byte) (any, error) {
	return f(ctx, subject, payload)
}

// InitiateResult is returned once a passcode has been stored and delivered.
type InitiateResult struct {
	ExpiresAt        time.Time
	ExpiresInSeconds int64
}

// VerifyResult carries the staged token minted by a successful Verify.
type VerifyResult struct {
	StagedToken      string
	ExpiresAt        time.Time
	ExpiresInSeconds int64
}

// ConsumeResult carries the finalizer's return value.
type ConsumeResult struct {
	Subject string
	Purpose Purpose
	Value   any
}

// State is the lifecycle position of a (subject, purpose) pair.
type State string

const (
	StateIdle     State = flows.StateIdle
	StatePending  State = flows.StatePending
	StateLocked   State = flows.StateLocked
	StateVerified State = flows.StateVerified
)

// StatusResult describes a pair without revealing its passcode or token.
type StatusResult struct {
	State             State
	AttemptsUsed      int
	AttemptsRemaining int
	// ExpiresIn is the remaining lifetime of whatever record defines State.
	ExpiresIn time.Duration
	// TokenOutstanding reports an unconsumed staged token, which may coexist
	// with a newer pending challenge.
	TokenOutstanding bool
	TokenExpiresIn   time.Duration
}
