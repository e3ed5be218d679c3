package flows

import (
	"context"
	"strings"
	"time"
	"unicode"
)

const maxSubjectBytes = 320

// Policy is the per-purpose configuration a flow runs with.
type Policy struct {
	CodeLength      int
	ChallengeTTL    time.Duration
	MaxAttempts     int
	TokenTTL        time.Duration
	RequirePayload  bool
	MaxPayloadBytes int
}

// Challenge mirrors the stored challenge record without importing the store.
type Challenge struct {
	CodeHash    [32]byte
	IssuedAt    int64
	ExpiresAt   int64
	Attempts    int
	MaxAttempts int
}

// Errors is the error taxonomy the engine hands to every flow. Store and
// limiter adapters built by the engine already return these values, so flows
// only compare with errors.Is.
type Errors struct {
	EngineNotReady            error
	UnknownPurpose            error
	InvalidSubject            error
	PayloadRequired           error
	PayloadTooLarge           error
	RateLimited               error
	ChallengeAlreadyActive    error
	DeliveryFailed            error
	ChallengeNotFound         error
	AttemptsExceeded          error
	InvalidCode               error
	TokenInvalid              error
	TokenExpired              error
	TokenAlreadyUsedOrRevoked error
	FinalizationFailed        error
	StoreUnavailable          error

	// NewInvalidCode wraps InvalidCode with the attempts still allowed.
	NewInvalidCode func(remaining int) error
}

// Metrics lists the counter IDs flows increment.
type Metrics struct {
	InitiateSuccess   int
	InitiateFailure   int
	DeliveryFailure   int
	RollbackFailure   int
	VerifySuccess     int
	VerifyInvalidCode int
	VerifyNotFound    int
	Lockout           int
	ConsumeSuccess    int
	ConsumeFailure    int
	Replay            int
	FinalizeFailure   int
	Cancel            int
	RateLimitHit      int
	VerifyLatency     int
}

// Events lists the audit event types flows emit.
type Events struct {
	Initiate  string
	Verify    string
	Lockout   string
	Consume   string
	Replay    string
	Cancel    string
	RateLimit string
}

// Common carries the dependencies every flow shares.
type Common struct {
	Policy              func(purpose string) (Policy, bool)
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	MetricInc     func(int)
	MetricObserve func(int, time.Duration)
	EmitAudit     func(ctx context.Context, eventType string, success bool, purpose, subject string, err error, metadata func() map[string]string)
	LogDebug      func(ctx context.Context, msg string, args ...any)
	LogWarn       func(ctx context.Context, msg string, args ...any)
	LogError      func(ctx context.Context, msg string, args ...any)

	Metrics Metrics
	Events  Events
	Errors  Errors
}

func normalizeCommon(c *Common) {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.ClientIPFromContext == nil {
		c.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if c.MetricInc == nil {
		c.MetricInc = func(int) {}
	}
	if c.MetricObserve == nil {
		c.MetricObserve = func(int, time.Duration) {}
	}
	if c.EmitAudit == nil {
		c.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if c.LogDebug == nil {
		c.LogDebug = func(context.Context, string, ...any) {}
	}
	if c.LogWarn == nil {
		c.LogWarn = func(context.Context, string, ...any) {}
	}
	if c.LogError == nil {
		c.LogError = func(context.Context, string, ...any) {}
	}
	if c.Errors.NewInvalidCode == nil {
		invalid := c.Errors.InvalidCode
		c.Errors.NewInvalidCode = func(int) error { return invalid }
	}
}

// resolve looks up the purpose and validates the subject.
func (c *Common) resolve(purpose, subject string) (Policy, error) {
	if c.Policy == nil {
		return Policy{}, c.Errors.EngineNotReady
	}
	policy, ok := c.Policy(purpose)
	if !ok {
		return Policy{}, c.Errors.UnknownPurpose
	}
	if !ValidSubject(subject) {
		return Policy{}, c.Errors.InvalidSubject
	}
	return policy, nil
}

// ValidSubject reports whether subject can key a challenge: non-empty, no
// surrounding whitespace, no control characters, and bounded in size.
func ValidSubject(subject string) bool {
	if subject == "" || len(subject) > maxSubjectBytes {
		return false
	}
	if strings.TrimSpace(subject) != subject {
		return false
	}
	for _, r := range subject {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
