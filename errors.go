package goOTP

import (
	"errors"
	"fmt"
)

var (
	// ErrChallengeAlreadyActive is returned by Initiate while a challenge is live for the pair.
	ErrChallengeAlreadyActive = errors.New("challenge already active")
	// ErrDeliveryFailed is returned by Initiate when the delivery gateway fails. Stored state is rolled back.
	ErrDeliveryFailed = errors.New("passcode delivery failed")
	// ErrChallengeNotFound covers both a never-issued and an expired challenge.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrAttemptsExceeded is returned once the attempt budget is spent. The pair must be re-initiated.
	ErrAttemptsExceeded = errors.New("attempts exceeded")
	// ErrInvalidCode is matched by every *InvalidCodeError.
	ErrInvalidCode = errors.New("invalid code")
	// ErrTokenInvalid is returned for a malformed, forged or foreign staged token.
	ErrTokenInvalid = errors.New("staged token invalid")
	// ErrTokenExpired is returned for a correctly signed staged token past its exp.
	ErrTokenExpired = errors.New("staged token expired")
	// ErrTokenAlreadyUsedOrRevoked is returned when the token's jti is no longer the pair's live entry.
	ErrTokenAlreadyUsedOrRevoked = errors.New("staged token already used or revoked")
	// ErrFinalizationFailed wraps every finalizer error. The token is spent regardless.
	ErrFinalizationFailed = errors.New("finalization failed")
	// ErrStoreUnavailable is the only transient error; callers may retry it with backoff.
	ErrStoreUnavailable = errors.New("otp store unavailable")

	ErrEngineNotReady  = errors.New("engine not ready")
	ErrUnknownPurpose  = errors.New("unknown purpose")
	ErrInvalidSubject  = errors.New("invalid subject")
	ErrPayloadRequired = errors.New("payload required")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidConfig   = errors.New("invalid otp config")
)

// InvalidCodeError reports a wrong passcode together with the attempts the
// pair still allows. errors.Is(err, ErrInvalidCode) holds for it.
type InvalidCodeError struct {
	RemainingAttempts int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrInvalidCode.Error(), e.RemainingAttempts)
}

func (e *InvalidCodeError) Unwrap() error {
	return ErrInvalidCode
}

// RemainingAttempts extracts the attempt count from an invalid-code error.
func RemainingAttempts(err error) (int, bool) {
	var invalid *InvalidCodeError
	if errors.As(err, &invalid) {
		return invalid.RemainingAttempts, true
	}
	return 0, false
}

// IsRetryable reports whether err is transient. Only store outages are; every
// other error is a protocol outcome and retrying it changes nothing.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
