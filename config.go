package goOTP

import (
	"errors"
	"fmt"
	"time"
)

/*
====================================
PURPOSES
====================================
*/

// PurposeConfig is the policy for one purpose. Every field is independent of
// the other purposes.
type PurposeConfig struct {
	// CodeLength is the number of decimal digits in a passcode.
	CodeLength int
	// ChallengeTTL bounds how long a passcode can be verified after issue.
	ChallengeTTL time.Duration
	// MaxAttempts is the number of verify calls a single challenge accepts.
	MaxAttempts int
	// TokenTTL is the lifetime of the staged token minted on verify.
	TokenTTL time.Duration
	// RequirePayload rejects Initiate calls without a staged-action payload.
	RequirePayload bool
	// MaxPayloadBytes caps the payload size. Zero means unlimited.
	MaxPayloadBytes int
}

/*
====================================
TOKEN
====================================
*/

// TokenConfig controls staged token signing.
type TokenConfig struct {
	// SigningMethod is "hs256" or "ed25519".
	SigningMethod string
	// PrivateKey is the HMAC secret for hs256 or an ed25519.PrivateKey.
	PrivateKey []byte
	// PublicKey is optional for ed25519; it is derived from PrivateKey when empty.
	PublicKey []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
	// MaxFutureIAT rejects tokens issued further than this in the future.
	MaxFutureIAT time.Duration
	KeyID        string
	// VerifyKeys lets tokens signed under a retired kid validate until they expire.
	VerifyKeys map[string][]byte
}

/*
====================================
STORE
====================================
*/

// StoreConfig controls the Redis-backed challenge store.
type StoreConfig struct {
	// Prefix namespaces every key the engine writes.
	Prefix string
	// OperationTimeout bounds each store round trip. Zero disables the bound.
	OperationTimeout time.Duration
}

// DeliveryConfig controls the delivery gateway call.
type DeliveryConfig struct {
	// Timeout bounds one Deliver call. Zero leaves the caller's deadline alone.
	Timeout time.Duration
}

// HashingConfig controls how passcodes are stored.
type HashingConfig struct {
	// CodePepper keys the HMAC applied to passcodes before they are stored.
	// Leave empty only in tests; a short pepper is rejected.
	CodePepper []byte
}

/*
====================================
THROTTLING
====================================
*/

// ThrottleWindow is a fixed-window limit. A zero Max disables it.
type ThrottleWindow struct {
	Max    int
	Window time.Duration
}

// ThrottleConfig limits how fast passcodes can be requested and guessed.
// Throttling is disabled unless Enabled is set.
type ThrottleConfig struct {
	Enabled            bool
	InitiatePerSubject ThrottleWindow
	InitiatePerIP      ThrottleWindow
	VerifyPerIP        ThrottleWindow
	// Prefix namespaces throttle counters.
	Prefix string
}

/*
====================================
AUDIT & METRICS
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
ROOT CONFIG
====================================
*/

// Config is the complete engine configuration.
type Config struct {
	Purposes map[Purpose]PurposeConfig
	Token    TokenConfig
	Store    StoreConfig
	Delivery DeliveryConfig
	Hashing  HashingConfig
	Throttle ThrottleConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Token.PrivateKey and
// Hashing.CodePepper are left empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Purposes: map[Purpose]PurposeConfig{
			PurposeRegistration: {
				CodeLength:      6,
				ChallengeTTL:    10 * time.Minute,
				MaxAttempts:     5,
				TokenTTL:        15 * time.Minute,
				RequirePayload:  true,
				MaxPayloadBytes: 4096,
			},
			PurposePasswordReset: {
				CodeLength:   6,
				ChallengeTTL: 10 * time.Minute,
				MaxAttempts:  3,
				TokenTTL:     15 * time.Minute,
			},
		},
		Token: TokenConfig{
			SigningMethod: "hs256",
			Issuer:        "goOTP",
			Leeway:        5 * time.Second,
			MaxFutureIAT:  time.Minute,
		},
		Store: StoreConfig{
			Prefix:           "otp",
			OperationTimeout: 2 * time.Second,
		},
		Delivery: DeliveryConfig{
			Timeout: 10 * time.Second,
		},
		Throttle: ThrottleConfig{
			Enabled:            false,
			InitiatePerSubject: ThrottleWindow{Max: 3, Window: 10 * time.Minute},
			InitiatePerIP:      ThrottleWindow{Max: 20, Window: time.Hour},
			VerifyPerIP:        ThrottleWindow{Max: 60, Window: 10 * time.Minute},
			Prefix:             "otprl",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Purposes != nil {
		out.Purposes = make(map[Purpose]PurposeConfig, len(cfg.Purposes))
		for k, v := range cfg.Purposes {
			out.Purposes[k] = v
		}
	}
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for k, v := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[k] = cloneBytes(v)
		}
	}
	out.Hashing.CodePepper = cloneBytes(cfg.Hashing.CodePepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

const (
	minCodeLength = 4
	maxCodeLength = 10
	minPepperLen  = 16
	minHMACSecret = 32
)

// Validate checks the configuration. Every returned error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Purposes
	if len(c.Purposes) == 0 {
		return errors.New("at least one purpose must be configured")
	}
	for name, p := range c.Purposes {
		if name == "" {
			return errors.New("purpose name must not be empty")
		}
		if p.CodeLength < minCodeLength || p.CodeLength > maxCodeLength {
			return fmt.Errorf("purpose %q CodeLength must be between %d and %d", name, minCodeLength, maxCodeLength)
		}
		if p.ChallengeTTL < time.Second {
			return fmt.Errorf("purpose %q ChallengeTTL must be >= 1s", name)
		}
		if p.MaxAttempts < 1 || p.MaxAttempts > 65535 {
			return fmt.Errorf("purpose %q MaxAttempts must be between 1 and 65535", name)
		}
		if p.TokenTTL < time.Second {
			return fmt.Errorf("purpose %q TokenTTL must be >= 1s", name)
		}
		if p.MaxPayloadBytes < 0 {
			return fmt.Errorf("purpose %q MaxPayloadBytes must be >= 0", name)
		}
	}

	// Token
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.PrivateKey) < minHMACSecret {
			return fmt.Errorf("hs256 requires a PrivateKey of at least %d bytes", minHMACSecret)
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported token signing method")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}
	if c.Token.MaxFutureIAT < 0 {
		return errors.New("Token MaxFutureIAT must be >= 0")
	}

	// Store
	if c.Store.Prefix == "" {
		return errors.New("Store Prefix must not be empty")
	}
	if c.Store.OperationTimeout < 0 {
		return errors.New("Store OperationTimeout must be >= 0")
	}
	if c.Delivery.Timeout < 0 {
		return errors.New("Delivery Timeout must be >= 0")
	}

	// Hashing
	if n := len(c.Hashing.CodePepper); n > 0 && n < minPepperLen {
		return fmt.Errorf("Hashing CodePepper must be empty or at least %d bytes", minPepperLen)
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.Prefix == "" {
			return errors.New("Throttle Prefix must not be empty")
		}
		if c.Throttle.Prefix == c.Store.Prefix {
			return errors.New("Throttle Prefix must differ from Store Prefix")
		}
		for name, w := range map[string]ThrottleWindow{
			"InitiatePerSubject": c.Throttle.InitiatePerSubject,
			"InitiatePerIP":      c.Throttle.InitiatePerIP,
			"VerifyPerIP":        c.Throttle.VerifyPerIP,
		} {
			if w.Max < 0 {
				return fmt.Errorf("Throttle %s Max must be >= 0", name)
			}
			if w.Max > 0 && w.Window < time.Second {
				return fmt.Errorf("Throttle %s Window must be >= 1s", name)
			}
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
