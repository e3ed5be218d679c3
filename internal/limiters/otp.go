package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goOTP/internal/rate"
)

var (
	ErrOTPRateLimited      = errors.New("otp rate limited")
	ErrOTPRedisUnavailable = errors.New("otp throttle redis unavailable")
)

// OTPConfig sets the fixed windows for the protocol operations.
// A zero-valued window is disabled.
type OTPConfig struct {
	InitiatePerSubject rate.Window
	InitiatePerIP      rate.Window
	VerifyPerIP        rate.Window
}

// Limited describes which window refused a request.
type Limited struct {
	Scope      string
	RetryAfter time.Duration
}

// OTPLimiter throttles initiate and verify.
type OTPLimiter struct {
	rate   *rate.Limiter
	config OTPConfig
}

func NewOTPLimiter(limiter *rate.Limiter, cfg OTPConfig) *OTPLimiter {
	return &OTPLimiter{
		rate:   limiter,
		config: cfg,
	}
}

// CheckInitiate counts one initiate for the pair and for ip.
func (l *OTPLimiter) CheckInitiate(ctx context.Context, purpose, subject, ip string) (*Limited, error) {
	if l == nil {
		return nil, nil
	}
	if limited, err := l.hit(ctx, "subject", initiateSubjectKey(purpose, subject), l.config.InitiatePerSubject); limited != nil || err != nil {
		return limited, err
	}
	if ip == "" {
		return nil, nil
	}
	return l.hit(ctx, "ip", initiateIPKey(ip), l.config.InitiatePerIP)
}

// CheckVerify counts one verify from ip.
func (l *OTPLimiter) CheckVerify(ctx context.Context, ip string) (*Limited, error) {
	if l == nil || ip == "" {
		return nil, nil
	}
	return l.hit(ctx, "ip", verifyIPKey(ip), l.config.VerifyPerIP)
}

func (l *OTPLimiter) hit(ctx context.Context, scope, key string, w rate.Window) (*Limited, error) {
	retryAfter, err := l.rate.Hit(ctx, key, w)
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		return &Limited{Scope: scope, RetryAfter: retryAfter}, ErrOTPRateLimited
	}
	return nil, errors.Join(ErrOTPRedisUnavailable, err)
}

func initiateSubjectKey(purpose, subject string) string {
	return "is:" + purpose + ":" + subject
}

func initiateIPKey(ip string) string {
	return "ii:" + ip
}

func verifyIPKey(ip string) string {
	return "vi:" + ip
}
