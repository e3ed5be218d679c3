package goOTP

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goOTP/internal/audit"
	"github.com/MrEthical07/goOTP/internal/limiters"
	"github.com/MrEthical07/goOTP/internal/rate"
	"github.com/MrEthical07/goOTP/internal/stores"
	"github.com/MrEthical07/goOTP/jwt"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. It is single use: Build may succeed once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	delivery   DeliveryGateway
	finalizers map[Purpose]Finalizer
	auditSink  AuditSink
	logger     *slog.Logger
	clock      func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config:     defaultConfig(),
		finalizers: make(map[Purpose]Finalizer),
	}
}

// WithConfig replaces the whole configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing challenges, the token ledger and
// throttles. Cluster clients work because every key of a pair shares one
// hash slot.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDeliveryGateway(gateway DeliveryGateway) *Builder {
	b.delivery = gateway
	return b
}

// WithFinalizer registers the finalizer Consume runs for purpose.
func (b *Builder) WithFinalizer(purpose Purpose, finalizer Finalizer) *Builder {
	b.finalizers[purpose] = finalizer
	return b
}

// WithAuditSink sets where audit events go once Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. It defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for challenge and token timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client required", ErrInvalidConfig)
	}
	if b.delivery == nil {
		return nil, fmt.Errorf("%w: delivery gateway required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for purpose := range b.finalizers {
		if _, ok := cfg.Purposes[purpose]; !ok {
			return nil, fmt.Errorf("%w: finalizer registered for unknown purpose %q", ErrInvalidConfig, purpose)
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "otp")
	if len(cfg.Hashing.CodePepper) == 0 {
		logger.Warn("passcode pepper not configured; stored digests are unkeyed")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		MaxFutureIAT:  cfg.Token.MaxFutureIAT,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	engine := &Engine{
		config:     cfg,
		store:      stores.NewStore(b.redis, cfg.Store.Prefix, cfg.Store.OperationTimeout),
		tokens:     jm,
		delivery:   b.delivery,
		finalizers: make(map[Purpose]Finalizer, len(b.finalizers)),
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		clock:      clock,
	}
	for purpose, f := range b.finalizers {
		engine.finalizers[purpose] = f
	}

	// -------- THROTTLES --------
	if cfg.Throttle.Enabled {
		engine.limiter = limiters.NewOTPLimiter(
			rate.New(b.redis, cfg.Throttle.Prefix),
			limiters.OTPConfig{
				InitiatePerSubject: rateWindow(cfg.Throttle.InitiatePerSubject),
				InitiatePerIP:      rateWindow(cfg.Throttle.InitiatePerIP),
				VerifyPerIP:        rateWindow(cfg.Throttle.VerifyPerIP),
			},
		)
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NoOpSink{}
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	b.built = true

	return engine, nil
}

func rateWindow(w ThrottleWindow) rate.Window {
	return rate.Window{Max: w.Max, Duration: w.Window}
}
