package goOTP

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	testTokenSecret = []byte("0123456789abcdef0123456789abcdef")
	testPepper      = []byte("pepper-for-tests-only")
)

type captureGateway struct {
	mu    sync.Mutex
	codes map[string]string
	calls int
	fail  error
}

func newCaptureGateway() *captureGateway {
	return &captureGateway{codes: make(map[string]string)}
}

func (g *captureGateway) Deliver(_ context.Context, subject string, purpose Purpose, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	if g.fail != nil {
		return g.fail
	}
	g.codes[string(purpose)+"|"+subject] = code
	return nil
}

func (g *captureGateway) code(t *testing.T, subject string, purpose Purpose) string {
	t.Helper()

	g.mu.Lock()
	defer g.mu.Unlock()

	code, ok := g.codes[string(purpose)+"|"+subject]
	if !ok {
		t.Fatalf("no passcode delivered to %s for %s", subject, purpose)
	}
	return code
}

func (g *captureGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *captureGateway) setFail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

type recordingFinalizer struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *recordingFinalizer) Finalize(_ context.Context, subject string, payload []byte) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return "done:" + subject, nil
}

func (f *recordingFinalizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = testTokenSecret
	cfg.Hashing.CodePepper = testPepper
	return cfg
}

type testEngine struct {
	*Engine
	mr        *miniredis.Miniredis
	gateway   *captureGateway
	registrar *recordingFinalizer
	resetter  *recordingFinalizer
}

func buildTestEngine(t *testing.T, cfg Config, configure ...func(*Builder)) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	te := &testEngine{
		mr:        mr,
		gateway:   newCaptureGateway(),
		registrar: &recordingFinalizer{},
		resetter:  &recordingFinalizer{},
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDeliveryGateway(te.gateway).
		WithFinalizer(PurposeRegistration, te.registrar).
		WithFinalizer(PurposePasswordReset, te.resetter)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	te.Engine = engine
	return te
}

func wrongCode(code string) string {
	last := code[len(code)-1]
	if last == '9' {
		return code[:len(code)-1] + "0"
	}
	return code[:len(code)-1] + string(last+1)
}

func mustInitiate(t *testing.T, te *testEngine, subject string, purpose Purpose, payload []byte) string {
	t.Helper()

	if _, err := te.Initiate(context.Background(), subject, purpose, payload); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	return te.gateway.code(t, subject, purpose)
}

func mustVerify(t *testing.T, te *testEngine, subject string, purpose Purpose, code string) string {
	t.Helper()

	res, err := te.Verify(context.Background(), subject, purpose, code)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.StagedToken == "" {
		t.Fatal("expected staged token")
	}
	return res.StagedToken
}

func TestRegistrationEndToEnd(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()
	payload := []byte(`{"username":"a"}`)

	started, err := te.Initiate(ctx, "a@x.com", PurposeRegistration, payload)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if started.ExpiresInSeconds != 600 {
		t.Fatalf("expected 600s challenge, got %d", started.ExpiresInSeconds)
	}

	code := te.gateway.code(t, "a@x.com", PurposeRegistration)
	if len(code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", code)
	}

	verified, err := te.Verify(ctx, "a@x.com", PurposeRegistration, code)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.ExpiresInSeconds != 900 {
		t.Fatalf("expected 900s token, got %d", verified.ExpiresInSeconds)
	}

	res, err := te.Consume(ctx, verified.StagedToken)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if res.Subject != "a@x.com" || res.Purpose != PurposeRegistration {
		t.Fatalf("unexpected consume result: %+v", res)
	}
	if res.Value != "done:a@x.com" {
		t.Fatalf("expected finalizer value, got %v", res.Value)
	}
	if te.registrar.Calls() != 1 || string(te.registrar.payloads[0]) != string(payload) {
		t.Fatalf("finalizer did not receive staged payload: %q", te.registrar.payloads)
	}

	if _, err := te.Consume(ctx, verified.StagedToken); !errors.Is(err, ErrTokenAlreadyUsedOrRevoked) {
		t.Fatalf("expected ErrTokenAlreadyUsedOrRevoked on replay, got %v", err)
	}
	if te.registrar.Calls() != 1 {
		t.Fatal("finalizer ran on replay")
	}
}

func TestPasswordResetHasNoPayload(t *testing.T) {
	te := buildTestEngine(t, testConfig())

	code := mustInitiate(t, te, "b@x.com", PurposePasswordReset, nil)
	token := mustVerify(t, te, "b@x.com", PurposePasswordReset, code)

	if _, err := te.Consume(context.Background(), token); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if te.resetter.Calls() != 1 || te.resetter.payloads[0] != nil {
		t.Fatalf("expected nil payload for reset, got %q", te.resetter.payloads)
	}
}

func TestInitiateTwiceRejected(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()

	mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)

	_, err := te.Initiate(ctx, "a@x.com", PurposePasswordReset, nil)
	if !errors.Is(err, ErrChallengeAlreadyActive) {
		t.Fatalf("expected ErrChallengeAlreadyActive, got %v", err)
	}
	if te.gateway.Calls() != 1 {
		t.Fatalf("second initiate must not deliver, got %d deliveries", te.gateway.Calls())
	}

	// Other purposes and subjects are independent.
	if _, err := te.Initiate(ctx, "a@x.com", PurposeRegistration, []byte("p")); err != nil {
		t.Fatalf("registration for same subject failed: %v", err)
	}
	if _, err := te.Initiate(ctx, "c@x.com", PurposePasswordReset, nil); err != nil {
		t.Fatalf("reset for other subject failed: %v", err)
	}
}

func TestVerifySucceedsExactlyOnce(t *testing.T) {
	te := buildTestEngine(t, testConfig())

	code := mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)
	mustVerify(t, te, "a@x.com", PurposePasswordReset, code)

	_, err := te.Verify(context.Background(), "a@x.com", PurposePasswordReset, code)
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestVerifyWithoutChallenge(t *testing.T) {
	te := buildTestEngine(t, testConfig())

	_, err := te.Verify(context.Background(), "nobody@x.com", PurposePasswordReset, "123456")
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestWrongCodesLockOut(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()
	subject := "a@x.com"

	code := mustInitiate(t, te, subject, PurposePasswordReset, nil)
	bad := wrongCode(code)

	for want := 2; want >= 1; want-- {
		_, err := te.Verify(ctx, subject, PurposePasswordReset, bad)
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("expected ErrInvalidCode, got %v", err)
		}
		remaining, ok := RemainingAttempts(err)
		if !ok || remaining != want {
			t.Fatalf("expected %d remaining attempts, got %d (%v)", want, remaining, ok)
		}
	}

	if _, err := te.Verify(ctx, subject, PurposePasswordReset, bad); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded on third failure, got %v", err)
	}
	if _, err := te.Verify(ctx, subject, PurposePasswordReset, code); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded for correct code after lockout, got %v", err)
	}

	status, err := te.Status(ctx, subject, PurposePasswordReset)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateLocked {
		t.Fatalf("expected locked state, got %s", status.State)
	}

	fresh := mustInitiate(t, te, subject, PurposePasswordReset, nil)
	mustVerify(t, te, subject, PurposePasswordReset, fresh)

	status, err = te.Status(ctx, subject, PurposePasswordReset)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateVerified {
		t.Fatalf("expected verified state after fresh cycle, got %s", status.State)
	}
}

func TestMalformedCodeCountsAsAttempt(t *testing.T) {
	te := buildTestEngine(t, testConfig())

	mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)

	_, err := te.Verify(context.Background(), "a@x.com", PurposePasswordReset, "not-a-code")
	if remaining, ok := RemainingAttempts(err); !ok || remaining != 2 {
		t.Fatalf("expected invalid code with 2 remaining, got %v", err)
	}
}

func TestNewTokenRevokesOutstandingToken(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()

	first := mustVerify(t, te, "a@x.com", PurposePasswordReset,
		mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil))
	second := mustVerify(t, te, "a@x.com", PurposePasswordReset,
		mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil))

	if _, err := te.Consume(ctx, first); !errors.Is(err, ErrTokenAlreadyUsedOrRevoked) {
		t.Fatalf("expected superseded token to be revoked, got %v", err)
	}
	if _, err := te.Consume(ctx, second); err != nil {
		t.Fatalf("latest token should be redeemable: %v", err)
	}
}

func TestChallengeExpires(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()

	code := mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)
	te.mr.FastForward(11 * time.Minute)

	if _, err := te.Verify(ctx, "a@x.com", PurposePasswordReset, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after ttl, got %v", err)
	}
	mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)
}

func TestStagedTokenExpires(t *testing.T) {
	// Tokens minted against a clock 20 minutes behind are already past exp.
	skewed := func() time.Time { return time.Now().Add(-20 * time.Minute) }
	te := buildTestEngine(t, testConfig(), func(b *Builder) { b.WithClock(skewed) })

	code := mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)
	token := mustVerify(t, te, "a@x.com", PurposePasswordReset, code)

	if _, err := te.Consume(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if te.resetter.Calls() != 0 {
		t.Fatal("finalizer ran for expired token")
	}
}

func TestConsumeRejectsForeignAndTamperedTokens(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()

	token := mustVerify(t, te, "a@x.com", PurposePasswordReset,
		mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil))

	tampered := token[:len(token)-2] + "xx"
	if _, err := te.Consume(ctx, tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
	if _, err := te.Consume(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}

	otherCfg := testConfig()
	otherCfg.Token.PrivateKey = []byte("ffffffffffffffffffffffffffffffff")
	other := buildTestEngine(t, otherCfg)
	foreign := mustVerify(t, other, "a@x.com", PurposePasswordReset,
		mustInitiate(t, other, "a@x.com", PurposePasswordReset, nil))
	if _, err := te.Consume(ctx, foreign); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign token, got %v", err)
	}

	// The genuine token is untouched by the rejected attempts.
	if _, err := te.Consume(ctx, token); err != nil {
		t.Fatalf("genuine token rejected: %v", err)
	}
}

func TestFinalizationFailureIsTerminal(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()
	conflict := errors.New("username taken")
	te.registrar.err = conflict

	code := mustInitiate(t, te, "a@x.com", PurposeRegistration, []byte("p"))
	token := mustVerify(t, te, "a@x.com", PurposeRegistration, code)

	_, err := te.Consume(ctx, token)
	if !errors.Is(err, ErrFinalizationFailed) || !errors.Is(err, conflict) {
		t.Fatalf("expected finalization failure wrapping cause, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenAlreadyUsedOrRevoked) {
		t.Fatalf("finalization failure must be distinct from token errors: %v", err)
	}

	te.registrar.err = nil
	if _, err := te.Consume(ctx, token); !errors.Is(err, ErrTokenAlreadyUsedOrRevoked) {
		t.Fatalf("expected token spent after failed finalization, got %v", err)
	}
}

func TestConsumeWithoutFinalizerKeepsToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	gateway := newCaptureGateway()
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithDeliveryGateway(gateway).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	te := &testEngine{Engine: engine, mr: mr, gateway: gateway}
	ctx := context.Background()

	token := mustVerify(t, te, "a@x.com", PurposePasswordReset,
		mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil))

	if _, err := engine.Consume(ctx, token); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady without finalizer, got %v", err)
	}

	f := &recordingFinalizer{}
	res, err := engine.ConsumeWith(ctx, token, f)
	if err != nil {
		t.Fatalf("ConsumeWith failed: %v", err)
	}
	if res.Value != "done:a@x.com" || f.Calls() != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConsumeWithOverridesRegisteredFinalizer(t *testing.T) {
	te := buildTestEngine(t, testConfig())

	token := mustVerify(t, te, "a@x.com", PurposePasswordReset,
		mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil))

	res, err := te.ConsumeWith(context.Background(), token, FinalizerFunc(func(context.Context, string, []byte) (any, error) {
		return 42, nil
	}))
	if err != nil {
		t.Fatalf("ConsumeWith failed: %v", err)
	}
	if res.Value != 42 || te.resetter.Calls() != 0 {
		t.Fatalf("override not used: %+v", res)
	}
}

func TestInitiateValidation(t *testing.T) {
	cfg := testConfig()
	p := cfg.Purposes[PurposeRegistration]
	p.MaxPayloadBytes = 8
	cfg.Purposes[PurposeRegistration] = p
	te := buildTestEngine(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name    string
		subject string
		purpose Purpose
		payload []byte
		want    error
	}{
		{"missing payload", "a@x.com", PurposeRegistration, nil, ErrPayloadRequired},
		{"payload too large", "a@x.com", PurposeRegistration, []byte("123456789"), ErrPayloadTooLarge},
		{"unknown purpose", "a@x.com", Purpose("email_change"), nil, ErrUnknownPurpose},
		{"empty subject", "", PurposePasswordReset, nil, ErrInvalidSubject},
		{"padded subject", " a@x.com", PurposePasswordReset, nil, ErrInvalidSubject},
		{"control character", "a\n@x.com", PurposePasswordReset, nil, ErrInvalidSubject},
		{"oversized subject", strings.Repeat("a", 321), PurposePasswordReset, nil, ErrInvalidSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := te.Initiate(ctx, tt.subject, tt.purpose, tt.payload); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if te.gateway.Calls() != 0 {
		t.Fatalf("rejected requests must not deliver, got %d", te.gateway.Calls())
	}
}

func TestDeliveryFailureRollsBack(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()
	te.gateway.setFail(errors.New("smtp down"))

	_, err := te.Initiate(ctx, "a@x.com", PurposeRegistration, []byte("p"))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if keys := te.mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no stored state after rollback, got %v", keys)
	}

	te.gateway.setFail(nil)
	mustInitiate(t, te, "a@x.com", PurposeRegistration, []byte("p"))
}

func TestDeliveryTimeoutRollsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Delivery.Timeout = 50 * time.Millisecond
	mr, rdb := newTestRedis(t)

	slow := DeliveryGatewayFunc(func(ctx context.Context, _ string, _ Purpose, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithDeliveryGateway(slow).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	start := time.Now()
	_, err = engine.Initiate(context.Background(), "a@x.com", PurposePasswordReset, nil)
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("delivery timeout not applied")
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected rollback after timeout, got %v", keys)
	}
}

func TestStoredChallengeNeverHoldsRawCode(t *testing.T) {
	te := buildTestEngine(t, testConfig())

	code := mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)
	for _, key := range te.mr.Keys() {
		value, err := te.mr.Get(key)
		if err != nil {
			continue
		}
		if strings.Contains(value, code) {
			t.Fatalf("raw passcode found in %s", key)
		}
	}
}

func TestStatusLifecycle(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()
	subject := "a@x.com"

	status := func() *StatusResult {
		t.Helper()
		s, err := te.Status(ctx, subject, PurposeRegistration)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		return s
	}

	if s := status(); s.State != StateIdle {
		t.Fatalf("expected idle, got %s", s.State)
	}

	code := mustInitiate(t, te, subject, PurposeRegistration, []byte("p"))
	_, _ = te.Verify(ctx, subject, PurposeRegistration, wrongCode(code))

	s := status()
	if s.State != StatePending || s.AttemptsUsed != 1 || s.AttemptsRemaining != 4 {
		t.Fatalf("unexpected pending status: %+v", s)
	}
	if s.ExpiresIn <= 0 || s.ExpiresIn > 10*time.Minute {
		t.Fatalf("unexpected challenge ttl: %s", s.ExpiresIn)
	}

	token := mustVerify(t, te, subject, PurposeRegistration, code)
	s = status()
	if s.State != StateVerified || !s.TokenOutstanding || s.TokenExpiresIn <= 0 {
		t.Fatalf("unexpected verified status: %+v", s)
	}

	if _, err := te.Consume(ctx, token); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if s := status(); s.State != StateIdle || s.TokenOutstanding {
		t.Fatalf("expected idle after consume, got %+v", s)
	}
}

func TestCancelReturnsPairToIdle(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()

	code := mustInitiate(t, te, "a@x.com", PurposeRegistration, []byte("p"))

	removed, err := te.Cancel(ctx, "a@x.com", PurposeRegistration)
	if err != nil || !removed {
		t.Fatalf("expected cancel to remove state, got %v %v", removed, err)
	}
	if _, err := te.Verify(ctx, "a@x.com", PurposeRegistration, code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after cancel, got %v", err)
	}

	removed, err = te.Cancel(ctx, "a@x.com", PurposeRegistration)
	if err != nil || removed {
		t.Fatalf("expected nothing to cancel, got %v %v", removed, err)
	}
	mustInitiate(t, te, "a@x.com", PurposeRegistration, []byte("p"))
}

func TestCancelRevokesOutstandingToken(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	ctx := context.Background()

	token := mustVerify(t, te, "a@x.com", PurposePasswordReset,
		mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil))

	if _, err := te.Cancel(ctx, "a@x.com", PurposePasswordReset); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := te.Consume(ctx, token); !errors.Is(err, ErrTokenAlreadyUsedOrRevoked) {
		t.Fatalf("expected cancelled token revoked, got %v", err)
	}
}

func TestStoreUnavailableIsRetryable(t *testing.T) {
	te := buildTestEngine(t, testConfig())
	te.mr.Close()

	_, err := te.Initiate(context.Background(), "a@x.com", PurposePasswordReset, nil)
	if !errors.Is(err, ErrStoreUnavailable) || !IsRetryable(err) {
		t.Fatalf("expected retryable ErrStoreUnavailable, got %v", err)
	}
	if te.gateway.Calls() != 0 {
		t.Fatal("delivery attempted without stored challenge")
	}
	if err := te.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected Ping to fail, got %v", err)
	}
}

func TestProtocolErrorsAreNotRetryable(t *testing.T) {
	for _, err := range []error{
		ErrChallengeAlreadyActive,
		ErrDeliveryFailed,
		ErrChallengeNotFound,
		ErrAttemptsExceeded,
		&InvalidCodeError{RemainingAttempts: 1},
		ErrTokenInvalid,
		ErrTokenExpired,
		ErrTokenAlreadyUsedOrRevoked,
		ErrFinalizationFailed,
	} {
		if IsRetryable(err) {
			t.Fatalf("%v must not be retryable", err)
		}
	}
}

func TestMetricsCountOutcomes(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	te := buildTestEngine(t, cfg)
	ctx := context.Background()

	code := mustInitiate(t, te, "a@x.com", PurposePasswordReset, nil)
	_, _ = te.Verify(ctx, "a@x.com", PurposePasswordReset, wrongCode(code))
	token := mustVerify(t, te, "a@x.com", PurposePasswordReset, code)
	if _, err := te.Consume(ctx, token); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	_, _ = te.Consume(ctx, token)

	snap := te.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricInitiateSuccess:   1,
		MetricVerifyInvalidCode: 1,
		MetricVerifySuccess:     1,
		MetricConsumeSuccess:    1,
		MetricConsumeFailure:    1,
		MetricReplayDetected:    1,
	}
	for id, n := range want {
		if snap.Counters[id] != n {
			t.Fatalf("metric %d: expected %d, got %d", id, n, snap.Counters[id])
		}
	}

	var observed uint64
	for _, v := range snap.Histograms[MetricVerifyLatency] {
		observed += v
	}
	if observed != 2 {
		t.Fatalf("expected 2 verify latency observations, got %d", observed)
	}
}
