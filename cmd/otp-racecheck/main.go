// Command otp-racecheck hammers the verify and consume paths with concurrent
// callers and reports any pair that was redeemed more than once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		pairs       = flag.Int("pairs", 500, "number of (subject, purpose) pairs to race")
		concurrency = flag.Int("concurrency", 16, "concurrent verify and consume callers per pair")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "otprace", "store key prefix")
	)
	flag.Parse()

	if *pairs <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "pairs and concurrency must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	h, err := newHarness(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer h.engine.Close()

	ctx := context.Background()
	subjects := make([]string, *pairs)
	startSeed := time.Now()
	for i := range subjects {
		subjects[i] = fmt.Sprintf("race-%d-%d@example.com", time.Now().UnixNano(), i)
		if _, err := h.engine.Initiate(ctx, subjects[i], goOTP.PurposePasswordReset, nil); err != nil {
			fmt.Fprintf(os.Stderr, "initiate failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("initiated %d pairs in %s\n", *pairs, time.Since(startSeed).Round(time.Millisecond))

	verify := h.raceVerify(ctx, subjects, *concurrency)
	consume := h.raceConsume(ctx, verify.tokens, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verify.stats)
	printStats("consume", consume)

	doubles := verify.doubles + h.doubleFinalized()
	if doubles > 0 {
		fmt.Printf("FAIL: %d double redemptions\n", doubles)
		os.Exit(1)
	}
	fmt.Println("ok: every pair redeemed exactly once")
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type harness struct {
	engine *goOTP.Engine

	mu        sync.Mutex
	codes     map[string]string
	finalized map[string]int
}

func newHarness(client redis.UniversalClient, prefix string) (*harness, error) {
	h := &harness{codes: map[string]string{}, finalized: map[string]int{}}

	cfg := goOTP.DefaultConfig()
	cfg.Store.Prefix = prefix
	cfg.Token.PrivateKey = []byte("otp-racecheck-signing-secret-0123456789")
	cfg.Hashing.CodePepper = []byte("otp-racecheck-pepper")

	engine, err := goOTP.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))).
		WithDeliveryGateway(goOTP.DeliveryGatewayFunc(func(_ context.Context, subject string, _ goOTP.Purpose, code string) error {
			h.mu.Lock()
			h.codes[subject] = code
			h.mu.Unlock()
			return nil
		})).
		WithFinalizer(goOTP.PurposePasswordReset, goOTP.FinalizerFunc(func(_ context.Context, subject string, _ []byte) (any, error) {
			h.mu.Lock()
			h.finalized[subject]++
			h.mu.Unlock()
			return nil, nil
		})).
		Build()
	if err != nil {
		return nil, err
	}
	h.engine = engine
	return h, nil
}

func (h *harness) code(subject string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.codes[subject]
}

func (h *harness) doubleFinalized() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for subject, count := range h.finalized {
		if count > 1 {
			fmt.Printf("finalizer ran %d times for %s\n", count, subject)
			n++
		}
	}
	return n
}

type verifyOutcome struct {
	stats   phaseStats
	tokens  []string
	doubles int
}

// raceVerify submits the right code concurrently for every pair. Exactly one
// caller per pair may win.
func (h *harness) raceVerify(ctx context.Context, subjects []string, concurrency int) verifyOutcome {
	var (
		rec     recorder
		doubles int64
		tokens  = make([]string, len(subjects))
	)

	start := time.Now()
	for i, subject := range subjects {
		code := h.code(subject)
		var (
			wg   sync.WaitGroup
			wins int64
			gate = make(chan struct{})
		)
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				res, err := h.engine.Verify(ctx, subject, goOTP.PurposePasswordReset, code)
				rec.add(time.Since(t0), err != nil && !errors.Is(err, goOTP.ErrChallengeNotFound))
				if err == nil {
					if atomic.AddInt64(&wins, 1) == 1 {
						tokens[i] = res.StagedToken
					}
				}
			}()
		}
		close(gate)
		wg.Wait()
		if wins != 1 {
			fmt.Printf("pair %s produced %d tokens\n", subject, wins)
		}
		if wins > 1 {
			doubles++
		}
	}
	return verifyOutcome{stats: rec.stats(time.Since(start)), tokens: tokens, doubles: int(doubles)}
}

// raceConsume presents every staged token from concurrent callers.
func (h *harness) raceConsume(ctx context.Context, tokens []string, concurrency int) phaseStats {
	var rec recorder
	start := time.Now()
	for _, token := range tokens {
		if token == "" {
			continue
		}
		var (
			wg   sync.WaitGroup
			gate = make(chan struct{})
		)
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				_, err := h.engine.Consume(ctx, token)
				rec.add(time.Since(t0), err != nil && !errors.Is(err, goOTP.ErrTokenAlreadyUsedOrRevoked))
			}()
		}
		close(gate)
		wg.Wait()
	}
	return rec.stats(time.Since(start))
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int64
}

// add records one call. Losing a race is expected; failed marks anything else.
func (r *recorder) add(d time.Duration, failed bool) {
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	if failed {
		r.failures++
	}
	r.mu.Unlock()
}

func (r *recorder) stats(total time.Duration) phaseStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return computeStats(total, r.latencies, r.failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d unexpected_errors=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
