package main

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/edelzer/authgate"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type subjectState struct {
	subject string
	access  string
	refresh string
	session string
	mu      sync.Mutex
}

type options struct {
	subjects    int
	concurrency int
	ops         int
	qps         float64
	ipPool      int
	rateLimit   bool
}

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of subjects to seed with a token pair and a session")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		qps         = flag.Float64("qps", 0, "global request pacing per phase; 0 disables pacing")
		ipPool      = flag.Int("ip-pool", 4096, "number of distinct client IPs to spread requests over")
		rateLimit   = flag.Bool("rate-limit", true, "run the rate limiter on every check")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	o := options{
		subjects:    *subjects,
		concurrency: *concurrency,
		ops:         *ops,
		qps:         *qps,
		ipPool:      *ipPool,
		rateLimit:   *rateLimit,
	}
	if o.subjects <= 0 || o.concurrency <= 0 || o.ops <= 0 || o.ipPool <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, ops and ip-pool must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := newEngine(ctx, client, o.rateLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine setup failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]subjectState, o.subjects)
	fmt.Printf("seeding %d subjects...\n", o.subjects)
	startSeed := time.Now()
	for i := range states {
		if err := seed(ctx, engine, &states[i], i); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	bearerStats := runPhase(ctx, o, states, func(ctx context.Context, s *subjectState, ip string) error {
		_, _, err := engine.Check(ctx, authgate.Request{Method: "GET", Path: "/api/v1/users/me", ClientIP: ip, BearerToken: s.access})
		return err
	})
	sessionStats := runPhase(ctx, o, states, func(ctx context.Context, s *subjectState, ip string) error {
		_, _, err := engine.Check(ctx, authgate.Request{Method: "GET", Path: "/api/v1/users/me", ClientIP: ip, SessionID: s.session})
		return err
	})
	refreshStats := runPhase(ctx, o, states, func(ctx context.Context, s *subjectState, _ string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.refresh, "")
		if err != nil {
			return err
		}
		s.access = pair.Access.Value
		s.refresh = pair.Refresh.Value
		return nil
	})

	fmt.Println("---- results ----")
	printStats("check-bearer", bearerStats)
	printStats("check-session", sessionStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("allowed=%d rate_limited=%d burst_limited=%d degraded=%d\n",
		snap.Counters[authgate.MetricCheckAllowed],
		snap.Counters[authgate.MetricRateLimited],
		snap.Counters[authgate.MetricBurstLimited],
		snap.Counters[authgate.MetricRateLimitDegraded],
	)
}

func newEngine(ctx context.Context, client redis.UniversalClient, rateLimit bool) (*authgate.Engine, error) {
	secret := make([]byte, 32)
	if _, err := cryptorand.Read(secret); err != nil {
		return nil, err
	}
	cfg := authgate.DefaultConfig()
	cfg.JWT.PrivateKey = secret
	cfg.RateLimit.Enabled = rateLimit

	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		return nil, err
	}
	if err := engine.Init(ctx); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func seed(ctx context.Context, engine *authgate.Engine, s *subjectState, i int) error {
	s.subject = fmt.Sprintf("load-%d", i)
	pair, err := engine.IssueTokens(ctx, s.subject, authgate.IssueOptions{Roles: []string{"user"}})
	if err != nil {
		return err
	}
	s.access = pair.Access.Value
	s.refresh = pair.Refresh.Value
	s.session, err = engine.CreateSession(ctx, s.subject, map[string]any{"roles": []string{"user"}})
	return err
}

type opFunc func(ctx context.Context, s *subjectState, ip string) error

func runPhase(ctx context.Context, o options, states []subjectState, op opFunc) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		denied    int64
		latencies = make([]time.Duration, 0, o.ops)
		mu        sync.Mutex
	)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if o.qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.qps), o.concurrency)
	}

	start := time.Now()
	for w := 0; w < o.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= o.ops {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				s := &states[r.Intn(len(states))]
				ip := clientIP(r.Intn(o.ipPool))

				t0 := time.Now()
				err := op(ctx, s, ip)
				d := time.Since(t0)
				switch {
				case err == nil:
				case errors.Is(err, authgate.ErrRateLimited):
					atomic.AddInt64(&denied, 1)
				default:
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	stats := computeStats(total, latencies, failures)
	stats.rateLimited = denied
	return stats
}

func clientIP(n int) string {
	return fmt.Sprintf("10.%d.%d.%d", (n>>16)&0xFF, (n>>8)&0xFF, n&0xFF)
}

type phaseStats struct {
	total       time.Duration
	ops         int
	failures    int64
	rateLimited int64
	p50         time.Duration
	p95         time.Duration
	p99         time.Duration
	opsPerS     float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d rate_limited=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.rateLimited,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
