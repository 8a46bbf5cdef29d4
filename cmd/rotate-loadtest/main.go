package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goRotate "github.com/MrEthical07/goRotate"
	promexport "github.com/MrEthical07/goRotate/metrics/export/prometheus"
)

// chain is one token family driven by the load test. Rotations on a chain
// are serialized; only the replay phase presents stale tokens.
type chain struct {
	mu      sync.Mutex
	device  goRotate.DeviceInfo
	current *goRotate.TokenPair
	stale   string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of token families to issue")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + refresh)")
		replays     = flag.Int("replays", 100, "stale refresh tokens to replay after rotation")
		backend     = flag.String("backend", "redis", "token store: redis or memory")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "rt", "redis key prefix")
		timeout     = flag.Duration("timeout", 250*time.Millisecond, "per-operation store timeout")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	cfg := goRotate.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("rotate-loadtest-signing-secret-32b")
	cfg.Store.OperationTimeout = *timeout
	cfg.Store.RedisPrefix = *prefix
	cfg.Session.MaxSessionsPerUser = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	b := goRotate.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithUserProvider(goRotate.UserProviderFunc(func(_ context.Context, id string) (goRotate.UserRecord, error) {
			return goRotate.UserRecord{UserID: id, Role: "member"}, nil
		}))

	switch *backend {
	case "memory":
		fmt.Println("using in-memory store")
	case "redis":
		client, cleanup, err := openRedis(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		b = b.WithRedis(client)
	default:
		fmt.Fprintf(os.Stderr, "unknown backend %q\n", *backend)
		os.Exit(2)
	}

	engine, err := b.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promexport.Handler(engine), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		defer func() { _ = srv.Close() }()
		fmt.Printf("serving metrics on %s/metrics\n", *metricsAddr)
	}

	chains := make([]chain, *sessions)
	fmt.Printf("issuing %d families...\n", *sessions)
	issueStats := runPhase(len(chains), *concurrency, func(_ *rand.Rand, i int) error {
		c := &chains[i]
		c.device = goRotate.DeviceInfo{UserAgent: "loadtest", DeviceID: fmt.Sprintf("dev-%d", i)}
		pair, err := engine.Issue(ctx, goRotate.UserRecord{UserID: fmt.Sprintf("u-%d", i%1000)}, c.device, goRotate.IssueOptions{})
		if err != nil {
			return err
		}
		c.current = pair
		return nil
	})

	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		c := &chains[r.Intn(len(chains))]
		c.mu.Lock()
		pair := c.current
		c.mu.Unlock()
		if pair == nil || !engine.Valid(ctx, pair.AccessToken) {
			return errors.New("invalid")
		}
		return nil
	})

	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		c := &chains[r.Intn(len(chains))]
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current == nil {
			return errors.New("no token")
		}
		next, err := engine.Refresh(ctx, c.current.RefreshToken, c.device)
		if err != nil {
			return err
		}
		c.stale = c.current.RefreshToken
		c.current = next
		return nil
	})

	// Every replay must be detected and must take the family down with it.
	replayed := 0
	var missed int64
	replayStats := runPhase(min(*replays, len(chains)), *concurrency, func(_ *rand.Rand, i int) error {
		c := &chains[i]
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stale == "" {
			return nil
		}
		_, err := engine.Refresh(ctx, c.stale, c.device)
		if !errors.Is(err, goRotate.ErrTokenReused) {
			atomic.AddInt64(&missed, 1)
			return fmt.Errorf("replay not detected: %v", err)
		}
		if engine.Valid(ctx, c.current.AccessToken) {
			atomic.AddInt64(&missed, 1)
			return errors.New("family survived reuse")
		}
		return nil
	})
	for i := range min(*replays, len(chains)) {
		if chains[i].stale != "" {
			replayed++
		}
	}

	fmt.Println("---- results ----")
	printStats("issue", issueStats)
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	printStats("replay", replayStats)
	fmt.Printf("replayed=%d undetected=%d\n", replayed, missed)

	snapshot := engine.MetricsSnapshot()
	fmt.Printf("engine: issued=%d rotated=%d reuse=%d store_unavailable=%d audit_dropped=%d\n",
		snapshot.Counters[goRotate.MetricIssueSuccess],
		snapshot.Counters[goRotate.MetricRefreshSuccess],
		snapshot.Counters[goRotate.MetricRefreshReuseDetected],
		snapshot.Counters[goRotate.MetricStoreUnavailable],
		engine.AuditDropped(),
	)

	if missed > 0 {
		os.Exit(1)
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
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
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase calls op n times across concurrency workers and records the
// latency of each call.
func runPhase(n, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, n/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					break
				}
				t0 := time.Now()
				err := op(r, i)
				local = append(local, time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-8s ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
