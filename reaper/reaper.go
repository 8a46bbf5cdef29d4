package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goRotate/internal/metrics"
	"github.com/MrEthical07/goRotate/store"
)

// ErrRunning is returned by Start when the reaper is already running.
var ErrRunning = errors.New("reaper: already running")

// Target is the store surface the slow tier sweeps. Targets that also
// implement [store.CacheSweeper] get the fast tier.
type Target interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (store.SweepStats, error)
}

// Config controls sweep cadence.
type Config struct {
	// Interval between slow-tier sweeps. Defaults to one hour.
	Interval time.Duration
	// CacheInterval between fast-tier sweeps. Defaults to one minute; a
	// negative value disables the fast tier.
	CacheInterval time.Duration
	// Grace keeps state around for this long after it expires.
	Grace time.Duration
	// SweepTimeout bounds a single slow-tier sweep. Zero means no bound.
	SweepTimeout time.Duration
}

// DefaultConfig returns the hourly/minutely schedule with no grace.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Hour,
		CacheInterval: time.Minute,
	}
}

// Stats summarises the sweeps performed so far.
type Stats struct {
	Sweeps       uint64
	Failures     uint64
	CacheSweeps  uint64
	CacheEvicted uint64
	Deleted      store.SweepStats
	LastSweep    time.Time
	LastError    error
}

// Option customises a [Reaper].
type Option func(*Reaper)

// WithLogger sets the logger used for sweep results. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics counts sweeps into m, typically the engine's recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// Reaper periodically removes expired token state from a [Target].
type Reaper struct {
	target  Target
	sweeper store.CacheSweeper
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   Stats
	sweepMu sync.Mutex
}

// New returns a stopped reaper for target.
func New(target Target, cfg Config, opts ...Option) *Reaper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CacheInterval == 0 {
		cfg.CacheInterval = def.CacheInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}

	r := &Reaper{
		target: target,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	if sweeper, ok := target.(store.CacheSweeper); ok && cfg.CacheInterval > 0 {
		r.sweeper = sweeper
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep loops. They run until ctx is done or Stop is
// called. The first slow sweep happens after one Interval.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(ctx, r.cfg.Interval, func(ctx context.Context) {
		_, _ = r.SweepOnce(ctx)
	})

	if r.sweeper != nil {
		r.wg.Add(1)
		go r.loop(ctx, r.cfg.CacheInterval, func(context.Context) {
			r.SweepCacheOnce()
		})
	}

	r.logger.Info("reaper started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Duration("cache_interval", r.cfg.CacheInterval),
		slog.Bool("cache_tier", r.sweeper != nil),
	)
	return nil
}

// Stop cancels the loops and waits for an in-flight sweep to finish. It is
// safe to call on a stopped reaper.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

func (r *Reaper) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce runs one slow-tier pass with cutoff now minus Grace. Concurrent
// calls are serialised.
func (r *Reaper) SweepOnce(ctx context.Context) (store.SweepStats, error) {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	if r.cfg.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SweepTimeout)
		defer cancel()
	}

	now := r.now()
	cutoff := now.Add(-r.cfg.Grace)
	start := time.Now()
	deleted, err := r.target.DeleteExpired(ctx, cutoff)

	r.mu.Lock()
	r.stats.Sweeps++
	r.stats.LastSweep = now
	r.stats.LastError = err
	r.stats.Deleted.Add(deleted)
	if err != nil {
		r.stats.Failures++
	}
	r.mu.Unlock()

	r.metrics.Inc(metrics.MetricReaperSweep)
	r.metrics.Add(metrics.MetricReaperDeleted, uint64(deleted.Records+deleted.Markers+deleted.Families))

	if err != nil {
		r.logger.WarnContext(ctx, "reaper sweep failed",
			slog.Time("cutoff", cutoff),
			slog.Int("records", deleted.Records),
			slog.Any("error", err),
		)
		return deleted, err
	}

	r.logger.DebugContext(ctx, "reaper sweep",
		slog.Time("cutoff", cutoff),
		slog.Int("records", deleted.Records),
		slog.Int("markers", deleted.Markers),
		slog.Int("families", deleted.Families),
		slog.Int("index_entries", deleted.IndexEntries),
		slog.Duration("took", time.Since(start)),
	)
	return deleted, nil
}

// SweepCacheOnce runs one fast-tier pass and returns the number of cache
// entries dropped. It is a no-op when the target has no cache tier.
func (r *Reaper) SweepCacheOnce() int {
	if r.sweeper == nil {
		return 0
	}

	n := r.sweeper.SweepCache(r.now().Add(-r.cfg.Grace))

	r.mu.Lock()
	r.stats.CacheSweeps++
	r.stats.CacheEvicted += uint64(n)
	r.mu.Unlock()

	if n > 0 {
		r.metrics.Add(metrics.MetricReaperCacheEvicted, uint64(n))
	}
	return n
}

// Stats returns a copy of the sweep counters.
func (r *Reaper) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
