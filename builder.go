package goRotate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// [Builder.Build] once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store
	codec  ClaimCodec

	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore uses st as the token store. It takes precedence over WithRedis.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithRedis backs the token store with Redis instead of process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCodec replaces the built-in JWT codec. Signing keys in the config are
// then ignored.
func (b *Builder) WithCodec(codec ClaimCodec) *Builder {
	b.codec = codec
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets the destination of audit events and enables the
// dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
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

// Build validates the configuration and returns a ready engine. A builder
// can be used only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.validate(b.codec != nil); err != nil {
		return nil, err
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	// -------- CLAIM CODEC --------
	codec := b.codec
	if codec == nil {
		jm, err := jwt.NewManager(jwt.Config{
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
			RequireIAT:    true,
			KeyID:         cfg.JWT.KeyID,
			VerifyKeys:    cfg.JWT.VerifyKeys,
		})
		if err != nil {
			return nil, err
		}
		codec = jm
	}

	// -------- TOKEN STORE --------
	st := b.store
	if st == nil {
		if b.redis != nil {
			st = store.NewRedis(b.redis, store.RedisConfig{
				Prefix:    cfg.Store.RedisPrefix,
				Retention: cfg.Store.RedisRetention,
			})
		} else {
			st = store.NewMemory(store.MemoryConfig{Shards: cfg.Store.MemoryShards})
		}
	}
	if cfg.Store.LocalRevocationCache {
		st = store.NewCached(st)
	}
	st = store.WithTimeout(st, cfg.Store.OperationTimeout)

	// -------- REFRESH THROTTLE --------
	var limiter rate.Limiter
	if cfg.Throttle.EnableRefreshThrottle {
		rcfg := rate.Config{
			MaxAttempts: cfg.Throttle.MaxRefreshAttempts,
			Window:      cfg.Throttle.RefreshCooldownDuration,
			Prefix:      cfg.Store.RedisPrefix,
			Timeout:     cfg.Store.OperationTimeout,
		}
		if b.redis != nil && b.store == nil {
			limiter = rate.NewRedis(b.redis, rcfg)
		} else {
			limiter = rate.NewMemory(rcfg, nil)
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		codec:        codec,
		store:        st,
		userProvider: b.userProvider,
		limiter:      limiter,
		logger:       logger,
		now:          time.Now,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.initFlows()

	b.built = true

	return engine, nil
}
