package goRotate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every tunable of an [Engine]. Start from [DefaultConfig] and
// override fields; [Builder.Build] validates the result.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Store    StoreConfig
	Throttle ThrottleConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token lifetimes and the signing keys.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls per-user session bookkeeping.
type SessionConfig struct {
	// MaxSessionsPerUser caps active refresh tokens per user. Zero disables the cap.
	MaxSessionsPerUser int
	DefaultSessionName string
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the token store the builder assembles.
type StoreConfig struct {
	// OperationTimeout bounds every store and user provider call.
	OperationTimeout time.Duration
	// LocalRevocationCache keeps revoked families and markers in process memory.
	LocalRevocationCache bool
	MemoryShards         int
	RedisPrefix          string
	// RedisRetention is how long Redis keeps keys past their expiry so the
	// reaper, not key eviction, removes them.
	RedisRetention time.Duration
}

// ThrottleConfig limits refresh attempts per token family in a fixed window.
// The counters live in Redis when the engine is built with one, in process
// memory otherwise.
type ThrottleConfig struct {
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Signing keys are left
// empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "gorotate",
		},
		Session: SessionConfig{
			MaxSessionsPerUser: 10,
			DefaultSessionName: "default",
		},
		Store: StoreConfig{
			OperationTimeout: 50 * time.Millisecond,
			MemoryShards:     32,
			RedisPrefix:      "rt",
			RedisRetention:   time.Hour,
		},
		Throttle: ThrottleConfig{
			EnableRefreshThrottle:   false,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
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
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
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

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	return c.validate(false)
}

// validate skips the key checks when the caller plugs in its own ClaimCodec.
func (c *Config) validate(codecSupplied bool) error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RememberMeTTL < c.JWT.RefreshTTL {
		return errors.New("JWT RememberMeTTL must be >= RefreshTTL")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	if !codecSupplied {
		switch c.JWT.SigningMethod {
		case "ed25519":
			if len(c.JWT.PrivateKey) == 0 {
				return errors.New("ed25519 requires PrivateKey")
			}
			if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
				return errors.New("ed25519 requires PublicKey or VerifyKeys")
			}
		case "hs256":
			if len(c.JWT.PrivateKey) < 32 {
				return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
			}
		default:
			return errors.New("unsupported JWT signing method")
		}
	}

	// Session
	if c.Session.MaxSessionsPerUser < 0 {
		return errors.New("Session MaxSessionsPerUser must be >= 0")
	}
	if strings.TrimSpace(c.Session.DefaultSessionName) == "" {
		return errors.New("Session DefaultSessionName must not be empty")
	}
	if len(c.Session.DefaultSessionName) > 255 {
		return errors.New("Session DefaultSessionName must be at most 255 bytes")
	}

	// Store
	if c.Store.OperationTimeout < 0 {
		return errors.New("Store OperationTimeout must be >= 0")
	}
	if c.Store.MemoryShards < 0 {
		return errors.New("Store MemoryShards must be >= 0")
	}
	if c.Store.RedisRetention < 0 {
		return errors.New("Store RedisRetention must be >= 0")
	}
	if strings.ContainsAny(c.Store.RedisPrefix, " \t\r\n") {
		return fmt.Errorf("Store RedisPrefix %q must not contain whitespace", c.Store.RedisPrefix)
	}

	// Throttle
	if c.Throttle.EnableRefreshThrottle {
		if c.Throttle.MaxRefreshAttempts <= 0 {
			return errors.New("Throttle MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Throttle.RefreshCooldownDuration <= 0 {
			return errors.New("Throttle RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
