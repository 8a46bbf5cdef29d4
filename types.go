package goRotate

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goRotate/internal/audit"
	internalmetrics "github.com/MrEthical07/goRotate/internal/metrics"
	"github.com/MrEthical07/goRotate/jwt"
)

// TokenPair is returned by [Engine.Issue] and [Engine.Refresh].
//
// FamilyID and SessionID (the refresh token jti) are for server-side
// bookkeeping and are not serialized.
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`

	FamilyID  string `json:"-"`
	SessionID string `json:"-"`
}

// DeviceInfo identifies the client presenting a token. Refresh tokens are
// bound to the fingerprint derived from both fields.
type DeviceInfo struct {
	UserAgent string
	DeviceID  string
}

// IssueOptions tunes a single [Engine.Issue] call.
type IssueOptions struct {
	// SessionName labels the session in [Engine.ListSessions]. Defaults to
	// Config.Session.DefaultSessionName.
	SessionName string
	// RememberMe selects Config.JWT.RememberMeTTL for the refresh token.
	RememberMe bool
}

// UserRecord is the identity a token pair is issued to.
type UserRecord struct {
	UserID string
	Role   string
}

// UserProvider resolves users during rotation. Implementations should return
// [ErrUserNotFound] for unknown or disabled users; any other error is also
// treated as not found unless the lookup timed out.
type UserProvider interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
}

// UserProviderFunc adapts a function to [UserProvider].
type UserProviderFunc func(ctx context.Context, userID string) (UserRecord, error)

// GetUserByID calls f.
func (f UserProviderFunc) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	return f(ctx, userID)
}

// ClaimCodec signs and verifies claim sets. [jwt.Manager] is the default.
type ClaimCodec interface {
	Encode(claims jwt.Claims, ttl time.Duration) (string, error)
	Decode(token string) (*jwt.Claims, error)
}

// Token kinds carried in the "typ" claim.
const (
	TypeAccess  = jwt.TypeAccess
	TypeRefresh = jwt.TypeRefresh
)

// SessionInfo describes one active refresh token, as listed by
// [Engine.ListSessions].
type SessionInfo struct {
	SessionID         string    `json:"session_id"`
	SessionName       string    `json:"session_name"`
	FamilyID          string    `json:"family_id"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	DeviceFingerprint string    `json:"device_fingerprint"`
}

// AuthResult is returned by [Engine.ValidateAccess].
type AuthResult struct {
	UserID    string
	Role      string
	FamilyID  string
	ExpiresAt time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSeverity grades an [AuditEvent].
type AuditSeverity = internalaudit.Severity

const (
	SeverityInfo    = internalaudit.SeverityInfo
	SeverityWarning = internalaudit.SeverityWarning
	SeverityHigh    = internalaudit.SeverityHigh
)

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that writes events to a [slog.Logger].
type SlogSink = internalaudit.SlogSink

// NATSSink is an [AuditSink] that publishes events to NATS.
type NATSSink = internalaudit.NATSSink

// NATSConfig controls subject routing of [NATSSink].
type NATSConfig = internalaudit.NATSConfig

// MultiSink fans every event out to each of its sinks in order.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink]. A nil logger uses [slog.Default].
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// NewNATSSink publishes through an existing NATS connection (or any
// publisher with the same Publish method).
func NewNATSSink(pub internalaudit.Publisher, cfg NATSConfig, logger *slog.Logger) *NATSSink {
	return internalaudit.NewNATSSink(pub, cfg, logger)
}

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricIssueSuccess         = MetricID(internalmetrics.MetricIssueSuccess)
	MetricIssueFailure         = MetricID(internalmetrics.MetricIssueFailure)
	MetricRefreshSuccess       = MetricID(internalmetrics.MetricRefreshSuccess)
	MetricRefreshFailure       = MetricID(internalmetrics.MetricRefreshFailure)
	MetricRefreshReuseDetected = MetricID(internalmetrics.MetricRefreshReuseDetected)
	MetricDeviceMismatch       = MetricID(internalmetrics.MetricDeviceMismatch)
	MetricFamilyRevokedReject  = MetricID(internalmetrics.MetricFamilyRevokedReject)
	MetricTokenRevokedReject   = MetricID(internalmetrics.MetricTokenRevokedReject)
	MetricSessionEvicted       = MetricID(internalmetrics.MetricSessionEvicted)
	MetricRevoke               = MetricID(internalmetrics.MetricRevoke)
	MetricRevokeFamily         = MetricID(internalmetrics.MetricRevokeFamily)
	MetricRevokeAll            = MetricID(internalmetrics.MetricRevokeAll)
	MetricRevokeOthers         = MetricID(internalmetrics.MetricRevokeOthers)
	MetricValidSuccess         = MetricID(internalmetrics.MetricValidSuccess)
	MetricValidFailure         = MetricID(internalmetrics.MetricValidFailure)
	MetricStoreUnavailable     = MetricID(internalmetrics.MetricStoreUnavailable)
	MetricReaperSweep          = MetricID(internalmetrics.MetricReaperSweep)
	MetricReaperDeleted        = MetricID(internalmetrics.MetricReaperDeleted)
	MetricReaperCacheEvicted   = MetricID(internalmetrics.MetricReaperCacheEvicted)
	MetricRefreshRateLimited   = MetricID(internalmetrics.MetricRefreshRateLimited)
	MetricValidateLatency      = MetricID(internalmetrics.MetricValidateLatency)
	MetricRefreshLatency       = MetricID(internalmetrics.MetricRefreshLatency)

	metricIDCount = internalmetrics.MetricIDCount
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance. When Enabled is false, all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
