package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	natspkg "github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject prefix used when NATSConfig.Subject is empty.
const DefaultNATSSubject = "gorotate.audit"

// Publisher is the subset of [*natspkg.Conn] used by [NATSSink].
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*natspkg.Conn)(nil)

// NATSConfig controls subject routing of [NATSSink].
type NATSConfig struct {
	// Subject is the prefix; events go to "<Subject>.<event_type>".
	Subject string
	// MinSeverity drops events graded below it. Empty publishes everything.
	MinSeverity Severity
}

// NATSSink publishes JSON-encoded events to NATS so other services can react
// to security events such as reuse detection.
type NATSSink struct {
	pub    Publisher
	cfg    NATSConfig
	logger *slog.Logger
}

// NewNATSSink wraps pub. Publish failures are logged to logger and dropped.
func NewNATSSink(pub Publisher, cfg NATSConfig, logger *slog.Logger) *NATSSink {
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{pub: pub, cfg: cfg, logger: logger}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(event Event) string {
	kind := strings.ReplaceAll(event.EventType, ".", "_")
	if kind == "" {
		kind = "unknown"
	}
	return s.cfg.Subject + "." + kind
}

func (s *NATSSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.pub == nil {
		return
	}
	if severityRank(event.Severity) < severityRank(s.cfg.MinSeverity) {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "audit encode failed",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.pub.Publish(s.Subject(event), data); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}
