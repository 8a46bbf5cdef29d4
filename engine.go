package goRotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goRotate/internal"
	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/flows"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/store"
)

// Engine issues, rotates, validates and revokes tokens. Build one with
// [New] and [Builder.Build]; all methods are safe for concurrent use.
type Engine struct {
	config       Config
	codec        ClaimCodec
	store        store.Store
	userProvider UserProvider
	limiter      rate.Limiter
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
	flows        flows.Deps
}

func (e *Engine) initFlows() {
	now := func() time.Time { return e.now() }

	e.flows.Issue = flows.IssueDeps{
		Now:                now,
		NewFamilyID:        internal.NewFamilyID,
		NewTokenID:         internal.NewTokenID,
		Fingerprint:        internal.Fingerprint,
		Encoder:            e.codec,
		Store:              e.store,
		AccessTTL:          e.config.JWT.AccessTTL,
		RefreshTTL:         e.config.JWT.RefreshTTL,
		RememberMeTTL:      e.config.JWT.RememberMeTTL,
		DefaultSessionName: e.config.Session.DefaultSessionName,
		MaxSessions:        e.config.Session.MaxSessionsPerUser,
	}
	e.flows.Refresh = flows.RefreshDeps{
		Now:         now,
		Decode:      e.codec.Decode,
		Fingerprint: internal.Fingerprint,
		LookupUser:  e.lookupUser,
		Store:       e.store,
		Issue: func(ctx context.Context, in flows.IssueInput) flows.IssueResult {
			return flows.RunIssue(ctx, in, e.flows.Issue)
		},
		RefreshTTL:  e.config.JWT.RefreshTTL,
		RateLimiter: e.limiter,
	}
	e.flows.Revoke = flows.RevokeDeps{
		Now:    now,
		Decode: e.codec.Decode,
		Store:  e.store,
	}
	e.flows.Validate = flows.ValidateDeps{
		Decode: e.codec.Decode,
		Store:  e.store,
	}
}

// Close drains the audit dispatcher. The store is owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine's counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics returns the engine's recorder so background tasks such as the
// reaper can count into the same snapshot.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Store returns the engine's token store, wrapped with the configured
// operation timeout. The reaper runs against it.
func (e *Engine) Store() store.Store {
	if e == nil {
		return nil
	}
	return e.store
}

// Health pings the token store.
func (e *Engine) Health(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

// lookupUser resolves a subject under the store operation timeout. Timeouts
// and cancellation surface as store.ErrUnavailable; everything else is a
// missing user.
func (e *Engine) lookupUser(ctx context.Context, userID string) (flows.Subject, error) {
	if timeout := e.config.Store.OperationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return flows.Subject{}, fmt.Errorf("%w: user lookup: %v", store.ErrUnavailable, err)
		}
		return flows.Subject{}, err
	}
	if user.UserID == "" {
		user.UserID = userID
	}
	if user.UserID != userID {
		return flows.Subject{}, errors.New("user provider returned a different user")
	}
	return flows.Subject{ID: user.UserID, Role: user.Role}, nil
}

// Valid reports whether token may still be honoured. Access tokens require a
// live family; refresh tokens also require the absence of a revoked marker.
// Decode failures, missing families and store errors all yield false.
func (e *Engine) Valid(ctx context.Context, token string) bool {
	if e == nil {
		return false
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	res := flows.RunValidate(ctx, token, "", e.flows.Validate)
	if res.Failure == flows.ValidateFailureNone {
		e.metricInc(MetricValidSuccess)
		return true
	}

	e.metricInc(MetricValidFailure)
	if res.Failure == flows.ValidateFailureStore {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "validation store failure", slog.Any("error", res.Err))
	}
	return false
}

// ValidateAccess checks an access token and returns its subject for request
// authorization.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	res := flows.RunValidate(ctx, token, TypeAccess, e.flows.Validate)
	if res.Failure != flows.ValidateFailureNone {
		e.metricInc(MetricValidFailure)
		return nil, e.mapValidateFailure(ctx, res)
	}

	e.metricInc(MetricValidSuccess)
	out := &AuthResult{
		UserID:   res.Claims.Subject,
		Role:     res.Claims.Role,
		FamilyID: res.Claims.Family,
	}
	if res.Claims.ExpiresAt != nil {
		out.ExpiresAt = res.Claims.ExpiresAt.Time
	}
	return out, nil
}

func (e *Engine) mapValidateFailure(ctx context.Context, res flows.ValidateResult) error {
	switch res.Failure {
	case flows.ValidateFailureDecode:
		return ErrInvalidToken
	case flows.ValidateFailureWrongType:
		return ErrWrongTokenType
	case flows.ValidateFailureFamilyRevoked:
		e.metricInc(MetricFamilyRevokedReject)
		return ErrFamilyRevoked
	case flows.ValidateFailureTokenRevoked:
		e.metricInc(MetricTokenRevokedReject)
		return ErrTokenRevoked
	default:
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "validation store failure", slog.Any("error", res.Err))
		return ErrUnavailable
	}
}

// RefreshSessionID returns the jti of a refresh token without consulting the
// store. Use it to find the session to keep in [Engine.RevokeOtherSessions].
func (e *Engine) RefreshSessionID(token string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	claims, err := e.codec.Decode(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if claims.Type != TypeRefresh || claims.ID == "" {
		return "", ErrWrongTokenType
	}
	return claims.ID, nil
}
