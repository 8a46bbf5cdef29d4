package goRotate

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/goRotate/internal/flows"
)

// Revoke invalidates a single refresh token by storing a revoked marker for
// its jti. Access tokens are left to expire on their own. Malformed or expired
// tokens are treated as already revoked, so Revoke is idempotent.
func (e *Engine) Revoke(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	res := flows.RunRevoke(ctx, token, e.flows.Revoke)
	if res.Outcome != flows.RevokeMarked {
		return nil
	}

	fields := auditFields{userID: res.UserID, familyID: res.FamilyID, sessionID: res.TokenID}
	if res.Err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "token revoke failed",
			slog.String("session_id", res.TokenID),
			slog.Any("error", res.Err),
		)
		e.emitAudit(ctx, auditEventTokenRevoked, SeverityInfo, false, fields, ErrUnavailable, nil)
		return ErrUnavailable
	}

	e.metricInc(MetricRevoke)
	e.emitAudit(ctx, auditEventTokenRevoked, SeverityInfo, true, fields, nil, nil)
	return nil
}

// RevokeAllUserTokens revokes every family of userID and deletes all of the
// user's refresh records. Access tokens already handed out fail validation
// from then on because their family is revoked.
func (e *Engine) RevokeAllUserTokens(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	res := flows.RunRevokeAll(ctx, userID, e.flows.Revoke)
	fields := auditFields{userID: userID}
	meta := func() map[string]string {
		return map[string]string{
			"families_revoked": strconv.Itoa(res.FamiliesRevoked),
			"records_deleted":  strconv.Itoa(res.RecordsDeleted),
		}
	}

	if res.Err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "revoke all user tokens failed",
			slog.String("user_id", userID),
			slog.Any("error", res.Err),
		)
		e.emitAudit(ctx, auditEventUserTokensRevoked, SeverityWarning, false, fields, ErrUnavailable, meta)
		return ErrUnavailable
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventUserTokensRevoked, SeverityWarning, true, fields, nil, meta)
	return nil
}

// RevokeOtherSessions revokes every session of userID except the one whose
// refresh token has jti keepJTI; that session's family stays valid. When
// keepJTI is unknown or belongs to another user every session is revoked.
func (e *Engine) RevokeOtherSessions(ctx context.Context, userID, keepJTI string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	res := flows.RunRevokeOthers(ctx, userID, keepJTI, e.flows.Revoke)
	fields := auditFields{userID: userID, familyID: res.KeptFamily, sessionID: keepJTI}
	meta := func() map[string]string {
		return map[string]string{
			"records_revoked":  strconv.Itoa(res.RecordsRevoked),
			"families_revoked": strconv.Itoa(res.FamiliesRevoked),
		}
	}

	if res.Err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "revoke other sessions failed",
			slog.String("user_id", userID),
			slog.Any("error", res.Err),
		)
		e.emitAudit(ctx, auditEventOtherSessionsRevoked, SeverityInfo, false, fields, ErrUnavailable, meta)
		return ErrUnavailable
	}

	e.metricInc(MetricRevokeOthers)
	e.emitAudit(ctx, auditEventOtherSessionsRevoked, SeverityInfo, true, fields, nil, meta)
	return nil
}

// RevokeFamily revokes every token of one family. It is an administrative
// action and succeeds for unknown or already revoked families.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	changed, err := flows.RunRevokeFamily(ctx, familyID, e.flows.Revoke)
	fields := auditFields{familyID: familyID}
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "family revoke failed",
			slog.String("family_id", familyID),
			slog.Any("error", err),
		)
		e.emitAudit(ctx, auditEventFamilyRevoked, SeverityWarning, false, fields, ErrUnavailable, nil)
		return ErrUnavailable
	}

	if changed {
		e.metricInc(MetricRevokeFamily)
		e.emitAudit(ctx, auditEventFamilyRevoked, SeverityWarning, true, fields, nil, func() map[string]string {
			return map[string]string{"reason": "admin"}
		})
	}
	return nil
}

// ListSessions returns the user's active sessions, newest first. A session is
// active while its refresh token is unused, unexpired, not revoked and its
// family is live.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	recs, err := flows.RunListSessions(ctx, userID, e.flows.Revoke)
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "list sessions failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return nil, ErrUnavailable
	}

	out := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SessionInfo{
			SessionID:         rec.ID,
			SessionName:       rec.SessionName,
			FamilyID:          rec.FamilyID,
			CreatedAt:         rec.CreatedAt,
			ExpiresAt:         rec.ExpiresAt,
			DeviceFingerprint: rec.DeviceFingerprint,
		})
	}
	return out, nil
}
