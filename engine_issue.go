package goRotate

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/goRotate/internal/flows"
)

// Issue mints a new access and refresh token pair for user and persists the
// refresh record. Every call starts a new family; only rotation continues
// an existing one.
//
// After the record is stored the user's oldest sessions are evicted until at
// most Config.Session.MaxSessionsPerUser remain. Eviction failures are logged
// and never fail the call.
func (e *Engine) Issue(ctx context.Context, user UserRecord, device DeviceInfo, opts IssueOptions) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if user.UserID == "" {
		e.metricInc(MetricIssueFailure)
		return nil, ErrUserNotFound
	}

	res := flows.RunIssue(ctx, flows.IssueInput{
		UserID:      user.UserID,
		Role:        user.Role,
		UserAgent:   device.UserAgent,
		DeviceID:    device.DeviceID,
		SessionName: opts.SessionName,
		RememberMe:  opts.RememberMe,
	}, e.flows.Issue)

	return e.finishIssue(ctx, res)
}

// finishIssue maps an issue result to the public pair, recording metrics,
// audit events and eviction logs. Rotation reuses it for the successor pair.
func (e *Engine) finishIssue(ctx context.Context, res flows.IssueResult) (*TokenPair, error) {
	fields := auditFields{userID: res.UserID, familyID: res.FamilyID, sessionID: res.TokenID}

	if res.Failure != flows.IssueFailureNone {
		err := mapIssueFailure(res.Failure)
		e.metricInc(MetricIssueFailure)
		if err == ErrUnavailable {
			e.metricInc(MetricStoreUnavailable)
		}
		e.logger.ErrorContext(ctx, "token issue failed",
			slog.String("user_id", res.UserID),
			slog.String("family_id", res.FamilyID),
			slog.Any("error", res.Err),
		)
		e.emitAudit(ctx, auditEventIssueFailed, SeverityInfo, false, fields, err, nil)
		return nil, err
	}

	e.recordEvictions(ctx, res)

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, auditEventTokenIssued, SeverityInfo, true, fields, nil, func() map[string]string {
		return map[string]string{
			"session_name": res.SessionName,
			"new_family":   strconv.FormatBool(res.NewFamily),
		}
	})

	return &TokenPair{
		AccessToken:           res.AccessToken,
		RefreshToken:          res.RefreshToken,
		AccessTokenExpiresAt:  res.AccessExpiresAt,
		RefreshTokenExpiresAt: res.RefreshExpiresAt,
		TokenType:             "Bearer",
		FamilyID:              res.FamilyID,
		SessionID:             res.TokenID,
	}, nil
}

func (e *Engine) recordEvictions(ctx context.Context, res flows.IssueResult) {
	if res.EvictErr != nil {
		e.logger.WarnContext(ctx, "session cap eviction failed",
			slog.String("user_id", res.UserID),
			slog.Any("error", res.EvictErr),
		)
	}
	e.metricAdd(MetricSessionEvicted, len(res.Evicted))
	for _, rec := range res.Evicted {
		e.emitAudit(ctx, auditEventSessionEvicted, SeverityInfo, true, auditFields{
			userID:    rec.UserID,
			familyID:  rec.FamilyID,
			sessionID: rec.ID,
		}, nil, func() map[string]string {
			return map[string]string{
				"session_name": rec.SessionName,
				"reason":       "session_cap",
			}
		})
	}
}

func mapIssueFailure(kind flows.IssueFailureKind) error {
	switch kind {
	case flows.IssueFailureStore:
		return ErrUnavailable
	default:
		return ErrIssuanceFailed
	}
}
