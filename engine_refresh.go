package goRotate

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goRotate/internal/flows"
)

// Refresh redeems a refresh token and returns its successor pair in the same
// family. Checks run in a fixed order:
//
//  1. the token decodes, otherwise [ErrInvalidToken]
//  2. it is a refresh token, otherwise [ErrWrongTokenType]
//     (with the throttle enabled, its family is within budget, otherwise [ErrRateLimited])
//  3. its record exists, otherwise [ErrTokenNotFound]
//  4. it was never redeemed, otherwise the family is revoked and [ErrTokenReused]
//  5. its family is live, otherwise [ErrFamilyRevoked]
//  6. it was not revoked on its own, otherwise [ErrTokenRevoked]
//  7. device matches the bound fingerprint, otherwise [ErrDeviceMismatch]
//  8. the subject still exists, otherwise [ErrUserNotFound]
//
// The token is then marked used with a single test-and-set. Losing that race
// to a concurrent redemption counts as reuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, device DeviceInfo) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricRefreshLatency, time.Since(start)) }()
	}

	res := flows.RunRefresh(ctx, flows.RefreshInput{
		Token:     refreshToken,
		UserAgent: device.UserAgent,
		DeviceID:  device.DeviceID,
	}, e.flows.Refresh)

	if res.Failure == flows.RefreshFailureNone {
		pair, err := e.finishIssue(ctx, res.Issue)
		if err != nil {
			e.metricInc(MetricRefreshFailure)
			return nil, err
		}
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventTokenRefreshed, SeverityInfo, true, auditFields{
			userID:    res.UserID,
			familyID:  res.FamilyID,
			sessionID: pair.SessionID,
		}, nil, func() map[string]string {
			return map[string]string{"previous_session_id": res.TokenID}
		})
		return pair, nil
	}

	e.metricInc(MetricRefreshFailure)
	return nil, e.refreshFailure(ctx, res)
}

func (e *Engine) refreshFailure(ctx context.Context, res flows.RefreshResult) error {
	fields := auditFields{userID: res.UserID, familyID: res.FamilyID, sessionID: res.TokenID}
	attrs := []any{
		slog.String("user_id", res.UserID),
		slog.String("family_id", res.FamilyID),
		slog.String("session_id", res.TokenID),
	}

	switch res.Failure {
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		if res.RevokeErr != nil {
			e.metricInc(MetricStoreUnavailable)
			e.logger.ErrorContext(ctx, "family revocation after reuse failed", append(attrs, slog.Any("error", res.RevokeErr))...)
		}
		e.logger.ErrorContext(ctx, "refresh token reuse detected", append(attrs, slog.Bool("family_revoked", res.FamilyRevoked))...)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, SeverityHigh, false, fields, ErrTokenReused, func() map[string]string {
			return map[string]string{"family_revoked": strconv.FormatBool(res.FamilyRevoked)}
		})
		if res.FamilyRevoked {
			e.emitAudit(ctx, auditEventFamilyRevoked, SeverityHigh, true, fields, nil, func() map[string]string {
				return map[string]string{"reason": "reuse_detected"}
			})
		}
		return ErrTokenReused

	case flows.RefreshFailureDeviceMismatch:
		e.metricInc(MetricDeviceMismatch)
		e.logger.WarnContext(ctx, "refresh device mismatch", attrs...)
		e.emitAudit(ctx, auditEventDeviceMismatch, SeverityWarning, false, fields, ErrDeviceMismatch, nil)
		return ErrDeviceMismatch

	case flows.RefreshFailureFamilyRevoked:
		e.metricInc(MetricFamilyRevokedReject)
		e.logger.WarnContext(ctx, "refresh on revoked family", attrs...)
		e.emitAudit(ctx, auditEventRefreshInvalid, SeverityWarning, false, fields, ErrFamilyRevoked, nil)
		return ErrFamilyRevoked

	case flows.RefreshFailureTokenRevoked:
		e.metricInc(MetricTokenRevokedReject)
		e.logger.WarnContext(ctx, "refresh on revoked token", attrs...)
		e.emitAudit(ctx, auditEventRefreshInvalid, SeverityWarning, false, fields, ErrTokenRevoked, nil)
		return ErrTokenRevoked

	case flows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		e.logger.WarnContext(ctx, "refresh throttled", attrs...)
		e.emitAudit(ctx, auditEventRefreshRateLimited, SeverityWarning, false, fields, ErrRateLimited, nil)
		return ErrRateLimited

	case flows.RefreshFailureStore:
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "refresh backend failure", append(attrs, slog.Any("error", res.Err))...)
		e.emitAudit(ctx, auditEventRefreshInvalid, SeverityInfo, false, fields, ErrUnavailable, nil)
		return ErrUnavailable

	case flows.RefreshFailureIssue:
		// The presented token is already consumed; the client must log in again.
		_, err := e.finishIssue(ctx, res.Issue)
		return err
	}

	var err error
	switch res.Failure {
	case flows.RefreshFailureDecode:
		err = ErrInvalidToken
	case flows.RefreshFailureWrongType:
		err = ErrWrongTokenType
	case flows.RefreshFailureNotFound:
		err = ErrTokenNotFound
	case flows.RefreshFailureUserNotFound:
		err = ErrUserNotFound
	default:
		err = ErrInvalidToken
	}
	e.logger.DebugContext(ctx, "refresh rejected", append(attrs, slog.String("reason", string(auditErrorCode(err))))...)
	e.emitAudit(ctx, auditEventRefreshInvalid, SeverityInfo, false, fields, err, nil)
	return err
}
