package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureWrongType
	RefreshFailureNotFound
	RefreshFailureReuse
	RefreshFailureFamilyRevoked
	RefreshFailureTokenRevoked
	RefreshFailureDeviceMismatch
	RefreshFailureRateLimited
	RefreshFailureUserNotFound
	RefreshFailureStore
	RefreshFailureIssue
)

// Subject is the resolved identity a refreshed pair is issued to.
type Subject struct {
	ID   string
	Role string
}

// RefreshStore is the store surface used by rotation.
type RefreshStore interface {
	GetRecord(ctx context.Context, jti string) (store.RefreshRecord, error)
	GetFamily(ctx context.Context, familyID string) (store.Family, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
	MarkUsed(ctx context.Context, jti string, now time.Time) error
	RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error)
}

// RefreshInput is the presented token plus the caller's current device.
type RefreshInput struct {
	Token     string
	UserAgent string
	DeviceID  string
}

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error

	UserID   string
	FamilyID string
	TokenID  string

	// FamilyRevoked is true when this call revoked the family on reuse.
	FamilyRevoked bool
	// RevokeErr is set when revoking the family on reuse failed.
	RevokeErr error

	Issue IssueResult
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now         func() time.Time
	Decode      func(string) (*jwt.Claims, error)
	Fingerprint func(userAgent, deviceID string) string
	// LookupUser resolves sub. Errors wrapping store.ErrUnavailable are
	// reported as a store failure, any other error as user-not-found.
	LookupUser func(context.Context, string) (Subject, error)
	Store      RefreshStore
	Issue      func(context.Context, IssueInput) IssueResult
	// RateLimiter is optional and is consulted before any store read.
	RateLimiter rate.Limiter
	// RefreshTTL is the standard refresh lifetime. A record that outlived it
	// was issued with remember-me, and its successor keeps that lifetime.
	RefreshTTL time.Duration
}

// RunRefresh executes the rotation chain. Checks run in a fixed order and the
// first failing check decides the result. No store lock is held across
// LookupUser; the used flag is flipped by a single MarkUsed test-and-set.
func RunRefresh(ctx context.Context, in RefreshInput, deps RefreshDeps) RefreshResult {
	claims, err := deps.Decode(in.Token)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	res := RefreshResult{
		UserID:   claims.Subject,
		FamilyID: claims.Family,
		TokenID:  claims.ID,
	}

	if claims.Type != jwt.TypeRefresh {
		res.Failure = RefreshFailureWrongType
		return res
	}
	if claims.ID == "" {
		res.Failure, res.Err = RefreshFailureDecode, errors.New("refresh token without jti")
		return res
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, claims.Family); err != nil {
			res.Err = err
			if errors.Is(err, rate.ErrRateLimited) {
				res.Failure = RefreshFailureRateLimited
			} else {
				res.Failure = RefreshFailureStore
			}
			return res
		}
	}

	rec, err := deps.Store.GetRecord(ctx, claims.ID)
	if err != nil {
		res.Err = err
		if errors.Is(err, store.ErrNotFound) {
			res.Failure = RefreshFailureNotFound
		} else {
			res.Failure = RefreshFailureStore
		}
		return res
	}
	if rec.UserID != claims.Subject || rec.FamilyID != claims.Family {
		res.Failure, res.Err = RefreshFailureDecode, errors.New("refresh claims do not match record")
		return res
	}

	if rec.Used {
		return reuseDetected(ctx, res, rec, deps)
	}

	fam, err := deps.Store.GetFamily(ctx, rec.FamilyID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		res.Failure = RefreshFailureFamilyRevoked
		return res
	case err != nil:
		res.Failure, res.Err = RefreshFailureStore, err
		return res
	case fam.Revoked:
		res.Failure = RefreshFailureFamilyRevoked
		return res
	}

	revoked, err := deps.Store.IsRevoked(ctx, rec.ID)
	if err != nil {
		res.Failure, res.Err = RefreshFailureStore, err
		return res
	}
	if revoked {
		res.Failure = RefreshFailureTokenRevoked
		return res
	}

	presented := deps.Fingerprint(in.UserAgent, in.DeviceID)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(rec.DeviceFingerprint)) != 1 {
		res.Failure = RefreshFailureDeviceMismatch
		return res
	}

	subject, err := deps.LookupUser(ctx, rec.UserID)
	if err != nil {
		res.Err = err
		if errors.Is(err, store.ErrUnavailable) {
			res.Failure = RefreshFailureStore
		} else {
			res.Failure = RefreshFailureUserNotFound
		}
		return res
	}

	if err := deps.Store.MarkUsed(ctx, rec.ID, deps.Now()); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyUsed):
			// A concurrent rotation redeemed the token first.
			return reuseDetected(ctx, res, rec, deps)
		case errors.Is(err, store.ErrNotFound):
			res.Failure, res.Err = RefreshFailureNotFound, err
		default:
			res.Failure, res.Err = RefreshFailureStore, err
		}
		return res
	}

	issued := deps.Issue(ctx, IssueInput{
		UserID:      subject.ID,
		Role:        subject.Role,
		UserAgent:   in.UserAgent,
		DeviceID:    in.DeviceID,
		SessionName: rec.SessionName,
		RememberMe:  rec.ExpiresAt.Sub(rec.CreatedAt) > deps.RefreshTTL,
		FamilyID:    rec.FamilyID,
	})
	res.Issue = issued
	if issued.Failure != IssueFailureNone {
		res.Failure, res.Err = RefreshFailureIssue, issued.Err
	}
	return res
}

func reuseDetected(ctx context.Context, res RefreshResult, rec store.RefreshRecord, deps RefreshDeps) RefreshResult {
	res.Failure = RefreshFailureReuse
	changed, err := deps.Store.RevokeFamily(ctx, rec.FamilyID, deps.Now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		res.RevokeErr = err
	}
	res.FamilyRevoked = changed
	return res
}
