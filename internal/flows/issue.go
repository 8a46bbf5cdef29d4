package flows

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
	gjwt "github.com/golang-jwt/jwt/v5"
)

// IssueFailureKind classifies issue flow failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureIdentifier
	IssueFailureSign
	IssueFailureStore
)

// Encoder signs claim sets.
type Encoder interface {
	Encode(claims jwt.Claims, ttl time.Duration) (string, error)
}

// IssueStore is the store surface used by issuance and the session cap.
type IssueStore interface {
	SaveFamily(ctx context.Context, fam store.Family) error
	SaveRecord(ctx context.Context, rec store.RefreshRecord) error
	ActiveStore
	AddRevokedMarker(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error)
}

// IssueInput describes one token pair to mint.
type IssueInput struct {
	UserID      string
	Role        string
	UserAgent   string
	DeviceID    string
	SessionName string
	RememberMe  bool
	// FamilyID is set by rotation to keep the lineage; empty starts a new family.
	FamilyID string
}

// IssueResult carries the minted pair or failure metadata.
type IssueResult struct {
	Failure IssueFailureKind
	Err     error

	UserID      string
	FamilyID    string
	TokenID     string
	SessionName string
	NewFamily   bool

	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	// Evicted lists sessions revoked by the session cap. EvictErr joins any
	// eviction failures; they never fail the issue.
	Evicted  []store.RefreshRecord
	EvictErr error
}

// IssueDeps captures issue flow dependencies.
type IssueDeps struct {
	Now                func() time.Time
	NewFamilyID        func() (string, error)
	NewTokenID         func() (string, error)
	Fingerprint        func(userAgent, deviceID string) string
	Encoder            Encoder
	Store              IssueStore
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	RememberMeTTL      time.Duration
	DefaultSessionName string
	MaxSessions        int
}

// RunIssue mints an access and refresh token, persists the refresh record
// (and family when new) and then enforces the per-user session cap.
func RunIssue(ctx context.Context, in IssueInput, deps IssueDeps) IssueResult {
	now := deps.Now()

	sessionName := in.SessionName
	if sessionName == "" {
		sessionName = deps.DefaultSessionName
	}

	res := IssueResult{
		UserID:      in.UserID,
		FamilyID:    in.FamilyID,
		SessionName: sessionName,
	}

	if res.FamilyID == "" {
		famID, err := deps.NewFamilyID()
		if err != nil {
			res.Failure, res.Err = IssueFailureIdentifier, err
			return res
		}
		res.FamilyID = famID
		res.NewFamily = true
	}

	jti, err := deps.NewTokenID()
	if err != nil {
		res.Failure, res.Err = IssueFailureIdentifier, err
		return res
	}
	res.TokenID = jti

	refreshTTL := deps.RefreshTTL
	if in.RememberMe {
		refreshTTL = deps.RememberMeTTL
	}
	res.AccessExpiresAt = now.Add(deps.AccessTTL)
	res.RefreshExpiresAt = now.Add(refreshTTL)

	fingerprint := deps.Fingerprint(in.UserAgent, in.DeviceID)
	issuedAt := gjwt.NewNumericDate(now)

	access, err := deps.Encoder.Encode(jwt.Claims{
		Type:   jwt.TypeAccess,
		Role:   in.Role,
		Family: res.FamilyID,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:  in.UserID,
			IssuedAt: issuedAt,
		},
	}, deps.AccessTTL)
	if err != nil {
		res.Failure, res.Err = IssueFailureSign, err
		return res
	}

	refresh, err := deps.Encoder.Encode(jwt.Claims{
		Type:        jwt.TypeRefresh,
		Family:      res.FamilyID,
		Fingerprint: fingerprint,
		Session:     sessionName,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:  in.UserID,
			ID:       jti,
			IssuedAt: issuedAt,
		},
	}, refreshTTL)
	if err != nil {
		res.Failure, res.Err = IssueFailureSign, err
		return res
	}

	if res.NewFamily {
		if err := deps.Store.SaveFamily(ctx, store.Family{
			ID:        res.FamilyID,
			UserID:    in.UserID,
			CreatedAt: now,
			ExpiresAt: res.RefreshExpiresAt,
		}); err != nil {
			res.Failure, res.Err = IssueFailureStore, err
			return res
		}
	}

	if err := deps.Store.SaveRecord(ctx, store.RefreshRecord{
		ID:                jti,
		UserID:            in.UserID,
		FamilyID:          res.FamilyID,
		DeviceFingerprint: fingerprint,
		SessionName:       sessionName,
		CreatedAt:         now,
		ExpiresAt:         res.RefreshExpiresAt,
	}); err != nil {
		res.Failure, res.Err = IssueFailureStore, err
		return res
	}

	res.AccessToken = access
	res.RefreshToken = refresh

	if deps.MaxSessions > 0 {
		res.Evicted, res.EvictErr = enforceSessionCap(ctx, in.UserID, jti, res.FamilyID, now, deps)
	}

	return res
}

// enforceSessionCap revokes the oldest active sessions until at most
// MaxSessions remain. The freshly issued record is never evicted.
func enforceSessionCap(ctx context.Context, userID, keepJTI, keepFamily string, now time.Time, deps IssueDeps) ([]store.RefreshRecord, error) {
	active, err := ActiveRecords(ctx, deps.Store, userID, now)
	if err != nil {
		return nil, err
	}
	if len(active) <= deps.MaxSessions {
		return nil, nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	var (
		evicted []store.RefreshRecord
		errs    []error
	)
	excess := len(active) - deps.MaxSessions
	for _, rec := range active {
		if excess == 0 {
			break
		}
		if rec.ID == keepJTI {
			continue
		}
		if err := deps.Store.AddRevokedMarker(ctx, rec.ID, rec.ExpiresAt); err != nil {
			errs = append(errs, err)
			continue
		}
		if rec.FamilyID != keepFamily {
			if _, err := deps.Store.RevokeFamily(ctx, rec.FamilyID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
				errs = append(errs, err)
			}
		}
		evicted = append(evicted, rec)
		excess--
	}

	return evicted, errors.Join(errs...)
}
