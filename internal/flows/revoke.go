package flows

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
)

// RevokeStore is the store surface used by the revocation operations.
type RevokeStore interface {
	ActiveStore
	GetRecord(ctx context.Context, jti string) (store.RefreshRecord, error)
	AddRevokedMarker(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error)
	ListUserFamilies(ctx context.Context, userID string) ([]store.Family, error)
	DeleteUserRecords(ctx context.Context, userID string) (int, error)
}

// RevokeDeps captures revocation flow dependencies.
type RevokeDeps struct {
	Now    func() time.Time
	Decode func(string) (*jwt.Claims, error)
	Store  RevokeStore
}

// RevokeOutcome says what RunRevoke did with the presented token.
type RevokeOutcome int

const (
	// RevokeIgnored means the token did not decode; it is treated as already revoked.
	RevokeIgnored RevokeOutcome = iota
	// RevokeAccessNoop means an access token was presented; it expires on its own.
	RevokeAccessNoop
	// RevokeMarked means a revoked marker was stored for the refresh token.
	RevokeMarked
)

// RevokeResult describes a single-token revocation.
type RevokeResult struct {
	Outcome  RevokeOutcome
	UserID   string
	FamilyID string
	TokenID  string
	Err      error
}

// RunRevoke marks a refresh token revoked. Undecodable input and access
// tokens succeed without touching the store.
func RunRevoke(ctx context.Context, token string, deps RevokeDeps) RevokeResult {
	claims, err := deps.Decode(token)
	if err != nil {
		return RevokeResult{Outcome: RevokeIgnored}
	}

	res := RevokeResult{
		Outcome:  RevokeAccessNoop,
		UserID:   claims.Subject,
		FamilyID: claims.Family,
		TokenID:  claims.ID,
	}
	if claims.Type != jwt.TypeRefresh || claims.ID == "" {
		return res
	}

	expiresAt := deps.Now()
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	res.Outcome = RevokeMarked
	res.Err = deps.Store.AddRevokedMarker(ctx, claims.ID, expiresAt)
	return res
}

// RevokeAllResult counts what RunRevokeAll touched.
type RevokeAllResult struct {
	FamiliesRevoked int
	RecordsDeleted  int
	Err             error
}

// RunRevokeAll revokes every family of the user, then deletes every record.
// It keeps going past individual failures and joins them into Err.
func RunRevokeAll(ctx context.Context, userID string, deps RevokeDeps) RevokeAllResult {
	var (
		res  RevokeAllResult
		errs []error
	)

	fams, err := deps.Store.ListUserFamilies(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}
	now := deps.Now()
	for _, fam := range fams {
		changed, err := deps.Store.RevokeFamily(ctx, fam.ID, now)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if changed {
			res.FamiliesRevoked++
		}
	}

	n, err := deps.Store.DeleteUserRecords(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}
	res.RecordsDeleted = n
	res.Err = errors.Join(errs...)
	return res
}

// RevokeOthersResult counts what RunRevokeOthers touched.
type RevokeOthersResult struct {
	KeptFamily      string
	RecordsRevoked  int
	FamiliesRevoked int
	Err             error
}

// RunRevokeOthers revokes every session of the user except the one holding
// keepJTI. Other records get a revoked marker and other families are revoked;
// the kept record's family stays valid.
func RunRevokeOthers(ctx context.Context, userID, keepJTI string, deps RevokeDeps) RevokeOthersResult {
	var (
		res  RevokeOthersResult
		errs []error
	)
	now := deps.Now()

	if keepJTI != "" {
		keep, err := deps.Store.GetRecord(ctx, keepJTI)
		switch {
		case err == nil && keep.UserID == userID:
			res.KeptFamily = keep.FamilyID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			res.Err = err
			return res
		}
	}

	recs, err := deps.Store.ListUserRecords(ctx, userID)
	if err != nil {
		res.Err = err
		return res
	}
	for _, rec := range recs {
		if rec.ID == keepJTI || rec.Expired(now) {
			continue
		}
		if err := deps.Store.AddRevokedMarker(ctx, rec.ID, rec.ExpiresAt); err != nil {
			errs = append(errs, err)
			continue
		}
		res.RecordsRevoked++
	}

	fams, err := deps.Store.ListUserFamilies(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}
	for _, fam := range fams {
		if fam.ID == res.KeptFamily {
			continue
		}
		changed, err := deps.Store.RevokeFamily(ctx, fam.ID, now)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if changed {
			res.FamiliesRevoked++
		}
	}

	res.Err = errors.Join(errs...)
	return res
}

// RunRevokeFamily revokes one family. Unknown families are not an error.
func RunRevokeFamily(ctx context.Context, familyID string, deps RevokeDeps) (bool, error) {
	changed, err := deps.Store.RevokeFamily(ctx, familyID, deps.Now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return changed, err
}

// RunListSessions returns the user's active records, newest first.
func RunListSessions(ctx context.Context, userID string, deps RevokeDeps) ([]store.RefreshRecord, error) {
	active, err := ActiveRecords(ctx, deps.Store, userID, deps.Now())
	if err != nil {
		return nil, err
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}
