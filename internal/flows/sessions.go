package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goRotate/store"
)

// ActiveStore is the read surface needed to decide which sessions are live.
type ActiveStore interface {
	ListUserRecords(ctx context.Context, userID string) ([]store.RefreshRecord, error)
	GetFamily(ctx context.Context, familyID string) (store.Family, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ActiveRecords returns the user's records that are unused, unexpired,
// carry no revoked marker and belong to a live family.
func ActiveRecords(ctx context.Context, st ActiveStore, userID string, now time.Time) ([]store.RefreshRecord, error) {
	recs, err := st.ListUserRecords(ctx, userID)
	if err != nil {
		return nil, err
	}

	familyLive := make(map[string]bool, len(recs))
	active := recs[:0]
	for _, rec := range recs {
		if rec.Used || rec.Expired(now) {
			continue
		}

		live, seen := familyLive[rec.FamilyID]
		if !seen {
			fam, err := st.GetFamily(ctx, rec.FamilyID)
			switch {
			case err == nil:
				live = !fam.Revoked
			case errors.Is(err, store.ErrNotFound):
				live = false
			default:
				return nil, err
			}
			familyLive[rec.FamilyID] = live
		}
		if !live {
			continue
		}

		revoked, err := st.IsRevoked(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			continue
		}
		active = append(active, rec)
	}
	return active, nil
}
