package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	new  func(t *testing.T) Store
}

func newRedisTestStore(t *testing.T) (*Redis, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, RedisConfig{Prefix: "rt"}), rdb, mr
}

func backends() []backend {
	return []backend{
		{name: "memory", new: func(t *testing.T) Store { return NewMemory(MemoryConfig{Shards: 4}) }},
		{name: "redis", new: func(t *testing.T) Store {
			s, _, _ := newRedisTestStore(t)
			return s
		}},
		{name: "cached", new: func(t *testing.T) Store { return NewCached(NewMemory(MemoryConfig{})) }},
	}
}

func testFamily(id, user string, now time.Time) Family {
	return Family{ID: id, UserID: user, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func testRecord(jti, user, fam string, now time.Time) RefreshRecord {
	return RefreshRecord{
		ID:                jti,
		UserID:            user,
		FamilyID:          fam,
		DeviceFingerprint: "0123456789abcdef0123456789abcdef",
		SessionName:       "default",
		CreatedAt:         now,
		ExpiresAt:         now.Add(time.Hour),
	}
}

func seed(t *testing.T, s Store, rec RefreshRecord) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveFamily(ctx, testFamily(rec.FamilyID, rec.UserID, rec.CreatedAt)))
	require.NoError(t, s.SaveRecord(ctx, rec))
}

func TestStoreSaveAndGet(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()
			now := time.Now()
			rec := testRecord("j1", "u1", "f1", now)
			seed(t, s, rec)

			got, err := s.GetRecord(ctx, "j1")
			require.NoError(t, err)
			require.Equal(t, rec.ID, got.ID)
			require.Equal(t, rec.UserID, got.UserID)
			require.Equal(t, rec.FamilyID, got.FamilyID)
			require.Equal(t, rec.DeviceFingerprint, got.DeviceFingerprint)
			require.Equal(t, rec.SessionName, got.SessionName)
			require.Equal(t, rec.ExpiresAt.UnixNano(), got.ExpiresAt.UnixNano())
			require.False(t, got.Used)

			fam, err := s.GetFamily(ctx, "f1")
			require.NoError(t, err)
			require.Equal(t, "u1", fam.UserID)
			require.False(t, fam.Revoked)

			_, err = s.GetRecord(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetFamily(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreMarkUsedOnce(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()
			now := time.Now()
			seed(t, s, testRecord("j1", "u1", "f1", now))

			require.NoError(t, s.MarkUsed(ctx, "j1", now))
			require.ErrorIs(t, s.MarkUsed(ctx, "j1", now), ErrAlreadyUsed)
			require.ErrorIs(t, s.MarkUsed(ctx, "nope", now), ErrNotFound)

			got, err := s.GetRecord(ctx, "j1")
			require.NoError(t, err)
			require.True(t, got.Used)
			require.Equal(t, now.UnixNano(), got.UsedAt.UnixNano())
		})
	}
}

func TestStoreMarkUsedSingleWinner(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			now := time.Now()
			seed(t, s, testRecord("j1", "u1", "f1", now))

			const workers = 32
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				already  int
				failures []error
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					err := s.MarkUsed(context.Background(), "j1", time.Now())
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, ErrAlreadyUsed):
						already++
					default:
						failures = append(failures, err)
					}
				}()
			}
			close(start)
			wg.Wait()

			require.Empty(t, failures)
			require.Equal(t, 1, wins)
			require.Equal(t, workers-1, already)
		})
	}
}

func TestStoreRevokeFamilyIdempotent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()
			now := time.Now()
			seed(t, s, testRecord("j1", "u1", "f1", now))

			changed, err := s.RevokeFamily(ctx, "f1", now)
			require.NoError(t, err)
			require.True(t, changed)

			changed, err = s.RevokeFamily(ctx, "f1", now.Add(time.Minute))
			require.NoError(t, err)
			require.False(t, changed)

			fam, err := s.GetFamily(ctx, "f1")
			require.NoError(t, err)
			require.True(t, fam.Revoked)
			require.Equal(t, now.UnixNano(), fam.RevokedAt.UnixNano())

			_, err = s.RevokeFamily(ctx, "missing", now)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRevokedMarkers(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()

			revoked, err := s.IsRevoked(ctx, "j1")
			require.NoError(t, err)
			require.False(t, revoked)

			require.NoError(t, s.AddRevokedMarker(ctx, "j1", time.Now().Add(time.Hour)))
			require.NoError(t, s.AddRevokedMarker(ctx, "j1", time.Now().Add(time.Hour)))

			revoked, err = s.IsRevoked(ctx, "j1")
			require.NoError(t, err)
			require.True(t, revoked)
		})
	}
}

func TestStoreUserIndexes(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()
			now := time.Now()
			seed(t, s, testRecord("j1", "u1", "f1", now))
			seed(t, s, testRecord("j2", "u1", "f2", now.Add(time.Second)))
			seed(t, s, testRecord("j3", "u2", "f3", now))
			require.NoError(t, s.SaveRecord(ctx, testRecord("j4", "u1", "f1", now.Add(2*time.Second))))

			recs, err := s.ListUserRecords(ctx, "u1")
			require.NoError(t, err)
			ids := make([]string, 0, len(recs))
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			sort.Strings(ids)
			require.Equal(t, []string{"j1", "j2", "j4"}, ids)

			fams, err := s.ListUserFamilies(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, fams, 2)

			n, err := s.DeleteUserRecords(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, 3, n)

			recs, err = s.ListUserRecords(ctx, "u1")
			require.NoError(t, err)
			require.Empty(t, recs)

			_, err = s.GetRecord(ctx, "j1")
			require.ErrorIs(t, err, ErrNotFound)

			fams, err = s.ListUserFamilies(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, fams, 2, "families are kept for the reaper")

			other, err := s.ListUserRecords(ctx, "u2")
			require.NoError(t, err)
			require.Len(t, other, 1)

			n, err = s.DeleteUserRecords(ctx, "nobody")
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}
}

func TestStoreSaveRecordExtendsFamilyHorizon(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()
			now := time.Now()
			seed(t, s, testRecord("j1", "u1", "f1", now))

			later := testRecord("j2", "u1", "f1", now)
			later.ExpiresAt = now.Add(48 * time.Hour)
			require.NoError(t, s.SaveRecord(ctx, later))

			fam, err := s.GetFamily(ctx, "f1")
			require.NoError(t, err)
			require.Equal(t, later.ExpiresAt.UnixNano(), fam.ExpiresAt.UnixNano())

			earlier := testRecord("j3", "u1", "f1", now)
			earlier.ExpiresAt = now.Add(time.Minute)
			require.NoError(t, s.SaveRecord(ctx, earlier))

			fam, err = s.GetFamily(ctx, "f1")
			require.NoError(t, err)
			require.Equal(t, later.ExpiresAt.UnixNano(), fam.ExpiresAt.UnixNano())
		})
	}
}

func TestStoreFamilyHorizonComparesBytesUnsigned(t *testing.T) {
	// The two expiries differ only in the last byte, 0x7f then 0x80.
	base := time.Unix(0, (time.Now().Add(time.Hour).UnixNano()&^0xff)|0x7f)
	next := base.Add(time.Nanosecond)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()

			fam := testFamily("f1", "u1", time.Now())
			fam.ExpiresAt = base
			require.NoError(t, s.SaveFamily(ctx, fam))

			rec := testRecord("j1", "u1", "f1", time.Now())
			rec.ExpiresAt = next
			require.NoError(t, s.SaveRecord(ctx, rec))

			got, err := s.GetFamily(ctx, "f1")
			require.NoError(t, err)
			require.Equal(t, next.UnixNano(), got.ExpiresAt.UnixNano())
		})
	}
}

func TestStoreDeleteExpired(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.new(t)
			ctx := context.Background()
			now := time.Now()

			old := testRecord("old", "u1", "f-old", now.Add(-3*time.Hour))
			old.ExpiresAt = now.Add(-2 * time.Hour)
			oldFam := testFamily("f-old", "u1", old.CreatedAt)
			oldFam.ExpiresAt = old.ExpiresAt
			require.NoError(t, s.SaveFamily(ctx, oldFam))
			require.NoError(t, s.SaveRecord(ctx, old))
			require.NoError(t, s.AddRevokedMarker(ctx, "old", old.ExpiresAt))

			seed(t, s, testRecord("fresh", "u1", "f-new", now))

			stats, err := s.DeleteExpired(ctx, now.Add(-time.Hour))
			require.NoError(t, err)
			require.Equal(t, 1, stats.Records)
			require.Equal(t, 1, stats.Families)
			require.GreaterOrEqual(t, stats.Markers+stats.IndexEntries, 1)

			_, err = s.GetRecord(ctx, "old")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetFamily(ctx, "f-old")
			require.ErrorIs(t, err, ErrNotFound)

			recs, err := s.ListUserRecords(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, recs, 1)
			require.Equal(t, "fresh", recs[0].ID)

			fams, err := s.ListUserFamilies(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, fams, 1)
			require.Equal(t, "f-new", fams[0].ID)

			stats, err = s.DeleteExpired(ctx, now.Add(-time.Hour))
			require.NoError(t, err)
			require.Zero(t, stats.Records)
			require.Zero(t, stats.Families)
		})
	}
}

func TestStorePing(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			require.NoError(t, b.new(t).Ping(context.Background()))
		})
	}
}
