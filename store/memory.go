package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when MemoryConfig.Shards is zero.
const DefaultShards = 32

// MemoryConfig controls the in-process store.
type MemoryConfig struct {
	Shards int
}

type shard struct {
	mu sync.Mutex

	records  map[string]*RefreshRecord
	families map[string]*Family
	markers  map[string]time.Time

	userRecords  map[string]map[string]struct{}
	userFamilies map[string]map[string]struct{}
}

func newShard() *shard {
	return &shard{
		records:      make(map[string]*RefreshRecord),
		families:     make(map[string]*Family),
		markers:      make(map[string]time.Time),
		userRecords:  make(map[string]map[string]struct{}),
		userFamilies: make(map[string]map[string]struct{}),
	}
}

// Memory is an in-process [Store] partitioned into shards.
//
// Records and markers live in the shard of their jti, families in the shard
// of their id, and the user indexes in the shard of the user id. No method
// holds more than one shard lock at a time.
type Memory struct {
	shards []*shard
}

// NewMemory returns an empty sharded store.
func NewMemory(cfg MemoryConfig) *Memory {
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}
	m := &Memory{shards: make([]*shard, n)}
	for i := range m.shards {
		m.shards[i] = newShard()
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func addIndex(index map[string]map[string]struct{}, userID, id string) {
	set, ok := index[userID]
	if !ok {
		set = make(map[string]struct{})
		index[userID] = set
	}
	set[id] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, userID, id string) bool {
	set, ok := index[userID]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, userID)
	}
	return true
}

func indexSnapshot(index map[string]map[string]struct{}, userID string) []string {
	set := index[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// SaveFamily stores fam and indexes it under its user.
func (m *Memory) SaveFamily(ctx context.Context, fam Family) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	sh := m.shardFor(fam.ID)
	sh.mu.Lock()
	if existing, ok := sh.families[fam.ID]; ok && existing.ExpiresAt.After(fam.ExpiresAt) {
		fam.ExpiresAt = existing.ExpiresAt
	}
	f := fam
	sh.families[fam.ID] = &f
	sh.mu.Unlock()

	us := m.shardFor(fam.UserID)
	us.mu.Lock()
	addIndex(us.userFamilies, fam.UserID, fam.ID)
	us.mu.Unlock()

	return nil
}

// SaveRecord stores rec, indexes it and extends the family horizon.
func (m *Memory) SaveRecord(ctx context.Context, rec RefreshRecord) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	sh := m.shardFor(rec.ID)
	sh.mu.Lock()
	r := rec
	sh.records[rec.ID] = &r
	sh.mu.Unlock()

	us := m.shardFor(rec.UserID)
	us.mu.Lock()
	addIndex(us.userRecords, rec.UserID, rec.ID)
	addIndex(us.userFamilies, rec.UserID, rec.FamilyID)
	us.mu.Unlock()

	fs := m.shardFor(rec.FamilyID)
	fs.mu.Lock()
	if fam, ok := fs.families[rec.FamilyID]; ok && rec.ExpiresAt.After(fam.ExpiresAt) {
		fam.ExpiresAt = rec.ExpiresAt
	}
	fs.mu.Unlock()

	return nil
}

// GetRecord returns a copy of the record for jti.
func (m *Memory) GetRecord(ctx context.Context, jti string) (RefreshRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return RefreshRecord{}, err
	}

	sh := m.shardFor(jti)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[jti]
	if !ok {
		return RefreshRecord{}, ErrNotFound
	}
	return *rec, nil
}

// GetFamily returns a copy of the family.
func (m *Memory) GetFamily(ctx context.Context, familyID string) (Family, error) {
	if err := ctxErr(ctx); err != nil {
		return Family{}, err
	}

	sh := m.shardFor(familyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	fam, ok := sh.families[familyID]
	if !ok {
		return Family{}, ErrNotFound
	}
	return *fam, nil
}

// MarkUsed performs the used test-and-set under the record's shard lock.
func (m *Memory) MarkUsed(ctx context.Context, jti string, now time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	sh := m.shardFor(jti)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[jti]
	if !ok {
		return ErrNotFound
	}
	if rec.Used {
		return ErrAlreadyUsed
	}
	rec.Used = true
	rec.UsedAt = now
	return nil
}

// RevokeFamily flips the family's revoked flag.
func (m *Memory) RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}

	sh := m.shardFor(familyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	fam, ok := sh.families[familyID]
	if !ok {
		return false, ErrNotFound
	}
	if fam.Revoked {
		return false, nil
	}
	fam.Revoked = true
	fam.RevokedAt = now
	return true, nil
}

// AddRevokedMarker records a per-token revocation.
func (m *Memory) AddRevokedMarker(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	sh := m.shardFor(jti)
	sh.mu.Lock()
	if existing, ok := sh.markers[jti]; !ok || expiresAt.After(existing) {
		sh.markers[jti] = expiresAt
	}
	sh.mu.Unlock()
	return nil
}

// IsRevoked reports whether a marker exists for jti.
func (m *Memory) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}

	sh := m.shardFor(jti)
	sh.mu.Lock()
	_, ok := sh.markers[jti]
	sh.mu.Unlock()
	return ok, nil
}

// ListUserRecords returns copies of every indexed record of the user.
func (m *Memory) ListUserRecords(ctx context.Context, userID string) ([]RefreshRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	us := m.shardFor(userID)
	us.mu.Lock()
	ids := indexSnapshot(us.userRecords, userID)
	us.mu.Unlock()

	out := make([]RefreshRecord, 0, len(ids))
	for _, id := range ids {
		sh := m.shardFor(id)
		sh.mu.Lock()
		if rec, ok := sh.records[id]; ok {
			out = append(out, *rec)
		}
		sh.mu.Unlock()
	}
	return out, nil
}

// ListUserFamilies returns copies of every indexed family of the user.
func (m *Memory) ListUserFamilies(ctx context.Context, userID string) ([]Family, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	us := m.shardFor(userID)
	us.mu.Lock()
	ids := indexSnapshot(us.userFamilies, userID)
	us.mu.Unlock()

	out := make([]Family, 0, len(ids))
	for _, id := range ids {
		sh := m.shardFor(id)
		sh.mu.Lock()
		if fam, ok := sh.families[id]; ok {
			out = append(out, *fam)
		}
		sh.mu.Unlock()
	}
	return out, nil
}

// DeleteUserRecords drops the user's record index and every record in it.
func (m *Memory) DeleteUserRecords(ctx context.Context, userID string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}

	us := m.shardFor(userID)
	us.mu.Lock()
	ids := indexSnapshot(us.userRecords, userID)
	delete(us.userRecords, userID)
	us.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		sh := m.shardFor(id)
		sh.mu.Lock()
		if _, ok := sh.records[id]; ok {
			delete(sh.records, id)
			deleted++
		}
		sh.mu.Unlock()
	}
	return deleted, nil
}

type indexEntry struct {
	userID string
	id     string
}

// DeleteExpired sweeps shard by shard. The first pass removes expired
// entries and remembers their owners; the second pass prunes the user
// indexes those owners live in.
func (m *Memory) DeleteExpired(ctx context.Context, cutoff time.Time) (SweepStats, error) {
	var stats SweepStats
	var deadRecords, deadFamilies []indexEntry

	for _, sh := range m.shards {
		if err := ctxErr(ctx); err != nil {
			return stats, err
		}

		sh.mu.Lock()
		for id, rec := range sh.records {
			if rec.ExpiresAt.Before(cutoff) {
				delete(sh.records, id)
				stats.Records++
				deadRecords = append(deadRecords, indexEntry{userID: rec.UserID, id: id})
				if _, ok := sh.markers[id]; ok {
					delete(sh.markers, id)
					stats.Markers++
				}
			}
		}
		for id, exp := range sh.markers {
			if exp.Before(cutoff) {
				delete(sh.markers, id)
				stats.Markers++
			}
		}
		for id, fam := range sh.families {
			if fam.ExpiresAt.Before(cutoff) {
				delete(sh.families, id)
				stats.Families++
				deadFamilies = append(deadFamilies, indexEntry{userID: fam.UserID, id: id})
			}
		}
		sh.mu.Unlock()
	}

	if len(deadRecords) == 0 && len(deadFamilies) == 0 {
		return stats, nil
	}

	byShard := make(map[*shard][]int, len(m.shards))
	for i, e := range deadRecords {
		sh := m.shardFor(e.userID)
		byShard[sh] = append(byShard[sh], i)
	}
	famByShard := make(map[*shard][]int, len(m.shards))
	for i, e := range deadFamilies {
		sh := m.shardFor(e.userID)
		famByShard[sh] = append(famByShard[sh], i)
	}

	for _, sh := range m.shards {
		recs, fams := byShard[sh], famByShard[sh]
		if len(recs) == 0 && len(fams) == 0 {
			continue
		}
		sh.mu.Lock()
		for _, i := range recs {
			if removeIndex(sh.userRecords, deadRecords[i].userID, deadRecords[i].id) {
				stats.IndexEntries++
			}
		}
		for _, i := range fams {
			if removeIndex(sh.userFamilies, deadFamilies[i].userID, deadFamilies[i].id) {
				stats.IndexEntries++
			}
		}
		sh.mu.Unlock()
	}

	return stats, nil
}

// Ping always succeeds unless ctx is done.
func (m *Memory) Ping(ctx context.Context) error {
	return ctxErr(ctx)
}

// Len returns the number of records and families currently held.
func (m *Memory) Len() (records, families int) {
	for _, sh := range m.shards {
		sh.mu.Lock()
		records += len(sh.records)
		families += len(sh.families)
		sh.mu.Unlock()
	}
	return records, families
}
