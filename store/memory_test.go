package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryDefaultsShardCount(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	require.Len(t, m.shards, DefaultShards)
}

func TestMemoryCanceledContextIsUnavailable(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.GetRecord(ctx, "j1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, m.MarkUsed(ctx, "j1", time.Now()), ErrUnavailable)
	_, err = m.DeleteExpired(ctx, time.Now())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()
	seed(t, m, testRecord("j1", "u1", "f1", time.Now()))

	got, err := m.GetRecord(ctx, "j1")
	require.NoError(t, err)
	got.Used = true

	again, err := m.GetRecord(ctx, "j1")
	require.NoError(t, err)
	require.False(t, again.Used)
}

func TestMemorySweepConcurrentWithIssuance(t *testing.T) {
	m := NewMemory(MemoryConfig{Shards: 8})
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				rec := testRecord(fmt.Sprintf("j-%d-%d", w, i), fmt.Sprintf("u-%d", i%7), fmt.Sprintf("f-%d-%d", w, i), now)
				if i%2 == 0 {
					rec.ExpiresAt = now.Add(-time.Hour)
				}
				fam := testFamily(rec.FamilyID, rec.UserID, now)
				fam.ExpiresAt = rec.ExpiresAt
				_ = m.SaveFamily(ctx, fam)
				_ = m.SaveRecord(ctx, rec)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = m.DeleteExpired(ctx, now)
		}
	}()
	wg.Wait()

	_, err := m.DeleteExpired(ctx, now)
	require.NoError(t, err)

	records, families := m.Len()
	require.Equal(t, 400, records)
	require.Equal(t, 400, families)
}
