package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type slowStore struct {
	*Memory
	delay time.Duration
}

func (s slowStore) GetRecord(ctx context.Context, jti string) (RefreshRecord, error) {
	select {
	case <-time.After(s.delay):
		return s.Memory.GetRecord(ctx, jti)
	case <-ctx.Done():
		return RefreshRecord{}, ctx.Err()
	}
}

func TestBoundedTimeoutIsUnavailable(t *testing.T) {
	s := WithTimeout(slowStore{Memory: NewMemory(MemoryConfig{}), delay: time.Second}, 20*time.Millisecond)

	start := time.Now()
	_, err := s.GetRecord(context.Background(), "j1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBoundedPassesThroughDomainErrors(t *testing.T) {
	s := WithTimeout(NewMemory(MemoryConfig{}), 50*time.Millisecond)
	_, err := s.GetRecord(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrUnavailable)
}

func TestBoundedForwardsSweepCache(t *testing.T) {
	cached := NewCached(NewMemory(MemoryConfig{}))
	s := WithTimeout(cached, 50*time.Millisecond)
	require.NoError(t, s.AddRevokedMarker(context.Background(), "j1", time.Now().Add(-time.Minute)))

	sweeper, ok := s.(CacheSweeper)
	require.True(t, ok)
	require.Equal(t, 1, sweeper.SweepCache(time.Now()))
}

func TestWithTimeoutZeroReturnsStore(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	require.Same(t, m, WithTimeout(m, 0))
}
