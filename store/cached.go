package store

import (
	"context"
	"sync"
	"time"
)

// Cached wraps a [Store] with a process-local cache of revocation facts.
//
// Only positive answers are cached: a revoked family or a revoked marker never
// becomes valid again, so a cached hit is always correct. Misses fall through
// to the wrapped store, so revocations made by other processes are observed
// on the next read. Entries are dropped by SweepCache once the token they
// guard has expired.
type Cached struct {
	Store

	mu       sync.RWMutex
	families map[string]Family
	markers  map[string]time.Time
}

// NewCached wraps next.
func NewCached(next Store) *Cached {
	return &Cached{
		Store:    next,
		families: make(map[string]Family),
		markers:  make(map[string]time.Time),
	}
}

// GetFamily serves revoked families from the cache.
func (c *Cached) GetFamily(ctx context.Context, familyID string) (Family, error) {
	c.mu.RLock()
	fam, ok := c.families[familyID]
	c.mu.RUnlock()
	if ok {
		return fam, nil
	}

	fam, err := c.Store.GetFamily(ctx, familyID)
	if err != nil {
		return fam, err
	}
	if fam.Revoked {
		c.mu.Lock()
		c.families[familyID] = fam
		c.mu.Unlock()
	}
	return fam, nil
}

// RevokeFamily revokes through the wrapped store and caches the result.
func (c *Cached) RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error) {
	changed, err := c.Store.RevokeFamily(ctx, familyID, now)
	if err != nil {
		return changed, err
	}

	// Re-read so the cached copy carries the stored revocation time and horizon.
	fam, err := c.Store.GetFamily(ctx, familyID)
	if err == nil && fam.Revoked {
		c.mu.Lock()
		c.families[familyID] = fam
		c.mu.Unlock()
	}
	return changed, nil
}

// AddRevokedMarker writes through and caches the marker.
func (c *Cached) AddRevokedMarker(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := c.Store.AddRevokedMarker(ctx, jti, expiresAt); err != nil {
		return err
	}
	c.mu.Lock()
	c.markers[jti] = expiresAt
	c.mu.Unlock()
	return nil
}

// IsRevoked serves markers from the cache.
func (c *Cached) IsRevoked(ctx context.Context, jti string) (bool, error) {
	c.mu.RLock()
	_, ok := c.markers[jti]
	c.mu.RUnlock()
	if ok {
		return true, nil
	}

	revoked, err := c.Store.IsRevoked(ctx, jti)
	if err != nil || !revoked {
		return revoked, err
	}

	// Marker expiry is not returned by IsRevoked; hold it for the longest
	// refresh lifetime.
	c.mu.Lock()
	c.markers[jti] = time.Now().Add(markerCacheTTL)
	c.mu.Unlock()
	return true, nil
}

const markerCacheTTL = 30 * 24 * time.Hour

// SweepCache drops cached entries whose guarded token expired before now and
// returns how many were removed.
func (c *Cached) SweepCache(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, fam := range c.families {
		if fam.ExpiresAt.Before(now) {
			delete(c.families, id)
			removed++
		}
	}
	for jti, exp := range c.markers {
		if exp.Before(now) {
			delete(c.markers, jti)
			removed++
		}
	}
	return removed
}

// CacheLen returns the number of cached families and markers.
func (c *Cached) CacheLen() (families, markers int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.families), len(c.markers)
}
