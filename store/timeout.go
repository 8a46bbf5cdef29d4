package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Bounded decorates a [Store] so every call runs under a fixed timeout.
// Context deadline and cancellation errors surface as ErrUnavailable.
type Bounded struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps next. A non-positive timeout returns next unchanged.
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return next
	}
	return &Bounded{next: next, timeout: timeout}
}

// Unwrap returns the decorated store.
func (b *Bounded) Unwrap() Store {
	return b.next
}

func (b *Bounded) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.timeout)
}

func mapCtxErr(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (b *Bounded) SaveFamily(ctx context.Context, fam Family) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return mapCtxErr(b.next.SaveFamily(ctx, fam))
}

func (b *Bounded) SaveRecord(ctx context.Context, rec RefreshRecord) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return mapCtxErr(b.next.SaveRecord(ctx, rec))
}

func (b *Bounded) GetRecord(ctx context.Context, jti string) (RefreshRecord, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	rec, err := b.next.GetRecord(ctx, jti)
	return rec, mapCtxErr(err)
}

func (b *Bounded) GetFamily(ctx context.Context, familyID string) (Family, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	fam, err := b.next.GetFamily(ctx, familyID)
	return fam, mapCtxErr(err)
}

func (b *Bounded) MarkUsed(ctx context.Context, jti string, now time.Time) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return mapCtxErr(b.next.MarkUsed(ctx, jti, now))
}

func (b *Bounded) RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	changed, err := b.next.RevokeFamily(ctx, familyID, now)
	return changed, mapCtxErr(err)
}

func (b *Bounded) AddRevokedMarker(ctx context.Context, jti string, expiresAt time.Time) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return mapCtxErr(b.next.AddRevokedMarker(ctx, jti, expiresAt))
}

func (b *Bounded) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	revoked, err := b.next.IsRevoked(ctx, jti)
	return revoked, mapCtxErr(err)
}

func (b *Bounded) ListUserRecords(ctx context.Context, userID string) ([]RefreshRecord, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	recs, err := b.next.ListUserRecords(ctx, userID)
	return recs, mapCtxErr(err)
}

func (b *Bounded) ListUserFamilies(ctx context.Context, userID string) ([]Family, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	fams, err := b.next.ListUserFamilies(ctx, userID)
	return fams, mapCtxErr(err)
}

func (b *Bounded) DeleteUserRecords(ctx context.Context, userID string) (int, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	n, err := b.next.DeleteUserRecords(ctx, userID)
	return n, mapCtxErr(err)
}

// DeleteExpired is not bounded: sweeps are long-running background work and
// run under the caller's context.
func (b *Bounded) DeleteExpired(ctx context.Context, cutoff time.Time) (SweepStats, error) {
	stats, err := b.next.DeleteExpired(ctx, cutoff)
	return stats, mapCtxErr(err)
}

func (b *Bounded) Ping(ctx context.Context) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return mapCtxErr(b.next.Ping(ctx))
}

// SweepCache forwards to the wrapped store when it has a cache tier.
func (b *Bounded) SweepCache(now time.Time) int {
	if sweeper, ok := b.next.(CacheSweeper); ok {
		return sweeper.SweepCache(now)
	}
	return 0
}
