package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record or family does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyUsed is returned by MarkUsed when the record was already redeemed.
	ErrAlreadyUsed = errors.New("store: already used")
	// ErrUnavailable wraps every backend failure, including context timeouts.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrCorrupt is joined with ErrUnavailable when a stored blob cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt entry")
)

// Store is the token state backend shared by issuance, rotation, revocation
// and the reaper.
//
// Implementations must make MarkUsed linearizable per jti and make a
// completed RevokeFamily visible to every later GetFamily.
type Store interface {
	// SaveFamily creates a family and indexes it under its user.
	SaveFamily(ctx context.Context, fam Family) error
	// SaveRecord creates a record, indexes it under its user and extends the
	// family storage horizon to the record expiry.
	SaveRecord(ctx context.Context, rec RefreshRecord) error

	GetRecord(ctx context.Context, jti string) (RefreshRecord, error)
	GetFamily(ctx context.Context, familyID string) (Family, error)

	// MarkUsed atomically flips used from false to true. It returns
	// ErrAlreadyUsed when another caller won, and ErrNotFound for unknown ids.
	MarkUsed(ctx context.Context, jti string, now time.Time) error

	// RevokeFamily marks the family revoked. It reports whether this call
	// performed the transition; revoking twice is not an error.
	RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error)

	// AddRevokedMarker records an explicit revocation of one refresh token,
	// retained until expiresAt.
	AddRevokedMarker(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)

	ListUserRecords(ctx context.Context, userID string) ([]RefreshRecord, error)
	ListUserFamilies(ctx context.Context, userID string) ([]Family, error)
	// DeleteUserRecords removes every record of the user and returns how many
	// existed. Families are kept.
	DeleteUserRecords(ctx context.Context, userID string) (int, error)

	// DeleteExpired removes records, markers and families whose expiry is
	// before cutoff, and prunes dangling user index entries.
	DeleteExpired(ctx context.Context, cutoff time.Time) (SweepStats, error)

	Ping(ctx context.Context) error
}

// CacheSweeper is implemented by stores carrying a local cache tier.
type CacheSweeper interface {
	SweepCache(now time.Time) int
}
