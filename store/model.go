package store

import "time"

// RefreshRecord is the server-side state of one issued refresh token.
//
// Everything except Used and UsedAt is immutable after SaveRecord. Used moves
// from false to true at most once, through MarkUsed.
type RefreshRecord struct {
	ID                string
	UserID            string
	FamilyID          string
	DeviceFingerprint string
	SessionName       string

	Used   bool
	UsedAt time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record's refresh token has passed its expiry.
func (r RefreshRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Family groups every refresh token rotated from one login.
//
// ExpiresAt is the storage horizon: the latest expiry of any member record.
// It is extended by SaveRecord and only consulted by DeleteExpired.
type Family struct {
	ID     string
	UserID string

	Revoked   bool
	RevokedAt time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// SweepStats reports what one DeleteExpired pass removed.
type SweepStats struct {
	Records      int
	Markers      int
	Families     int
	IndexEntries int
}

// Add accumulates o into s.
func (s *SweepStats) Add(o SweepStats) {
	s.Records += o.Records
	s.Markers += o.Markers
	s.Families += o.Families
	s.IndexEntries += o.IndexEntries
}
