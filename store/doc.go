// Package store holds refresh token records, token families and revocation
// markers: the single source of truth for "has this token been used" and "has
// this family been revoked".
//
// # Implementations
//
//   - [Memory]: in-process, partitioned into shards by xxhash of the key.
//   - [Redis]: shared backing store; the used transition runs as a Lua script.
//   - [Cached]: wraps another Store with a local revocation cache.
//
// # Binary encoding
//
// Records and families are stored in Redis as a compact binary format with a
// leading version byte and fixed-offset flag fields so Lua scripts can flip
// them without decoding the whole blob.
//
// # What this package must NOT do
//
//   - Import goRotate or jwt (no upward imports).
//   - Decide token validity. It reports state; the engine decides.
package store
