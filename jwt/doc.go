// Package jwt is the claim codec: it signs and verifies the access and refresh
// token strings handed to clients.
//
// Both token kinds share one [Claims] shape distinguished by the "typ" claim.
// Decode rejects tampered tokens with [ErrMalformed] and expired tokens with
// [ErrExpired] so callers can tell the two apart.
//
// # What this package must NOT do
//
//   - Touch the token store or decide whether a token was revoked.
//   - Import goRotate or store.
package jwt
