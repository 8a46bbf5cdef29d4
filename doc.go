// Package goRotate issues short-lived access tokens and single-use rotating
// refresh tokens, and keeps the revocation state that decides whether a
// presented token is still honoured.
//
// Every refresh token belongs to a family: the chain of tokens produced by
// rotating one login. Redeeming a refresh token marks it used and mints a
// successor in the same family. Presenting a token that was already used is
// treated as theft and revokes the whole family, so both the attacker and the
// legitimate client lose access and must log in again.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// goRotate is the public surface: [Engine], [Builder], [Config] and value
// types ([TokenPair], [SessionInfo], [AuthResult]). Flow orchestration, audit
// dispatch and metric counters live under internal/. Persistence goes through
// the [store.Store] interface; the in-process sharded store is the default and
// a Redis store is available through [Builder.WithRedis].
//
// # What this package must NOT do
//
//   - Hold a store lock across the user lookup during rotation.
//   - Fail a call because an audit sink or the session cap eviction failed.
//   - Import any sub-package that re-imports goRotate (no import cycles).
package goRotate
