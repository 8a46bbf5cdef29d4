// Package rate provides fixed-window refresh throttles keyed by token family.
//
// # Window semantics
//
// Redis: INCR + conditional EXPIRE on first hit, key "<prefix>:rl:<family>".
// Memory: the same window kept in a map, pruned once per window.
//
// # What this package must NOT do
//
//   - Decide what happens to a throttled request (the engine maps the error).
//   - Be imported outside the goRotate module.
package rate
