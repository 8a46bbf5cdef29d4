// Package internal contains helpers private to goRotate: identifier generation
// and device fingerprinting.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function flow orchestrators for issue, refresh and revocation
//   - metrics: lock-free counters and latency histograms
//   - rate: per-family refresh throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRotate API.
//   - Be imported by any package outside the goRotate module.
package internal
