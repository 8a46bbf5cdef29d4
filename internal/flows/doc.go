// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunIssue, RunRefresh, RunRevoke, RunValidate, etc.)
// accepts a typed dependency struct and returns a result carrying a failure
// kind. The Engine maps failure kinds to public errors, metrics and audit
// events, which keeps the Engine thin and the flows testable with fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the token store, claim codec and user
// lookup. They do NOT own any of these resources; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goRotate (to avoid import cycles).
//   - Perform I/O directly: all I/O is mediated through dependency interfaces.
package flows
