// Package reaper deletes expired token state on a schedule.
//
// A [Reaper] runs two independent tiers. The slow tier calls
// DeleteExpired on the token store (hourly by default) and removes refresh
// records, revoked markers and families whose expiry plus a grace period has
// passed. The fast tier (every minute by default) drops expired entries from
// a process-local revocation cache when the store carries one.
//
// Reaping only bounds storage growth. Expired tokens already fail signature
// verification, so a missed or failed sweep never makes a token valid.
package reaper
