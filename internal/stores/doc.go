// Package stores persists the client-side state of the authentication flows:
// resend cooldowns, reset sessions and the signed-in email.
//
// # Design
//
// Each record is a versioned binary encoding stored in a [kv.Store] with a TTL
// equal to its remaining lifetime. Reads self-heal: an expired or unreadable
// record is deleted and reported as absent, so a restart never resurrects a
// stale "code sent" stage or an expired reset session.
//
// Throttle records live in the persistent store. Reset sessions and the
// signed-in email live in the session-scoped store.
//
// # What this package must NOT do
//
//   - Count attempts. Attempt counters are in-memory (internal/limiters).
//   - Store passwords or authentication tokens.
//   - Run timers. Countdowns belong to internal/countdown.
package stores
