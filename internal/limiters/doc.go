// Package limiters provides the per-flow attempt limiter that bounds wrong
// one-time-code submissions.
//
// # Semantics
//
// Counters are in memory only and keyed by flow identifier. A flow is
// exhausted once its count reaches MaxAttempts (default 5); it stays
// exhausted until Reset, which callers invoke when a fresh code is requested.
//
// All methods are nil-safe: calling any method on a nil receiver is a no-op.
//
// # What this package must NOT do
//
//   - Persist counts. Cooldowns persist, attempts do not.
//   - Decide consequences. Controllers gate submissions with Check and lock inputs based on
//     IsExhausted.
package limiters
