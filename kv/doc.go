// Package kv provides the key-value capability the flow controllers persist
// client state through.
//
// Two roles use the same [Store] interface:
//
//   - the persistent store holds throttle records that must survive a
//     restart ([RedisStore] when state is shared, [SQLiteStore] for a local
//     file, [MemoryStore] in tests);
//   - the session-scoped store holds the reset session and the signed-in
//     email and is dropped with the application ([MemoryStore]).
//
// Values are opaque bytes. A ttl <= 0 means no expiry. Expired keys read as
// [ErrNotFound].
//
// # What this package must NOT do
//
//   - Interpret values or know about flows.
//   - Retry failed backend calls.
package kv
