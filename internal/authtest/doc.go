// Package authtest is an in-memory authentication server that speaks the
// /api/auth protocol the flow controllers consume. Tests run it behind
// httptest; the CLI serves it with the devserver command.
//
// It issues HS256 session tokens in an HTTP-only cookie, enforces the
// double-submit CSRF check on unsafe methods, and answers failures with the
// same {"code","message"} bodies as the production API. One-time codes are
// never mailed: callers read them with [Server.Code] or receive them through
// Config.OnCode.
//
// # What this package must NOT do
//
//   - Hash or persist passwords. Users live in memory for the life of the server.
//   - Serve production traffic.
package authtest
