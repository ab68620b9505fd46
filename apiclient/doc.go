// Package apiclient is the HTTP implementation of the authentication API the
// flow controllers consume.
//
// Requests and responses are JSON. A cookie jar carries the HTTP-only session
// cookie and the CSRF cookie between calls. Every unsafe method (anything but
// GET, HEAD and OPTIONS) sends the CSRF header copied from the CSRF cookie;
// when the cookie is missing the client first calls GET /api/auth/csrf.
//
// Non-2xx responses decode into [*Error] carrying the server error code.
// Failures without a response wrap [ErrTransport].
//
// # What this package must NOT do
//
//   - Retry requests. Every retry is an explicit user action.
//   - Expose or persist the session token; it stays in the cookie jar.
//   - Log request bodies, passwords or codes.
package apiclient
