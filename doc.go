// Package authflow drives the client side of account access: credential login
// with an optional OTP challenge, registration with email verification, and
// forgot/reset password recovery.
//
// Each flow is a controller created from an [App] (see [App.NewLogin],
// [App.NewRegistration], [App.NewRecovery]). A UI adapter calls controller
// methods and renders the returned snapshot; snapshots carry the stage, the
// form errors, the resend cooldown and the wrong-code budget. Controllers are
// safe to call from multiple goroutines but reject overlapping submissions
// with [ErrBusy].
//
// # Architecture boundaries
//
// authflow is the public surface. It exposes [App], [Builder], [Config], the
// controllers and their snapshots. The HTTP client lives in apiclient, the
// key-value backends in kv. Throttle records, reset sessions, attempt limits
// and error code translation live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Persist passwords, codes or tokens other than the reset session token.
//   - Retry a request on its own. Every network call maps to one user action.
//   - Commit a response that arrives after the controller was closed.
//   - Import any sub-package that re-imports authflow (no import cycles).
package authflow
