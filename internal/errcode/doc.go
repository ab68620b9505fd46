// Package errcode maps the closed set of server-issued error codes to the
// form slot (field or form level) and user-facing message a controller renders.
//
// # What this package must NOT do
//
//   - Hold state or perform I/O.
//   - Reveal which credential field was wrong for invalid-credential errors.
package errcode
