// Package password implements the client-side password strength policy that
// gates reset submissions before any network call.
//
// # Default policy
//
// At least 10 characters with one upper-case letter, one lower-case letter,
// one digit and one non-alphanumeric symbol. Length counts runes.
//
// # Architecture boundaries
//
// This package owns the strength check and its human-readable description.
// The server enforces its own policy (error codes 100003/400003); this check
// only avoids round-trips that are certain to fail.
//
// # What this package must NOT do
//
//   - Hash, store or log passwords.
//   - Import any other authflow package.
package password
