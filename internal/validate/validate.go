// Package validate holds the local input checks that run before any network
// call: email shape, full name and base currency.
package validate

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/currency"
)

const maxFullNameRunes = 100

// The local part is dot-separated RFC 5322 atext. The top-level label is
// either alphabetic or an IDNA A-label.
var emailPattern = regexp.MustCompile(
	"^[a-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[a-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
		`@(?:[a-z0-9-]+\.)+(?:[a-z]{2,24}|xn--[a-z0-9-]{1,59})$`)

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrEmailInvalid     = errors.New("enter a valid email address")
	ErrPasswordRequired = errors.New("password is required")
	ErrCodeRequired     = errors.New("code is required")
	ErrFullNameRequired = errors.New("full name is required")
	ErrFullNameTooLong  = errors.New("full name is too long")
	ErrCurrencyInvalid  = errors.New("choose a valid ISO 4217 currency")
)

// NormalizeEmail trims and lower-cases an address. Every comparison and
// transmission uses the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Email checks an already normalized address.
func Email(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return ErrEmailInvalid
	}
	return nil
}

// Password only checks presence; strength rules live in package password.
func Password(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	return nil
}

// Code checks a one-time code or recovery token is present.
func Code(code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrCodeRequired
	}
	return nil
}

// FullName checks a display name is present and bounded.
func FullName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrFullNameRequired
	}
	if utf8.RuneCountInString(name) > maxFullNameRunes {
		return ErrFullNameTooLong
	}
	return nil
}

// Currency parses an ISO 4217 code such as "USD" and returns its canonical
// form.
func Currency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrCurrencyInvalid
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", ErrCurrencyInvalid
	}
	return unit.String(), nil
}
