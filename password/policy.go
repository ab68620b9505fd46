package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minLengthFloor   = 8
	defaultMinLength = 10
	maxPasswordBytes = 1024
)

var (
	// ErrPolicy is wrapped by every strength violation.
	ErrPolicy = errors.New("password policy violation")
	// ErrMismatch is returned when the confirmation differs.
	ErrMismatch = errors.New("passwords do not match")
)

// Config selects the strength rules.
type Config struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultConfig is the recovery policy: length >= 10 with upper, lower, digit
// and symbol.
func DefaultConfig() Config {
	return Config{
		MinLength:     defaultMinLength,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Policy checks candidate passwords against a Config.
type Policy struct {
	config      Config
	description string
}

// NewPolicy validates cfg and builds a Policy.
func NewPolicy(cfg Config) (*Policy, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Policy{
		config:      cfg,
		description: describe(cfg),
	}, nil
}

// Default returns the policy built from DefaultConfig.
func Default() *Policy {
	p, _ := NewPolicy(DefaultConfig())
	return p
}

func validateConfig(cfg Config) error {
	if cfg.MinLength < minLengthFloor {
		return fmt.Errorf("password min length must be >= %d", minLengthFloor)
	}
	if cfg.MinLength > maxPasswordBytes {
		return fmt.Errorf("password min length must be <= %d", maxPasswordBytes)
	}
	return nil
}

// Description is the user-facing summary of the rules.
func (p *Policy) Description() string {
	return p.description
}

// Config returns the rules the policy enforces.
func (p *Policy) Config() Config {
	return p.config
}

// Check returns nil when password satisfies every rule, otherwise an error
// wrapping ErrPolicy that names the first failed rule.
func (p *Policy) Check(password string) error {
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrPolicy, maxPasswordBytes)
	}
	if utf8.RuneCountInString(password) < p.config.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicy, p.config.MinLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			// Anything outside letters and digits counts, spaces included.
			symbol = true
		}
	}

	switch {
	case p.config.RequireUpper && !upper:
		return fmt.Errorf("%w: needs an upper-case letter", ErrPolicy)
	case p.config.RequireLower && !lower:
		return fmt.Errorf("%w: needs a lower-case letter", ErrPolicy)
	case p.config.RequireDigit && !digit:
		return fmt.Errorf("%w: needs a digit", ErrPolicy)
	case p.config.RequireSymbol && !symbol:
		return fmt.Errorf("%w: needs a symbol", ErrPolicy)
	}
	return nil
}

// CheckConfirmation runs Check and then compares the confirmation.
func (p *Policy) CheckConfirmation(password, confirm string) error {
	if err := p.Check(password); err != nil {
		return err
	}
	if password != confirm {
		return ErrMismatch
	}
	return nil
}

func describe(cfg Config) string {
	var parts []string
	if cfg.RequireUpper {
		parts = append(parts, "an upper-case letter")
	}
	if cfg.RequireLower {
		parts = append(parts, "a lower-case letter")
	}
	if cfg.RequireDigit {
		parts = append(parts, "a digit")
	}
	if cfg.RequireSymbol {
		parts = append(parts, "a symbol")
	}

	desc := fmt.Sprintf("Use at least %d characters", cfg.MinLength)
	switch len(parts) {
	case 0:
		return desc + "."
	case 1:
		return desc + " including " + parts[0] + "."
	default:
		return desc + " including " + strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1] + "."
	}
}
