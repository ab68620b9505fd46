package authflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authflow/password"
)

// Config holds every tunable of the flow controllers.
//
// Config is copied by Builder.WithConfig and treated as immutable afterwards.
type Config struct {
	Login        LoginConfig
	Verification VerificationConfig
	Recovery     RecoveryConfig
	Attempts     AttemptsConfig
	Password     password.Config
	Countdown    CountdownConfig
	Storage      StorageConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
FLOW CONFIG
====================================
*/

// LoginConfig configures the credential and OTP login flow.
type LoginConfig struct {
	// FlowID keys the login attempt counter.
	FlowID string
	// OTPCountdown shows the server-announced OTP validity. The countdown is
	// informational; expired codes are still submitted and judged server-side.
	OTPCountdown bool
}

// VerificationConfig configures registration email verification.
type VerificationConfig struct {
	FlowID         string
	ResendCooldown time.Duration
}

// RecoveryConfig configures the forgot and reset password flow.
type RecoveryConfig struct {
	FlowID         string
	ResendCooldown time.Duration
	// DefaultSessionTTL applies when the server omits expiresInSeconds.
	DefaultSessionTTL time.Duration
	// MaxSessionTTL caps the server-announced reset session lifetime.
	MaxSessionTTL time.Duration
	// AutoConfirm confirms a code/email pair found in the navigation context
	// on Load.
	AutoConfirm bool
}

// AttemptsConfig bounds wrong one-time-code submissions per code.
type AttemptsConfig struct {
	MaxAttempts int
}

// CountdownConfig configures the periodic timers.
type CountdownConfig struct {
	TickInterval time.Duration
}

// StorageConfig configures the key layout of the stores.
type StorageConfig struct {
	KeyPrefix string
}

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Login: LoginConfig{
			FlowID:       "login-otp",
			OTPCountdown: true,
		},
		Verification: VerificationConfig{
			FlowID:         "verify-email",
			ResendCooldown: 60 * time.Second,
		},
		Recovery: RecoveryConfig{
			FlowID:            "forgot-password",
			ResendCooldown:    60 * time.Second,
			DefaultSessionTTL: 120 * time.Second,
			MaxSessionTTL:     15 * time.Minute,
			AutoConfirm:       true,
		},
		Attempts: AttemptsConfig{
			MaxAttempts: 5,
		},
		Password: password.DefaultConfig(),
		Countdown: CountdownConfig{
			TickInterval: time.Second,
		},
		Storage: StorageConfig{
			KeyPrefix: "authflow",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the defaults Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the controllers cannot run with.
func (c *Config) Validate() error {
	// Flow identifiers
	ids := map[string]string{
		"Login FlowID":        c.Login.FlowID,
		"Verification FlowID": c.Verification.FlowID,
		"Recovery FlowID":     c.Recovery.FlowID,
	}
	seen := make(map[string]bool, len(ids))
	for name, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
		if strings.ContainsAny(id, " \t\r\n:") {
			return fmt.Errorf("%s must not contain whitespace or ':'", name)
		}
		if seen[id] {
			return fmt.Errorf("flow id %q is used by more than one flow", id)
		}
		seen[id] = true
	}

	// Cooldowns
	if c.Verification.ResendCooldown <= 0 {
		return errors.New("Verification ResendCooldown must be > 0")
	}
	if c.Recovery.ResendCooldown <= 0 {
		return errors.New("Recovery ResendCooldown must be > 0")
	}

	// Reset session
	if c.Recovery.DefaultSessionTTL <= 0 {
		return errors.New("Recovery DefaultSessionTTL must be > 0")
	}
	if c.Recovery.MaxSessionTTL < c.Recovery.DefaultSessionTTL {
		return errors.New("Recovery MaxSessionTTL must be >= DefaultSessionTTL")
	}

	// Attempts
	if c.Attempts.MaxAttempts <= 0 {
		return errors.New("Attempts MaxAttempts must be > 0")
	}
	if c.Attempts.MaxAttempts > 20 {
		return errors.New("Attempts MaxAttempts must be <= 20")
	}

	// Password
	if _, err := password.NewPolicy(c.Password); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	// Countdown
	if c.Countdown.TickInterval < 10*time.Millisecond {
		return errors.New("Countdown TickInterval must be >= 10ms")
	}
	if c.Countdown.TickInterval > c.Verification.ResendCooldown ||
		c.Countdown.TickInterval > c.Recovery.ResendCooldown {
		return errors.New("Countdown TickInterval must not exceed the resend cooldowns")
	}

	// Storage
	if strings.TrimSpace(c.Storage.KeyPrefix) == "" {
		return errors.New("Storage KeyPrefix must not be empty")
	}
	if strings.ContainsAny(c.Storage.KeyPrefix, " \t\r\n") {
		return errors.New("Storage KeyPrefix must not contain whitespace")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintSeverity ranks configuration warnings.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintHigh:
		return "HIGH"
	case LintWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// LintWarning is a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns warnings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns an error listing warnings at or above min, or nil.
func (ws LintWarnings) AsError(min LintSeverity) error {
	hits := ws.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, 0, len(hits))
	for _, w := range hits {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return errors.New("config lint: " + strings.Join(parts, "; "))
}

// Lint reports settings that weaken the anti-abuse posture without being
// invalid.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.Recovery.ResendCooldown < 30*time.Second || c.Verification.ResendCooldown < 30*time.Second {
		add("cooldown_short", LintWarn, "resend cooldowns under 30s allow rapid code requests")
	}
	if c.Recovery.ResendCooldown > 10*time.Minute || c.Verification.ResendCooldown > 10*time.Minute {
		add("cooldown_long", LintInfo, "resend cooldowns over 10m lock users out of recovery for long")
	}
	if c.Attempts.MaxAttempts > 5 {
		add("attempts_high", LintHigh, "more than 5 wrong codes per code widens the guessing window")
	}
	if c.Recovery.MaxSessionTTL > 15*time.Minute {
		add("reset_session_long", LintWarn, "reset sessions over 15m outlive their purpose")
	}
	if c.Password.MinLength < 10 {
		add("password_min_length_low", LintWarn, "reset passwords shorter than 10 characters are accepted")
	}
	if !c.Password.RequireUpper || !c.Password.RequireLower || !c.Password.RequireDigit || !c.Password.RequireSymbol {
		add("password_classes_relaxed", LintInfo, "not every character class is required")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "flow events are not audited")
	}
	if !c.Metrics.Enabled {
		add("metrics_disabled", LintInfo, "flow counters are not collected")
	}

	return ws
}
