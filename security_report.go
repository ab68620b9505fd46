package authflow

import "time"

// SecurityReport summarizes the anti-abuse posture of an App, for operators.
type SecurityReport struct {
	VerificationCooldown time.Duration
	RecoveryCooldown     time.Duration
	MaxAttempts          int
	DefaultSessionTTL    time.Duration
	MaxSessionTTL        time.Duration
	AutoConfirm          bool
	PasswordPolicy       string
	PersistentCooldowns  bool
	AuditEnabled         bool
	MetricsEnabled       bool
	Lint                 LintWarnings
}

// SecurityReport returns the effective anti-abuse settings.
func (a *App) SecurityReport() SecurityReport {
	if a == nil {
		return SecurityReport{}
	}

	cfg := a.config
	return SecurityReport{
		VerificationCooldown: cfg.Verification.ResendCooldown,
		RecoveryCooldown:     cfg.Recovery.ResendCooldown,
		MaxAttempts:          cfg.Attempts.MaxAttempts,
		DefaultSessionTTL:    cfg.Recovery.DefaultSessionTTL,
		MaxSessionTTL:        cfg.Recovery.MaxSessionTTL,
		AutoConfirm:          cfg.Recovery.AutoConfirm,
		PasswordPolicy:       a.policy.Description(),
		PersistentCooldowns:  a.persistentConfigured,
		AuditEnabled:         cfg.Audit.Enabled,
		MetricsEnabled:       a.metrics.Enabled(),
		Lint:                 cfg.Lint(),
	}
}
