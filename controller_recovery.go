package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/countdown"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/internal/limiters"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/internal/validate"
	"github.com/MrEthical07/authflow/password"
)

// RecoveryStage is the position of a forgot/reset password flow.
type RecoveryStage uint8

const (
	RecoveryIdle RecoveryStage = iota
	RecoveryCodeSent
	RecoverySessionActive
	RecoveryCompleted
	// RecoveryLocked is reached when the wrong-code budget is spent. Only a
	// new RequestCode leaves it.
	RecoveryLocked
	// RecoverySessionExpired is reached when the reset session lapses before
	// a password was set. A code must be confirmed again.
	RecoverySessionExpired
)

func (s RecoveryStage) String() string {
	switch s {
	case RecoveryCodeSent:
		return "code_sent"
	case RecoverySessionActive:
		return "session_active"
	case RecoveryCompleted:
		return "completed"
	case RecoveryLocked:
		return "locked"
	case RecoverySessionExpired:
		return "session_expired"
	default:
		return "idle"
	}
}

// RecoverySnapshot is the render state of a recovery flow.
type RecoverySnapshot struct {
	Stage  RecoveryStage
	Email  string
	Code   string
	Busy   bool
	Errors FormErrors

	Attempts   Attempts
	Cooldown   Cooldown
	CanResend  bool
	CanConfirm bool
	// SessionExpiresIn is the reset session lifetime left, zero without one.
	SessionExpiresIn time.Duration
	// PasswordPolicy describes the rules SubmitReset enforces.
	PasswordPolicy string
	Navigate       Navigation
}

// RecoveryController drives forgot password, code confirmation and the final
// password reset. The resend cooldown persists across restarts; the reset
// session lives in the session store only.
type RecoveryController struct {
	flowCore

	mu       sync.Mutex
	listener func(RecoverySnapshot)
	attempts *limiters.AttemptLimiter

	stage  RecoveryStage
	email  string
	code   string
	busy   bool
	errors FormErrors

	cooldownUntil time.Time
	cooldownTimer *countdown.Countdown
	cooldownGen   uint64

	session      *stores.ResetSession
	sessionTimer *countdown.Countdown
	sessionGen   uint64

	navigate Navigation
}

// NewRecovery creates a recovery controller bound to a. Call Load before the
// first render to resume persisted state.
func (a *App) NewRecovery() (*RecoveryController, error) {
	c := &RecoveryController{
		attempts: limiters.NewAttemptLimiter(limiters.AttemptConfig{MaxAttempts: a.config.Attempts.MaxAttempts}),
	}
	c.init(a, "recovery")
	if err := a.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// OnUpdate installs fn as the listener for every state change, including
// countdown ticks and expiries.
func (c *RecoveryController) OnUpdate(fn func(RecoverySnapshot)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *RecoveryController) Snapshot() RecoverySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Load restores the flow after a restart:
//  1. a still-valid reset session resumes SessionActive with its countdown;
//  2. an active resend cooldown is restored with its exact remaining wait;
//  3. without a session, a code/email pair in nav is confirmed automatically.
//
// Load never requests a new code.
func (c *RecoveryController) Load(ctx context.Context, nav NavigationContext) (RecoverySnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage != RecoveryIdle {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	cfg := c.app.config.Recovery
	session, err := c.app.resets.Load(ctx, cfg.FlowID)
	if err != nil {
		c.storeFailure(ctx, "load_reset_session", err)
		session = nil
	}
	record, err := c.app.throttle.Restore(ctx, cfg.FlowID)
	if err != nil {
		c.storeFailure(ctx, "restore_cooldown", err)
		record = nil
	}

	if record != nil {
		c.stage = RecoveryCodeSent
		c.email = record.Email
		c.startCooldownTimerLocked(record.CooldownUntil)
		c.app.metrics.Inc(MetricCooldownRestored)
		c.logger.DebugContext(ctx, "recovery cooldown restored", "remaining", record.Remaining(c.now()))
	}

	if session != nil {
		c.session = session
		c.stage = RecoverySessionActive
		c.startSessionTimerLocked(session.ExpiresAt)
		c.audit(ctx, auditEventRecoveryResumed, c.email, true, nil)
		return c.publishLocked(), nil
	}

	token := strings.TrimSpace(nav.Token)
	if !cfg.AutoConfirm || token == "" || strings.TrimSpace(nav.Email) == "" {
		return c.publishLocked(), nil
	}
	c.publishLocked()
	return c.ConfirmCode(ctx, token, nav.Email)
}

// RequestCode sends a recovery code to email and starts the resend cooldown.
// A fresh code restores the wrong-code budget and lifts RecoveryLocked.
func (c *RecoveryController) RequestCode(ctx context.Context, email string) (RecoverySnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage == RecoverySessionActive || c.stage == RecoveryCompleted {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	email = validate.NormalizeEmail(email)
	if err := validate.Email(email); err != nil {
		c.errors = FormErrors{}
		c.errors.set(FieldEmail, emailMessage(err))
		c.validationFailed(ctx, c.errors)
		return c.publishLocked(), ErrValidation
	}
	if newCooldown(c.cooldownUntil, c.now()).Active() {
		c.app.metrics.Inc(MetricCooldownRejected)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrCooldownActive
	}

	c.email = email
	c.errors = FormErrors{}
	c.busy = true
	c.publishLocked()

	err := c.call(ctx, func(ctx context.Context) error {
		return c.app.api.Forgot(ctx, email)
	})

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "forgot")
		return RecoverySnapshot{}, ErrClosed
	}

	if err != nil {
		reqErr := c.app.requestError(c.name, "forgot", err)
		c.errors = singleError(reqErr)
		c.audit(ctx, auditEventRecoveryRequested, email, false, reqErr)
		return c.publishLocked(), reqErr
	}

	cfg := c.app.config.Recovery
	c.stage = RecoveryCodeSent
	c.code = ""
	c.attempts.Reset(cfg.FlowID)
	until := c.now().Add(cfg.ResendCooldown)
	record, err := c.app.throttle.StartCooldown(ctx, cfg.FlowID, email, cfg.ResendCooldown)
	if err != nil {
		c.storeFailure(ctx, "start_cooldown", err)
	} else {
		until = record.CooldownUntil
	}
	c.startCooldownTimerLocked(until)
	c.app.metrics.Inc(MetricCooldownStarted)
	c.app.metrics.Inc(MetricRecoveryCodeRequested)
	c.audit(ctx, auditEventRecoveryRequested, email, true, nil)
	return c.publishLocked(), nil
}

// SetCode records the recovery code input.
func (c *RecoveryController) SetCode(code string) RecoverySnapshot {
	c.mu.Lock()
	if c.closed.Load() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}
	c.code = code
	return c.publishLocked()
}

// ConfirmCode exchanges a recovery code for a reset session. An empty email
// falls back to the address the code was requested for.
func (c *RecoveryController) ConfirmCode(ctx context.Context, token, email string) (RecoverySnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	cfg := c.app.config.Recovery
	switch c.stage {
	case RecoveryIdle, RecoveryCodeSent, RecoverySessionExpired:
	case RecoveryLocked:
		c.errors = FormErrors{}
		c.errors.set(FieldCode, errcode.MsgAttemptsExhausted)
		return c.publishLocked(), ErrAttemptsExhausted
	default:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	c.code = token
	token = strings.TrimSpace(token)
	if strings.TrimSpace(email) == "" {
		email = c.email
	}
	email = validate.NormalizeEmail(email)

	var fe FormErrors
	if err := validate.Email(email); err != nil {
		fe.set(FieldEmail, emailMessage(err))
	}
	if err := validate.Code(token); err != nil {
		fe.set(FieldCode, errcode.MsgCodeRequired)
	}
	if !fe.Empty() {
		c.errors = fe
		c.validationFailed(ctx, fe)
		return c.publishLocked(), ErrValidation
	}

	c.email = email
	c.errors = FormErrors{}
	c.busy = true
	c.publishLocked()

	var resp *apiclient.ConfirmResetResponse
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.app.api.ConfirmReset(ctx, apiclient.ConfirmResetRequest{Token: token, Email: email})
		return err
	})
	if err == nil && resp.ResetSessionToken == "" {
		err = fmt.Errorf("%w: confirm response carried no reset session", apiclient.ErrDecode)
	}

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "reset_confirm")
		return RecoverySnapshot{}, ErrClosed
	}

	if err != nil {
		reqErr := c.app.requestError(c.name, "reset_confirm", err)
		c.app.metrics.Inc(MetricRecoveryConfirmFailure)
		c.stage = RecoveryCodeSent
		if reqErr.InvalidCode() {
			c.attempts.Increment(cfg.FlowID)
			if c.attempts.IsExhausted(cfg.FlowID) {
				c.stage = RecoveryLocked
				c.app.metrics.Inc(MetricAttemptsExhausted)
				c.audit(ctx, auditEventAttemptsExhausted, email, false, reqErr)
			}
		}
		c.errors = singleError(reqErr)
		c.audit(ctx, auditEventOTPFailure, email, false, reqErr)
		return c.publishLocked(), reqErr
	}

	session := stores.ResetSession{
		Token:     resp.ResetSessionToken,
		ExpiresAt: c.now().Add(c.sessionTTL(resp.ExpiresInSeconds)),
	}
	if err := c.app.resets.Save(ctx, cfg.FlowID, session); err != nil {
		c.storeFailure(ctx, "save_reset_session", err)
	}
	c.session = &session
	c.attempts.Reset(cfg.FlowID)
	c.stage = RecoverySessionActive
	c.startSessionTimerLocked(session.ExpiresAt)
	c.app.metrics.Inc(MetricRecoveryConfirmSuccess)
	c.audit(ctx, auditEventRecoveryConfirmed, email, true, nil)
	return c.publishLocked(), nil
}

// SubmitReset sets the new password. It needs a held, unexpired reset
// session; the password policy and the confirmation are checked before
// anything is sent.
func (c *RecoveryController) SubmitReset(ctx context.Context, newPassword, confirmPassword string) (RecoverySnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage == RecoveryCompleted {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}
	if !c.session.Valid(c.now()) {
		c.expireSessionLocked(ctx)
		return c.publishLocked(), ErrResetSessionExpired
	}

	var fe FormErrors
	if err := c.app.policy.CheckConfirmation(newPassword, confirmPassword); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			fe.set(FieldConfirmPassword, errcode.MsgPasswordMismatch)
		} else {
			fe.set(FieldPassword, c.app.policy.Description())
		}
	}
	if !fe.Empty() {
		c.errors = fe
		c.validationFailed(ctx, fe)
		return c.publishLocked(), ErrValidation
	}

	sessionToken := c.session.Token
	email := c.email
	c.errors = FormErrors{}
	c.busy = true
	c.publishLocked()

	err := c.call(ctx, func(ctx context.Context) error {
		return c.app.api.Reset(ctx, apiclient.ResetRequest{ResetSessionToken: sessionToken, Password: newPassword})
	})

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "reset")
		return RecoverySnapshot{}, ErrClosed
	}

	flowID := c.app.config.Recovery.FlowID
	if err != nil {
		reqErr := c.app.requestError(c.name, "reset", err)
		c.app.metrics.Inc(MetricRecoveryResetFailure)
		if apiclient.IsSessionInvalid(err) {
			c.dropSessionLocked(ctx)
			c.stage = RecoveryCodeSent
			c.errors = FormErrors{}
			c.errors.set(FieldForm, errcode.MsgSessionExpired)
			c.app.metrics.Inc(MetricResetSessionExpired)
			c.audit(ctx, auditEventResetSessionExpired, email, false, reqErr)
			return c.publishLocked(), fmt.Errorf("%w: %w", ErrResetSessionExpired, reqErr)
		}
		// The session timer skips a busy flow, so a lapse during the call
		// lands here.
		if !c.session.Valid(c.now()) {
			c.expireSessionLocked(ctx)
			return c.publishLocked(), fmt.Errorf("%w: %w", ErrResetSessionExpired, reqErr)
		}
		c.errors = singleError(reqErr)
		c.audit(ctx, auditEventPasswordReset, email, false, reqErr)
		return c.publishLocked(), reqErr
	}

	c.dropSessionLocked(ctx)
	c.stopCooldownTimerLocked()
	c.cooldownUntil = time.Time{}
	if err := c.app.throttle.Clear(ctx, flowID); err != nil {
		c.storeFailure(ctx, "clear_cooldown", err)
	}
	c.stage = RecoveryCompleted
	c.code = ""
	c.navigate = NavigateLogin
	c.app.metrics.Inc(MetricRecoveryResetSuccess)
	c.audit(ctx, auditEventPasswordReset, email, true, nil)
	c.logger.InfoContext(ctx, "password reset completed")
	return c.publishLocked(), nil
}

// Close stops both countdowns and detaches the controller. The persisted
// cooldown and reset session stay for the next Load.
func (c *RecoveryController) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.stopCooldownTimerLocked()
	c.stopSessionTimerLocked()
	c.listener = nil
	c.mu.Unlock()
	c.app.release(c)
}

func (c *RecoveryController) guardLocked() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	return nil
}

// sessionTTL applies the configured default and cap to the server value.
func (c *RecoveryController) sessionTTL(expiresInSeconds int) time.Duration {
	cfg := c.app.config.Recovery
	ttl := time.Duration(expiresInSeconds) * time.Second
	if ttl <= 0 {
		ttl = cfg.DefaultSessionTTL
	}
	if cfg.MaxSessionTTL > 0 && ttl > cfg.MaxSessionTTL {
		ttl = cfg.MaxSessionTTL
	}
	return ttl
}

// expireSessionLocked forgets the reset session and asks for a new
// confirmation. RecoveryLocked is kept since only a new code lifts it.
func (c *RecoveryController) expireSessionLocked(ctx context.Context) {
	c.dropSessionLocked(ctx)
	if c.stage != RecoveryLocked {
		c.stage = RecoverySessionExpired
	}
	c.errors = FormErrors{}
	c.errors.set(FieldForm, errcode.MsgSessionExpired)
	c.app.metrics.Inc(MetricResetSessionExpired)
	c.audit(ctx, auditEventResetSessionExpired, c.email, false, ErrResetSessionExpired)
}

func (c *RecoveryController) dropSessionLocked(ctx context.Context) {
	c.stopSessionTimerLocked()
	c.session = nil
	if err := c.app.resets.Clear(ctx, c.app.config.Recovery.FlowID); err != nil {
		c.storeFailure(ctx, "clear_reset_session", err)
	}
}

func (c *RecoveryController) startCooldownTimerLocked(until time.Time) {
	c.stopCooldownTimerLocked()
	c.cooldownUntil = until
	gen := c.cooldownGen
	c.cooldownTimer = c.startCountdown(until,
		func(time.Duration) { c.onCooldownTimer(gen) },
		func() { c.onCooldownTimer(gen) },
	)
}

func (c *RecoveryController) stopCooldownTimerLocked() {
	c.cooldownTimer.Stop()
	c.cooldownTimer = nil
	c.cooldownGen++
}

// onCooldownTimer only re-renders: expiry re-enables resend and leaves the
// entered code alone.
func (c *RecoveryController) onCooldownTimer(gen uint64) {
	c.mu.Lock()
	if c.closed.Load() || gen != c.cooldownGen {
		c.mu.Unlock()
		return
	}
	c.publishLocked()
}

func (c *RecoveryController) startSessionTimerLocked(expiresAt time.Time) {
	c.stopSessionTimerLocked()
	gen := c.sessionGen
	c.sessionTimer = c.startCountdown(expiresAt,
		func(time.Duration) { c.onSessionTick(gen) },
		func() { c.onSessionExpired(gen) },
	)
}

func (c *RecoveryController) stopSessionTimerLocked() {
	c.sessionTimer.Stop()
	c.sessionTimer = nil
	c.sessionGen++
}

func (c *RecoveryController) onSessionTick(gen uint64) {
	c.mu.Lock()
	if c.closed.Load() || gen != c.sessionGen {
		c.mu.Unlock()
		return
	}
	c.publishLocked()
}

func (c *RecoveryController) onSessionExpired(gen uint64) {
	c.mu.Lock()
	if c.closed.Load() || gen != c.sessionGen || c.stage != RecoverySessionActive {
		c.mu.Unlock()
		return
	}
	// A busy reset applies the lapse once its response arrives.
	if c.busy {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	c.expireSessionLocked(ctx)
	c.publishLocked()
}

// publishLocked releases c.mu and notifies the listener.
func (c *RecoveryController) publishLocked() RecoverySnapshot {
	snap := c.snapshotLocked()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return snap
}

func (c *RecoveryController) snapshotLocked() RecoverySnapshot {
	flowID := c.app.config.Recovery.FlowID
	now := c.now()
	cooldown := newCooldown(c.cooldownUntil, now)
	locked := c.stage == RecoveryLocked
	codeStage := c.stage == RecoveryIdle || c.stage == RecoveryCodeSent || c.stage == RecoverySessionExpired

	var sessionLeft time.Duration
	if c.session != nil {
		sessionLeft = remainingOf(c.session.ExpiresAt, now)
	}

	return RecoverySnapshot{
		Stage:  c.stage,
		Email:  c.email,
		Code:   c.code,
		Busy:   c.busy,
		Errors: c.errors.clone(),
		Attempts: Attempts{
			Used:   c.attempts.Count(flowID),
			Max:    c.attempts.Max(),
			Locked: locked,
		},
		Cooldown:         cooldown,
		CanResend:        !cooldown.Active() && !c.busy && c.stage != RecoverySessionActive && c.stage != RecoveryCompleted,
		CanConfirm:       codeStage && strings.TrimSpace(c.code) != "" && !c.busy,
		SessionExpiresIn: sessionLeft,
		PasswordPolicy:   c.app.policy.Description(),
		Navigate:         c.navigate,
	}
}
