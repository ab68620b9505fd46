package authflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/countdown"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/internal/limiters"
	"github.com/MrEthical07/authflow/internal/validate"
)

// RegistrationStage is the position of a registration flow.
type RegistrationStage uint8

const (
	RegistrationAwaitingDetails RegistrationStage = iota
	RegistrationOTPPending
	RegistrationAuthenticated
)

func (s RegistrationStage) String() string {
	switch s {
	case RegistrationOTPPending:
		return "otp_pending"
	case RegistrationAuthenticated:
		return "authenticated"
	default:
		return "awaiting_details"
	}
}

// RegistrationDetails is the registration form.
type RegistrationDetails struct {
	Email        string
	Password     string
	FullName     string
	BaseCurrency string
}

// RegistrationSnapshot is the render state of a registration flow.
type RegistrationSnapshot struct {
	Stage        RegistrationStage
	Email        string
	Code         string
	Busy         bool
	Errors       FormErrors
	Attempts     Attempts
	CanSubmitOTP bool
	// Cooldown blocks ResendCode while active.
	Cooldown  Cooldown
	CanResend bool
	Navigate  Navigation
}

// RegistrationController drives registration through mandatory email
// verification. There is no path from registration to an authenticated
// session that skips the code.
type RegistrationController struct {
	flowCore

	mu       sync.Mutex
	listener func(RegistrationSnapshot)
	attempts *limiters.AttemptLimiter

	stage  RegistrationStage
	email  string
	code   string
	busy   bool
	errors FormErrors

	cooldownUntil time.Time
	cooldownTimer *countdown.Countdown
	cooldownGen   uint64

	navigate Navigation
}

// NewRegistration creates a registration controller bound to a.
func (a *App) NewRegistration() (*RegistrationController, error) {
	c := &RegistrationController{
		attempts: limiters.NewAttemptLimiter(limiters.AttemptConfig{MaxAttempts: a.config.Attempts.MaxAttempts}),
	}
	c.init(a, "registration")
	if err := a.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// OnUpdate installs fn as the listener for every state change.
func (c *RegistrationController) OnUpdate(fn func(RegistrationSnapshot)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *RegistrationController) Snapshot() RegistrationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Restore resumes a verification that was pending when the process stopped:
// an active cooldown with its email moves the flow to RegistrationOTPPending
// with the remaining wait. No code is requested.
func (c *RegistrationController) Restore(ctx context.Context) (RegistrationSnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage != RegistrationAwaitingDetails {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	record, err := c.app.throttle.Restore(ctx, c.app.config.Verification.FlowID)
	if err != nil {
		c.storeFailure(ctx, "restore_cooldown", err)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, wrapStoreError(err)
	}
	if record == nil || record.Email == "" {
		return c.publishLocked(), nil
	}

	c.stage = RegistrationOTPPending
	c.email = record.Email
	c.startCooldownTimerLocked(record.CooldownUntil)
	c.app.metrics.Inc(MetricCooldownRestored)
	c.logger.DebugContext(ctx, "verification cooldown restored", "remaining", record.Remaining(c.now()))
	return c.publishLocked(), nil
}

// SubmitRegistration validates all four fields locally and creates the
// account. Success always leads to the verification code step.
func (c *RegistrationController) SubmitRegistration(ctx context.Context, details RegistrationDetails) (RegistrationSnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage != RegistrationAwaitingDetails {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	email := validate.NormalizeEmail(details.Email)
	fullName := strings.TrimSpace(details.FullName)
	var fe FormErrors
	if err := validate.Email(email); err != nil {
		fe.set(FieldEmail, emailMessage(err))
	}
	if err := validate.Password(details.Password); err != nil {
		fe.set(FieldPassword, errcode.MsgPasswordRequired)
	}
	if err := validate.FullName(fullName); err != nil {
		fe.set(FieldFullName, fullNameMessage(err))
	}
	currency, err := validate.Currency(details.BaseCurrency)
	if err != nil {
		fe.set(FieldBaseCurrency, errcode.MsgCurrencyInvalid)
	}
	if !fe.Empty() {
		c.errors = fe
		c.validationFailed(ctx, fe)
		return c.publishLocked(), ErrValidation
	}

	c.errors = FormErrors{}
	c.busy = true
	c.publishLocked()

	c.app.metrics.Inc(MetricRegistrationSubmitted)
	err = c.call(ctx, func(ctx context.Context) error {
		_, err := c.app.api.Register(ctx, apiclient.RegisterRequest{
			Email:        email,
			Password:     details.Password,
			FullName:     fullName,
			BaseCurrency: currency,
		})
		return err
	})

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "register")
		return RegistrationSnapshot{}, ErrClosed
	}

	if err != nil {
		reqErr := c.app.requestError(c.name, "register", err)
		c.app.metrics.Inc(MetricRegistrationFailure)
		c.errors = singleError(reqErr)
		c.audit(ctx, auditEventRegistrationSubmitted, email, false, reqErr)
		return c.publishLocked(), reqErr
	}

	c.email = email
	c.stage = RegistrationOTPPending
	c.code = ""
	c.attempts.Reset(c.app.config.Verification.FlowID)
	c.startCooldownLocked(ctx)
	c.audit(ctx, auditEventRegistrationSubmitted, email, true, nil)
	return c.publishLocked(), nil
}

// SetCode records the verification code input.
func (c *RegistrationController) SetCode(code string) RegistrationSnapshot {
	c.mu.Lock()
	if c.closed.Load() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}
	c.code = code
	return c.publishLocked()
}

// SubmitOTP confirms the verification code and signs the user in.
func (c *RegistrationController) SubmitOTP(ctx context.Context, code string) (RegistrationSnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage != RegistrationOTPPending {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	flowID := c.app.config.Verification.FlowID
	c.code = code
	if err := c.attempts.Check(flowID); err != nil {
		c.errors = FormErrors{}
		c.errors.set(FieldCode, errcode.MsgAttemptsExhausted)
		return c.publishLocked(), ErrAttemptsExhausted
	}
	code = strings.TrimSpace(code)
	if err := validate.Code(code); err != nil {
		c.errors = FormErrors{}
		c.errors.set(FieldCode, errcode.MsgCodeRequired)
		c.validationFailed(ctx, c.errors)
		return c.publishLocked(), ErrValidation
	}

	email := c.email
	c.errors = FormErrors{}
	c.busy = true
	c.publishLocked()

	err := c.call(ctx, func(ctx context.Context) error {
		_, err := c.app.api.Verify(ctx, apiclient.VerifyRequest{Email: email, Token: code})
		return err
	})

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "verify")
		return RegistrationSnapshot{}, ErrClosed
	}

	if err != nil {
		reqErr := c.app.requestError(c.name, "verify", err)
		c.app.metrics.Inc(MetricVerificationFailure)
		if reqErr.InvalidCode() {
			c.attempts.Increment(flowID)
			if c.attempts.IsExhausted(flowID) {
				c.app.metrics.Inc(MetricAttemptsExhausted)
				c.audit(ctx, auditEventAttemptsExhausted, email, false, reqErr)
			}
		}
		c.errors = singleError(reqErr)
		c.audit(ctx, auditEventOTPFailure, email, false, reqErr)
		return c.publishLocked(), reqErr
	}

	c.stopCooldownTimerLocked()
	c.cooldownUntil = time.Time{}
	if err := c.app.throttle.Clear(ctx, flowID); err != nil {
		c.storeFailure(ctx, "clear_cooldown", err)
	}
	if err := c.app.identity.SaveEmail(ctx, email); err != nil {
		c.storeFailure(ctx, "save_email", err)
	}
	c.stage = RegistrationAuthenticated
	c.code = ""
	c.navigate = NavigateDashboard
	c.app.metrics.Inc(MetricVerificationSuccess)
	c.audit(ctx, auditEventVerificationSuccess, email, true, nil)
	c.logger.InfoContext(ctx, "registration verified")
	return c.publishLocked(), nil
}

// ResendCode requests a fresh verification code. It is refused locally while
// the cooldown runs. A fresh code restores the wrong-code budget.
func (c *RegistrationController) ResendCode(ctx context.Context) (RegistrationSnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage != RegistrationOTPPending {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}
	if newCooldown(c.cooldownUntil, c.now()).Active() {
		c.app.metrics.Inc(MetricCooldownRejected)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrCooldownActive
	}

	email := c.email
	c.errors = FormErrors{}
	c.busy = true
	c.publishLocked()

	err := c.call(ctx, func(ctx context.Context) error {
		return c.app.api.RequestVerification(ctx, email)
	})

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "verify_request")
		return RegistrationSnapshot{}, ErrClosed
	}

	if err != nil {
		reqErr := c.app.requestError(c.name, "verify_request", err)
		c.errors = singleError(reqErr)
		c.audit(ctx, auditEventVerificationResent, email, false, reqErr)
		return c.publishLocked(), reqErr
	}

	c.attempts.Reset(c.app.config.Verification.FlowID)
	c.code = ""
	c.startCooldownLocked(ctx)
	c.app.metrics.Inc(MetricVerificationResent)
	c.audit(ctx, auditEventVerificationResent, email, true, nil)
	return c.publishLocked(), nil
}

// Close stops the cooldown display and detaches the controller. The persisted
// cooldown stays so that Restore can resume it.
func (c *RegistrationController) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.stopCooldownTimerLocked()
	c.listener = nil
	c.mu.Unlock()
	c.app.release(c)
}

func (c *RegistrationController) guardLocked() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	return nil
}

// startCooldownLocked persists a fresh cooldown and starts its display. A
// store failure still throttles this instance.
func (c *RegistrationController) startCooldownLocked(ctx context.Context) {
	cfg := c.app.config.Verification
	until := c.now().Add(cfg.ResendCooldown)
	record, err := c.app.throttle.StartCooldown(ctx, cfg.FlowID, c.email, cfg.ResendCooldown)
	if err != nil {
		c.storeFailure(ctx, "start_cooldown", err)
	} else {
		until = record.CooldownUntil
	}
	c.app.metrics.Inc(MetricCooldownStarted)
	c.startCooldownTimerLocked(until)
}

func (c *RegistrationController) startCooldownTimerLocked(until time.Time) {
	c.stopCooldownTimerLocked()
	c.cooldownUntil = until
	gen := c.cooldownGen
	c.cooldownTimer = c.startCountdown(until,
		func(time.Duration) { c.onCooldownTimer(gen) },
		func() { c.onCooldownTimer(gen) },
	)
}

func (c *RegistrationController) stopCooldownTimerLocked() {
	c.cooldownTimer.Stop()
	c.cooldownTimer = nil
	c.cooldownGen++
}

func (c *RegistrationController) onCooldownTimer(gen uint64) {
	c.mu.Lock()
	if c.closed.Load() || gen != c.cooldownGen {
		c.mu.Unlock()
		return
	}
	c.publishLocked()
}

// publishLocked releases c.mu and notifies the listener.
func (c *RegistrationController) publishLocked() RegistrationSnapshot {
	snap := c.snapshotLocked()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return snap
}

func (c *RegistrationController) snapshotLocked() RegistrationSnapshot {
	flowID := c.app.config.Verification.FlowID
	locked := c.attempts.IsExhausted(flowID)
	cooldown := newCooldown(c.cooldownUntil, c.now())
	return RegistrationSnapshot{
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
		CanSubmitOTP: c.stage == RegistrationOTPPending && strings.TrimSpace(c.code) != "" && !locked && !c.busy,
		Cooldown:     cooldown,
		CanResend:    c.stage == RegistrationOTPPending && !cooldown.Active() && !c.busy,
		Navigate:     c.navigate,
	}
}
