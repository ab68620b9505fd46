package authflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/countdown"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/internal/limiters"
	"github.com/MrEthical07/authflow/internal/validate"
)

// LoginStage is the position of a login flow.
type LoginStage uint8

const (
	LoginAwaitingCredentials LoginStage = iota
	LoginOTPPending
	LoginAuthenticated
)

func (s LoginStage) String() string {
	switch s {
	case LoginOTPPending:
		return "otp_pending"
	case LoginAuthenticated:
		return "authenticated"
	default:
		return "awaiting_credentials"
	}
}

// LoginSnapshot is the render state of a login flow.
type LoginSnapshot struct {
	Stage LoginStage
	// Email is the normalized address of the last accepted submission.
	Email  string
	Code   string
	Busy   bool
	Errors FormErrors
	// Attempts is the wrong-code budget of the current OTP.
	Attempts     Attempts
	CanSubmitOTP bool
	// OTPExpiresIn is the server-announced OTP validity left. Zero when
	// unknown or elapsed.
	OTPExpiresIn time.Duration
	Navigate     Navigation
}

// LoginController drives credential login through an optional OTP challenge.
type LoginController struct {
	flowCore

	mu       sync.Mutex
	listener func(LoginSnapshot)
	attempts *limiters.AttemptLimiter

	stage  LoginStage
	email  string
	code   string
	busy   bool
	errors FormErrors

	otpDeadline time.Time
	otpTimer    *countdown.Countdown
	otpGen      uint64

	navigate Navigation
}

// NewLogin creates a login controller bound to a.
func (a *App) NewLogin() (*LoginController, error) {
	c := &LoginController{
		attempts: limiters.NewAttemptLimiter(limiters.AttemptConfig{MaxAttempts: a.config.Attempts.MaxAttempts}),
	}
	c.init(a, "login")
	if err := a.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// OnUpdate installs fn as the listener for every state change, including
// countdown ticks. fn runs without the controller lock held.
func (c *LoginController) OnUpdate(fn func(LoginSnapshot)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Snapshot returns the current render state.
func (c *LoginController) Snapshot() LoginSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SubmitCredentials sends the credentials. A response announcing an OTP moves
// the flow to LoginOTPPending; a token completes it.
func (c *LoginController) SubmitCredentials(ctx context.Context, email, password string) (LoginSnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage != LoginAwaitingCredentials {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	email = validate.NormalizeEmail(email)
	var fe FormErrors
	if err := validate.Email(email); err != nil {
		fe.set(FieldEmail, emailMessage(err))
	}
	if err := validate.Password(password); err != nil {
		fe.set(FieldPassword, errcode.MsgPasswordRequired)
	}
	if !fe.Empty() {
		c.errors = fe
		c.validationFailed(ctx, fe)
		return c.publishLocked(), ErrValidation
	}

	c.errors = FormErrors{}
	c.busy = true
	c.publishLocked()

	c.app.metrics.Inc(MetricLoginSubmitted)
	var resp *apiclient.LoginResponse
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.app.api.Login(ctx, apiclient.LoginRequest{Email: email, Password: password})
		return err
	})
	if err == nil && resp.Token == "" && !resp.OTPRequired {
		err = fmt.Errorf("%w: login response carried neither token nor otp challenge", apiclient.ErrDecode)
	}

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "login")
		return LoginSnapshot{}, ErrClosed
	}

	if err != nil {
		reqErr := c.app.requestError(c.name, "login", err)
		c.app.metrics.Inc(MetricLoginFailure)
		c.stage = LoginAwaitingCredentials
		c.errors = singleError(reqErr)
		c.audit(ctx, auditEventLoginFailure, email, false, reqErr)
		return c.publishLocked(), reqErr
	}

	c.email = email
	if resp.OTPRequired {
		c.stage = LoginOTPPending
		c.code = ""
		c.attempts.Reset(c.app.config.Login.FlowID)
		c.startOTPCountdownLocked(resp.ExpiresInSeconds)
		c.app.metrics.Inc(MetricLoginOTPRequired)
		c.audit(ctx, auditEventLoginOTPRequired, email, true, nil)
		c.logger.DebugContext(ctx, "login requires otp", "expires_in_seconds", resp.ExpiresInSeconds)
		return c.publishLocked(), nil
	}

	c.authenticateLocked(ctx)
	c.app.metrics.Inc(MetricLoginSuccess)
	c.audit(ctx, auditEventLoginSuccess, email, true, nil)
	return c.publishLocked(), nil
}

// SetCode records the OTP input.
func (c *LoginController) SetCode(code string) LoginSnapshot {
	c.mu.Lock()
	if c.closed.Load() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}
	c.code = code
	return c.publishLocked()
}

// SubmitOTP confirms the OTP challenge. A wrong code keeps the flow in
// LoginOTPPending with one inline error and the code retained.
func (c *LoginController) SubmitOTP(ctx context.Context, code string) (LoginSnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage != LoginOTPPending {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}

	flowID := c.app.config.Login.FlowID
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
		_, err := c.app.api.LoginOTP(ctx, apiclient.OTPRequest{Email: email, Code: code})
		return err
	})

	c.mu.Lock()
	c.busy = false
	if c.closed.Load() {
		c.mu.Unlock()
		c.lateResponse(ctx, "login_otp")
		return LoginSnapshot{}, ErrClosed
	}

	if err != nil {
		reqErr := c.app.requestError(c.name, "login_otp", err)
		c.app.metrics.Inc(MetricLoginOTPFailure)
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

	c.authenticateLocked(ctx)
	c.app.metrics.Inc(MetricLoginOTPSuccess)
	c.audit(ctx, auditEventLoginSuccess, email, true, nil)
	return c.publishLocked(), nil
}

// Restart returns to the credentials step so that a fresh OTP can be
// requested. The wrong-code budget is restored.
func (c *LoginController) Restart() (LoginSnapshot, error) {
	c.mu.Lock()
	if err := c.guardLocked(); err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	if c.stage == LoginAuthenticated {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrInvalidStage
	}
	c.stopOTPCountdownLocked()
	c.attempts.Reset(c.app.config.Login.FlowID)
	c.stage = LoginAwaitingCredentials
	c.code = ""
	c.errors = FormErrors{}
	return c.publishLocked(), nil
}

// Close stops the countdown and detaches the controller. Responses still in
// flight are discarded. Close is idempotent.
func (c *LoginController) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.stopOTPCountdownLocked()
	c.listener = nil
	c.mu.Unlock()
	c.app.release(c)
}

func (c *LoginController) guardLocked() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.busy {
		return ErrBusy
	}
	return nil
}

func (c *LoginController) authenticateLocked(ctx context.Context) {
	c.stopOTPCountdownLocked()
	c.stage = LoginAuthenticated
	c.code = ""
	c.errors = FormErrors{}
	c.navigate = NavigateDashboard
	if err := c.app.identity.SaveEmail(ctx, c.email); err != nil {
		c.storeFailure(ctx, "save_email", err)
	}
	c.logger.InfoContext(ctx, "login authenticated")
}

func (c *LoginController) startOTPCountdownLocked(expiresInSeconds int) {
	c.stopOTPCountdownLocked()
	if expiresInSeconds <= 0 {
		return
	}
	c.otpDeadline = c.now().Add(time.Duration(expiresInSeconds) * time.Second)
	if !c.app.config.Login.OTPCountdown {
		return
	}
	gen := c.otpGen
	c.otpTimer = c.startCountdown(c.otpDeadline,
		func(time.Duration) { c.onOTPTimer(gen) },
		func() { c.onOTPTimer(gen) },
	)
}

func (c *LoginController) stopOTPCountdownLocked() {
	c.otpTimer.Stop()
	c.otpTimer = nil
	c.otpDeadline = time.Time{}
	c.otpGen++
}

func (c *LoginController) onOTPTimer(gen uint64) {
	c.mu.Lock()
	if c.closed.Load() || gen != c.otpGen {
		c.mu.Unlock()
		return
	}
	c.publishLocked()
}

// publishLocked releases c.mu and notifies the listener.
func (c *LoginController) publishLocked() LoginSnapshot {
	snap := c.snapshotLocked()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return snap
}

func (c *LoginController) snapshotLocked() LoginSnapshot {
	flowID := c.app.config.Login.FlowID
	locked := c.attempts.IsExhausted(flowID)
	return LoginSnapshot{
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
		CanSubmitOTP: c.stage == LoginOTPPending && strings.TrimSpace(c.code) != "" && !locked && !c.busy,
		OTPExpiresIn: remainingOf(c.otpDeadline, c.now()),
		Navigate:     c.navigate,
	}
}
