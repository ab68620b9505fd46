package authflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/authtest"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/internal/stores"
)

func newRecovery(t *testing.T, env *testEnv) *RecoveryController {
	t.Helper()
	c, err := env.app.NewRecovery()
	if err != nil {
		t.Fatalf("NewRecovery failed: %v", err)
	}
	return c
}

func TestRecoveryHappyPath(t *testing.T) {
	env := newTestEnv(t)
	c := newRecovery(t, env)
	ctx := context.Background()
	flowID := env.app.config.Recovery.FlowID

	snap, err := c.RequestCode(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("RequestCode failed: %v", err)
	}
	if snap.Stage != RecoveryCodeSent || snap.Cooldown.Seconds() != 60 || snap.CanResend {
		t.Fatalf("unexpected snapshot after request %+v", snap)
	}

	snap, err = c.ConfirmCode(ctx, "654321", "user@example.com")
	if err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}
	if snap.Stage != RecoverySessionActive || snap.SessionExpiresIn != 120*time.Second {
		t.Fatalf("unexpected snapshot after confirm %+v", snap)
	}
	if env.api.lastConfirm.Token != "654321" || env.api.lastConfirm.Email != "user@example.com" {
		t.Fatalf("unexpected confirm request %+v", env.api.lastConfirm)
	}
	held, err := env.app.resets.Load(ctx, flowID)
	if err != nil || held == nil || held.Token != "reset-session" {
		t.Fatalf("expected reset session in the session store, got %+v, %v", held, err)
	}

	snap, err = c.SubmitReset(ctx, "NewStrongPass2@", "NewStrongPass2@")
	if err != nil {
		t.Fatalf("SubmitReset failed: %v", err)
	}
	if snap.Stage != RecoveryCompleted || snap.Navigate != NavigateLogin {
		t.Fatalf("unexpected snapshot after reset %+v", snap)
	}
	if snap.SessionExpiresIn != 0 || snap.Cooldown.Active() {
		t.Fatalf("expected countdowns cleared, got %+v", snap)
	}
	if held, _ := env.app.resets.Load(ctx, flowID); held != nil {
		t.Fatal("expected reset session cleared")
	}
	if record, _ := env.app.throttle.Restore(ctx, flowID); record != nil {
		t.Fatal("expected cooldown cleared")
	}
}

func TestRecoveryInvalidCodeIncrementsAndKeepsEmail(t *testing.T) {
	env := newTestEnv(t)
	env.api.confirmReset = func(apiclient.ConfirmResetRequest) (*apiclient.ConfirmResetResponse, error) {
		return nil, invalidCodeError()
	}
	c := newRecovery(t, env)
	ctx := context.Background()

	if _, err := c.RequestCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestCode failed: %v", err)
	}
	snap, err := c.ConfirmCode(ctx, "badtoken", "user@example.com")
	reqErr, ok := AsRequestError(err)
	if !ok || !reqErr.InvalidCode() {
		t.Fatalf("expected invalid code error, got %v", err)
	}
	if snap.Attempts.Used != 1 {
		t.Fatalf("expected 1 attempt, got %d", snap.Attempts.Used)
	}
	if snap.Stage != RecoveryCodeSent {
		t.Fatalf("expected code confirmation stage, got %s", snap.Stage)
	}
	if snap.Email != "user@example.com" || snap.Code != "badtoken" {
		t.Fatalf("expected inputs retained, got email=%q code=%q", snap.Email, snap.Code)
	}
	if snap.Errors.Count() != 1 || snap.Errors.Get(FieldCode) != errcode.MsgInvalidCode {
		t.Fatalf("expected one code error, got %+v", snap.Errors)
	}
}

func TestRecoveryLocksAfterFiveWrongCodes(t *testing.T) {
	env := newTestEnv(t)
	env.api.confirmReset = func(apiclient.ConfirmResetRequest) (*apiclient.ConfirmResetResponse, error) {
		return nil, invalidCodeError()
	}
	c := newRecovery(t, env)
	ctx := context.Background()

	if _, err := c.RequestCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestCode failed: %v", err)
	}
	var snap RecoverySnapshot
	for i := 0; i < 5; i++ {
		snap, _ = c.ConfirmCode(ctx, "000000", "")
	}
	if snap.Stage != RecoveryLocked || !snap.Attempts.Locked || snap.CanConfirm {
		t.Fatalf("expected locked, got %+v", snap)
	}
	if _, err := c.ConfirmCode(ctx, "000000", ""); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if got := env.api.Calls("reset_confirm"); got != 5 {
		t.Fatalf("expected 5 confirm calls, got %d", got)
	}

	if _, err := c.RequestCode(ctx, "user@example.com"); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown to gate the new code, got %v", err)
	}
	env.clock.Advance(61 * time.Second)
	snap, err := c.RequestCode(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("RequestCode failed: %v", err)
	}
	if snap.Stage != RecoveryCodeSent || snap.Attempts.Used != 0 || snap.Attempts.Locked {
		t.Fatalf("expected a fresh code to reset attempts, got %+v", snap)
	}
}

func TestRecoveryRestoreRendersRemainingCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flowID := env.app.config.Recovery.FlowID

	if _, err := env.app.throttle.StartCooldown(ctx, flowID, "user@example.com", 25*time.Second); err != nil {
		t.Fatalf("StartCooldown failed: %v", err)
	}

	c := newRecovery(t, env)
	snap, err := c.Load(ctx, NavigationContext{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.Stage != RecoveryCodeSent || snap.Email != "user@example.com" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.CanResend || snap.Cooldown.Hint() != "25s remaining" {
		t.Fatalf("expected disabled resend with 25s remaining, got %q", snap.Cooldown.Hint())
	}
	if env.api.Total() != 0 {
		t.Fatal("Load must not request a code")
	}
}

func TestRecoveryLoadClearsStaleCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flowID := env.app.config.Recovery.FlowID

	if _, err := env.app.throttle.StartCooldown(ctx, flowID, "user@example.com", 10*time.Second); err != nil {
		t.Fatalf("StartCooldown failed: %v", err)
	}
	env.clock.Advance(11 * time.Second)

	c := newRecovery(t, env)
	snap, err := c.Load(ctx, NavigationContext{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.Stage != RecoveryIdle || snap.Cooldown.Active() || !snap.CanResend {
		t.Fatalf("expected idle with resend enabled, got %+v", snap)
	}
}

func TestRecoveryLoadResumesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flowID := env.app.config.Recovery.FlowID

	session := stores.ResetSession{Token: "held", ExpiresAt: env.clock.Now().Add(90 * time.Second)}
	if err := env.app.resets.Save(ctx, flowID, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	c := newRecovery(t, env)
	snap, err := c.Load(ctx, NavigationContext{Token: "123456", Email: "user@example.com"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.Stage != RecoverySessionActive || snap.SessionExpiresIn != 90*time.Second {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if env.api.Calls("reset_confirm") != 0 {
		t.Fatal("a held session must win over the deep link")
	}

	var sent apiclient.ResetRequest
	env.api.reset = func(req apiclient.ResetRequest) error {
		sent = req
		return nil
	}
	if _, err := c.SubmitReset(ctx, "NewStrongPass2@", "NewStrongPass2@"); err != nil {
		t.Fatalf("SubmitReset failed: %v", err)
	}
	if sent.ResetSessionToken != "held" {
		t.Fatalf("expected held session token, got %q", sent.ResetSessionToken)
	}
}

func TestRecoveryLoadAutoConfirmsDeepLink(t *testing.T) {
	env := newTestEnv(t)
	c := newRecovery(t, env)

	snap, err := c.Load(context.Background(), NavigationContext{Token: "654321", Email: "User@Example.com"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.Stage != RecoverySessionActive {
		t.Fatalf("expected session active, got %s", snap.Stage)
	}
	if env.api.lastConfirm.Email != "user@example.com" || env.api.lastConfirm.Token != "654321" {
		t.Fatalf("unexpected confirm request %+v", env.api.lastConfirm)
	}
	if env.api.Calls("forgot") != 0 {
		t.Fatal("Load must not request a code")
	}
}

func TestRecoveryExpiredSessionRefusesReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := newRecovery(t, env)

	if _, err := c.ConfirmCode(ctx, "654321", "user@example.com"); err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}
	env.clock.Advance(121 * time.Second)

	snap, err := c.SubmitReset(ctx, "NewStrongPass2@", "NewStrongPass2@")
	if !errors.Is(err, ErrResetSessionExpired) {
		t.Fatalf("expected ErrResetSessionExpired, got %v", err)
	}
	if env.api.Calls("reset") != 0 {
		t.Fatal("expired session must not reach the network")
	}
	if snap.Stage != RecoverySessionExpired || snap.Errors.Form != errcode.MsgSessionExpired {
		t.Fatalf("expected re-confirmation prompt, got %+v", snap)
	}
	if held, _ := env.app.resets.Load(ctx, env.app.config.Recovery.FlowID); held != nil {
		t.Fatal("expected expired session cleared")
	}

	snap, err = c.ConfirmCode(ctx, "654321", "")
	if err != nil {
		t.Fatalf("re-confirmation failed: %v", err)
	}
	if snap.Stage != RecoverySessionActive {
		t.Fatalf("expected session active again, got %s", snap.Stage)
	}
}

func TestRecoverySessionCountdownExpires(t *testing.T) {
	env := newTestEnv(t)
	c := newRecovery(t, env)

	var expired atomic.Bool
	c.OnUpdate(func(s RecoverySnapshot) {
		if s.Stage == RecoverySessionExpired {
			expired.Store(true)
		}
	})
	if _, err := c.ConfirmCode(context.Background(), "654321", "user@example.com"); err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}
	env.clock.Advance(2 * time.Minute)

	waitFor(t, "session expiry", expired.Load)
	if snap := c.Snapshot(); snap.SessionExpiresIn != 0 {
		t.Fatalf("expected no session left, got %v", snap.SessionExpiresIn)
	}
}

func TestRecoverySessionLapseDuringFailedReset(t *testing.T) {
	env := newTestEnv(t)
	env.api.reset = func(apiclient.ResetRequest) error {
		env.clock.Advance(3 * time.Minute)
		// Let the session timer observe the lapse while the reset is busy.
		time.Sleep(100 * time.Millisecond)
		return transportError()
	}
	ctx := context.Background()
	c := newRecovery(t, env)

	if _, err := c.ConfirmCode(ctx, "654321", "user@example.com"); err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}
	snap, err := c.SubmitReset(ctx, "NewStrongPass2@", "NewStrongPass2@")
	if !errors.Is(err, ErrResetSessionExpired) {
		t.Fatalf("expected ErrResetSessionExpired, got %v", err)
	}
	if _, ok := AsRequestError(err); !ok {
		t.Fatalf("expected the transport failure to stay reachable, got %v", err)
	}
	if snap.Stage != RecoverySessionExpired || snap.Errors.Form != errcode.MsgSessionExpired {
		t.Fatalf("expected session expired after lapse, got %+v", snap)
	}
	if snap.Errors.Count() != 1 {
		t.Fatalf("expected a single error, got %+v", snap.Errors)
	}
	if held, _ := env.app.resets.Load(ctx, env.app.config.Recovery.FlowID); held != nil {
		t.Fatal("expected lapsed session cleared")
	}
	if snap = c.Snapshot(); snap.Stage != RecoverySessionExpired {
		t.Fatalf("expected the stage to stick, got %s", snap.Stage)
	}
}

func TestRecoveryWeakPasswordRejectedLocally(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := newRecovery(t, env)

	if _, err := c.ConfirmCode(ctx, "654321", "user@example.com"); err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}

	snap, err := c.SubmitReset(ctx, "weak", "weak")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if env.api.Calls("reset") != 0 {
		t.Fatal("weak password must not reach the network")
	}
	if got := snap.Errors.Get(FieldPassword); got != env.app.PasswordPolicy().Description() {
		t.Fatalf("expected policy description, got %q", got)
	}

	snap, err = c.SubmitReset(ctx, "NewStrongPass2@", "NewStrongPass3@")
	if !errors.Is(err, ErrValidation) || snap.Errors.Get(FieldConfirmPassword) != errcode.MsgPasswordMismatch {
		t.Fatalf("expected mismatch error, got %v %+v", err, snap.Errors)
	}
	if snap.Stage != RecoverySessionActive {
		t.Fatalf("validation must not leave the session, got %s", snap.Stage)
	}
}

func TestRecoveryServerSessionInvalidReturnsToConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.api.reset = func(apiclient.ResetRequest) error {
		return apiError(http.StatusGone, authtest.CodeResetSession)
	}
	ctx := context.Background()
	c := newRecovery(t, env)

	if _, err := c.ConfirmCode(ctx, "654321", "user@example.com"); err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}
	snap, err := c.SubmitReset(ctx, "NewStrongPass2@", "NewStrongPass2@")
	if !errors.Is(err, ErrResetSessionExpired) {
		t.Fatalf("expected ErrResetSessionExpired, got %v", err)
	}
	if _, ok := AsRequestError(err); !ok {
		t.Fatalf("expected the request error to stay reachable, got %v", err)
	}
	if snap.Stage != RecoveryCodeSent || snap.SessionExpiresIn != 0 {
		t.Fatalf("expected return to code confirmation, got %+v", snap)
	}
	if held, _ := env.app.resets.Load(ctx, env.app.config.Recovery.FlowID); held != nil {
		t.Fatal("expected local session cleared")
	}
}

func TestRecoveryRequestCodeValidatesLocally(t *testing.T) {
	env := newTestEnv(t)
	c := newRecovery(t, env)

	snap, err := c.RequestCode(context.Background(), "nope")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if env.api.Total() != 0 || snap.Cooldown.Active() {
		t.Fatal("local validation must not send or start a cooldown")
	}
}

func TestRecoveryRateLimitedIsFormError(t *testing.T) {
	env := newTestEnv(t)
	env.api.forgot = func(string) error {
		return apiError(http.StatusTooManyRequests, errcode.RateLimited)
	}
	c := newRecovery(t, env)

	snap, err := c.RequestCode(context.Background(), "user@example.com")
	reqErr, ok := AsRequestError(err)
	if !ok || !reqErr.RateLimited() {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if snap.Errors.Form != errcode.MsgRateLimited || len(snap.Errors.Fields) != 0 {
		t.Fatalf("expected form-level rate limit message, got %+v", snap.Errors)
	}
	if snap.Stage != RecoveryIdle {
		t.Fatalf("expected idle, got %s", snap.Stage)
	}
}

func TestRecoveryCooldownExpiryKeepsEnteredCode(t *testing.T) {
	env := newTestEnv(t)
	c := newRecovery(t, env)
	ctx := context.Background()

	if _, err := c.RequestCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestCode failed: %v", err)
	}
	c.SetCode("1234")
	env.clock.Advance(61 * time.Second)

	waitFor(t, "resend enabled", func() bool { return c.Snapshot().CanResend })
	if got := c.Snapshot().Code; got != "1234" {
		t.Fatalf("expected entered code kept, got %q", got)
	}
}

func TestRecoveryEndToEndOverHTTP(t *testing.T) {
	var lastCode atomic.Value
	srv := authtest.New(authtest.Config{
		OnCode: func(_ authtest.Purpose, _, code string) {
			lastCode.Store(code)
		},
	})
	srv.AddUser(authtest.User{Email: "user@example.com", Password: "OldStrongPass1!", Verified: true})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client, err := apiclient.New(apiclient.Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("apiclient.New failed: %v", err)
	}
	cfg := testConfig()
	app, err := New().WithConfig(cfg).WithAPI(client).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer app.Close()

	c, err := app.NewRecovery()
	if err != nil {
		t.Fatalf("NewRecovery failed: %v", err)
	}
	ctx := context.Background()

	if _, err := c.RequestCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestCode failed: %v", err)
	}

	snap, err := c.ConfirmCode(ctx, "badtoken", "")
	if reqErr, ok := AsRequestError(err); !ok || !reqErr.InvalidCode() {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if snap.Attempts.Used != 1 {
		t.Fatalf("expected 1 attempt, got %d", snap.Attempts.Used)
	}

	code, _ := lastCode.Load().(string)
	if code == "" {
		t.Fatal("expected an issued code")
	}
	if _, err := c.ConfirmCode(ctx, code, ""); err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}
	snap, err = c.SubmitReset(ctx, "NewStrongPass2@", "NewStrongPass2@")
	if err != nil {
		t.Fatalf("SubmitReset failed: %v", err)
	}
	if snap.Stage != RecoveryCompleted || snap.Navigate != NavigateLogin {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if pw, _ := srv.Password("user@example.com"); pw != "NewStrongPass2@" {
		t.Fatalf("expected password changed on the server, got %q", pw)
	}
	if srv.Calls(apiclient.PathCSRF) != 1 {
		t.Fatalf("expected one csrf fetch, got %d", srv.Calls(apiclient.PathCSRF))
	}
}
