package authflow

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/errcode"
)

func validDetails() RegistrationDetails {
	return RegistrationDetails{
		Email:        "New.User@Example.com",
		Password:     "anything",
		FullName:     "New User",
		BaseCurrency: "usd",
	}
}

func newRegistration(t *testing.T, env *testEnv) *RegistrationController {
	t.Helper()
	c, err := env.app.NewRegistration()
	if err != nil {
		t.Fatalf("NewRegistration failed: %v", err)
	}
	return c
}

func TestRegistrationValidatesAllFieldsLocally(t *testing.T) {
	env := newTestEnv(t)
	c := newRegistration(t, env)

	snap, err := c.SubmitRegistration(context.Background(), RegistrationDetails{
		Email:        "",
		Password:     "",
		FullName:     strings.Repeat("x", 101),
		BaseCurrency: "XYZ1",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if env.api.Total() != 0 {
		t.Fatal("expected no network call")
	}
	want := map[Field]string{
		FieldEmail:        errcode.MsgEmailRequired,
		FieldPassword:     errcode.MsgPasswordRequired,
		FieldFullName:     errcode.MsgFullNameTooLong,
		FieldBaseCurrency: errcode.MsgCurrencyInvalid,
	}
	for field, msg := range want {
		if got := snap.Errors.Get(field); got != msg {
			t.Fatalf("field %q: expected %q, got %q", field, msg, got)
		}
	}
}

func TestRegistrationAlwaysRequiresVerification(t *testing.T) {
	env := newTestEnv(t)
	var sent apiclient.RegisterRequest
	env.api.register = func(req apiclient.RegisterRequest) error {
		sent = req
		return nil
	}
	c := newRegistration(t, env)
	ctx := context.Background()

	snap, err := c.SubmitRegistration(ctx, validDetails())
	if err != nil {
		t.Fatalf("SubmitRegistration failed: %v", err)
	}
	if snap.Stage != RegistrationOTPPending {
		t.Fatalf("expected otp pending, got %s", snap.Stage)
	}
	if sent.Email != "new.user@example.com" || sent.BaseCurrency != "USD" {
		t.Fatalf("unexpected request %+v", sent)
	}
	if snap.Cooldown.Seconds() != 60 || snap.CanResend {
		t.Fatalf("expected 60s resend cooldown, got %+v", snap.Cooldown)
	}

	snap, err = c.SubmitOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("SubmitOTP failed: %v", err)
	}
	if snap.Stage != RegistrationAuthenticated || snap.Navigate != NavigateDashboard {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if email, _ := env.app.Email(ctx); email != "new.user@example.com" {
		t.Fatalf("expected stored email, got %q", email)
	}
	record, err := env.app.throttle.Restore(ctx, env.app.config.Verification.FlowID)
	if err != nil || record != nil {
		t.Fatalf("expected verification cooldown cleared, got %+v, %v", record, err)
	}
}

func TestRegistrationWrongCodesExhaustAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.api.verify = func(apiclient.VerifyRequest) error { return invalidCodeError() }
	c := newRegistration(t, env)
	ctx := context.Background()

	if _, err := c.SubmitRegistration(ctx, validDetails()); err != nil {
		t.Fatalf("SubmitRegistration failed: %v", err)
	}
	var snap RegistrationSnapshot
	for i := 0; i < 5; i++ {
		snap, _ = c.SubmitOTP(ctx, "000000")
	}
	if !snap.Attempts.Locked {
		t.Fatalf("expected locked after 5 wrong codes, got %+v", snap.Attempts)
	}

	snap, err := c.SubmitOTP(ctx, "000000")
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if snap.Errors.Get(FieldCode) != errcode.MsgAttemptsExhausted {
		t.Fatalf("expected attempts message on code field, got %+v", snap.Errors)
	}
	if got := env.api.Calls("verify"); got != 5 {
		t.Fatalf("expected 5 verify calls, got %d", got)
	}
}

func TestRegistrationEmailTakenIsFieldError(t *testing.T) {
	env := newTestEnv(t)
	env.api.register = func(apiclient.RegisterRequest) error {
		return apiError(http.StatusConflict, errcode.EmailRegistered)
	}
	c := newRegistration(t, env)

	snap, err := c.SubmitRegistration(context.Background(), validDetails())
	if _, ok := AsRequestError(err); !ok {
		t.Fatalf("expected request error, got %v", err)
	}
	if snap.Stage != RegistrationAwaitingDetails {
		t.Fatalf("expected awaiting details, got %s", snap.Stage)
	}
	if snap.Errors.Count() != 1 || snap.Errors.Get(FieldEmail) != errcode.MsgEmailRegistered {
		t.Fatalf("expected one email error, got %+v", snap.Errors)
	}
}

func TestRegistrationPolicyErrorUsesServerMessage(t *testing.T) {
	env := newTestEnv(t)
	env.api.register = func(apiclient.RegisterRequest) error {
		return &apiclient.Error{Status: http.StatusBadRequest, Code: errcode.PasswordPolicyInput, Message: "Too short."}
	}
	c := newRegistration(t, env)

	snap, _ := c.SubmitRegistration(context.Background(), validDetails())
	if got := snap.Errors.Get(FieldPassword); got != "Too short." {
		t.Fatalf("expected server policy message, got %q", got)
	}
}

func TestRegistrationResendHonorsCooldown(t *testing.T) {
	env := newTestEnv(t)
	env.api.verify = func(apiclient.VerifyRequest) error { return invalidCodeError() }
	c := newRegistration(t, env)
	ctx := context.Background()

	if _, err := c.SubmitRegistration(ctx, validDetails()); err != nil {
		t.Fatalf("SubmitRegistration failed: %v", err)
	}
	if _, err := c.ResendCode(ctx); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if env.api.Calls("verify_request") != 0 {
		t.Fatal("resend during cooldown must not reach the network")
	}

	for i := 0; i < 5; i++ {
		_, _ = c.SubmitOTP(ctx, "000000")
	}
	if snap := c.Snapshot(); !snap.Attempts.Locked {
		t.Fatalf("expected locked, got %+v", snap.Attempts)
	}

	env.clock.Advance(61 * time.Second)
	snap, err := c.ResendCode(ctx)
	if err != nil {
		t.Fatalf("ResendCode failed: %v", err)
	}
	if snap.Attempts.Used != 0 || snap.Attempts.Locked {
		t.Fatalf("expected attempts reset, got %+v", snap.Attempts)
	}
	if snap.Cooldown.Seconds() != 60 {
		t.Fatalf("expected a fresh cooldown, got %ds", snap.Cooldown.Seconds())
	}
}

func TestRegistrationRestoreResumesPendingVerification(t *testing.T) {
	clock := newTestClock()
	first := newTestEnvWith(t, testConfig(), newFakeAPI(), clock, nil)
	c := newRegistration(t, first)
	if _, err := c.SubmitRegistration(context.Background(), validDetails()); err != nil {
		t.Fatalf("SubmitRegistration failed: %v", err)
	}
	first.app.Close()

	clock.Advance(35 * time.Second)
	second := newTestEnvWith(t, testConfig(), newFakeAPI(), clock, first.persistent)
	r := newRegistration(t, second)

	snap, err := r.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if snap.Stage != RegistrationOTPPending || snap.Email != "new.user@example.com" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Cooldown.Hint() != "25s remaining" {
		t.Fatalf("expected remaining cooldown, got %q", snap.Cooldown.Hint())
	}
	if second.api.Total() != 0 {
		t.Fatal("restore must not request a code")
	}
}
