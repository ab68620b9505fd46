package authflow

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/errcode"
)

func TestBuildRequiresAPI(t *testing.T) {
	if _, err := New().Build(); !errors.Is(err, ErrAPINotConfigured) {
		t.Fatalf("expected ErrAPINotConfigured, got %v", err)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Attempts.MaxAttempts = 0
	if _, err := New().WithConfig(cfg).WithAPI(newFakeAPI()).Build(); err == nil {
		t.Fatal("expected invalid config to fail Build")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithAPI(newFakeAPI())
	app, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer app.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestAppCloseTearsDownControllers(t *testing.T) {
	env := newTestEnv(t)
	login, _ := env.app.NewLogin()
	recovery, _ := env.app.NewRecovery()

	env.app.Close()
	env.app.Close()

	if _, err := login.SubmitCredentials(context.Background(), "user@example.com", "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from login, got %v", err)
	}
	if _, err := recovery.RequestCode(context.Background(), "user@example.com"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from recovery, got %v", err)
	}
	if _, err := env.app.NewRegistration(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for a new controller, got %v", err)
	}
	if _, err := env.app.Email(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Email, got %v", err)
	}
}

func TestAppCloseClearsSessionRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, _ := env.app.NewRecovery()
	if _, err := c.ConfirmCode(ctx, "654321", "user@example.com"); err != nil {
		t.Fatalf("ConfirmCode failed: %v", err)
	}
	if err := env.app.identity.SaveEmail(ctx, "user@example.com"); err != nil {
		t.Fatalf("SaveEmail failed: %v", err)
	}

	env.app.Close()

	if n := env.session.Len(); n != 0 {
		t.Fatalf("expected session store emptied, got %d entries", n)
	}
}

func TestAppLogoutForgetsEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	login, _ := env.app.NewLogin()
	if _, err := login.SubmitCredentials(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}

	if err := env.app.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if email, _ := env.app.Email(ctx); email != "" {
		t.Fatalf("expected email forgotten, got %q", email)
	}
	if env.api.Calls("logout") != 1 {
		t.Fatal("expected one logout call")
	}
}

func TestAppLogoutFailureKeepsEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.api.logout = func() error { return transportError() }
	if err := env.app.identity.SaveEmail(ctx, "user@example.com"); err != nil {
		t.Fatalf("SaveEmail failed: %v", err)
	}

	err := env.app.Logout(ctx)
	if !errors.Is(err, apiclient.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if email, _ := env.app.Email(ctx); email != "user@example.com" {
		t.Fatalf("expected email kept, got %q", email)
	}
}

func TestAppProfile(t *testing.T) {
	env := newTestEnv(t)
	profile, err := env.app.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.Email != "user@example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestRequestErrorTranslation(t *testing.T) {
	env := newTestEnv(t)

	reqErr := env.app.requestError("login", "login", apiError(http.StatusLocked, errcode.AccountLocked))
	if reqErr.Field != FieldPassword || reqErr.Message != errcode.MsgAccountLocked {
		t.Fatalf("unexpected translation %+v", reqErr)
	}
	if reqErr.Status != http.StatusLocked || reqErr.Code != errcode.AccountLocked {
		t.Fatalf("expected status and code kept, got %+v", reqErr)
	}

	reqErr = env.app.requestError("login", "login", apiError(http.StatusTeapot, "999999"))
	if reqErr.Field != FieldForm || reqErr.Message != errcode.MsgRequestFailed {
		t.Fatalf("expected generic fallback, got %+v", reqErr)
	}

	reqErr = env.app.requestError("recovery", "forgot", apiError(http.StatusTooManyRequests, errcode.RateLimited))
	if !reqErr.RateLimited() || env.app.Metrics().Value(MetricRateLimited) != 1 {
		t.Fatalf("expected rate limit accounted, got %+v", reqErr)
	}
}

func TestSecurityReport(t *testing.T) {
	env := newTestEnv(t)
	report := env.app.SecurityReport()

	if report.MaxAttempts != 5 || report.RecoveryCooldown != 60*time.Second {
		t.Fatalf("unexpected report %+v", report)
	}
	if !report.PersistentCooldowns {
		t.Fatal("expected persistent cooldowns with a configured store")
	}
	if report.PasswordPolicy != env.app.PasswordPolicy().Description() {
		t.Fatalf("unexpected policy %q", report.PasswordPolicy)
	}

	app, err := New().WithAPI(newFakeAPI()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer app.Close()
	if app.SecurityReport().PersistentCooldowns {
		t.Fatal("expected memory fallback reported")
	}
}
