package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/authtest"
	"github.com/MrEthical07/authflow/internal/errcode"
)

func newTestClient(t *testing.T, cfg authtest.Config) (*apiclient.Client, *authtest.Server) {
	t.Helper()

	srv := authtest.New(cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := apiclient.New(apiclient.Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, srv
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := apiclient.New(apiclient.Config{}); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
	if _, err := apiclient.New(apiclient.Config{BaseURL: "ftp://example.com"}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestUnsafeRequestFetchesCSRFOnce(t *testing.T) {
	client, srv := newTestClient(t, authtest.Config{})
	ctx := context.Background()

	if err := client.Forgot(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("Forgot: %v", err)
	}
	if err := client.Forgot(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("Forgot again: %v", err)
	}
	if got := srv.Calls(apiclient.PathCSRF); got != 1 {
		t.Fatalf("expected one csrf fetch, got %d", got)
	}
	if got := srv.Calls(apiclient.PathForgot); got != 2 {
		t.Fatalf("expected two forgot calls, got %d", got)
	}
}

func TestBodyCSRFTokenReusedWithoutCookie(t *testing.T) {
	var csrfCalls, rejected atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+apiclient.PathCSRF, func(w http.ResponseWriter, _ *http.Request) {
		csrfCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"body-token"}`))
	})
	mux.HandleFunc("POST "+apiclient.PathForgot, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-XSRF-TOKEN") != "body-token" {
			rejected.Add(1)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := apiclient.New(apiclient.Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := client.Forgot(ctx, "user@example.com"); err != nil {
			t.Fatalf("Forgot #%d: %v", i+1, err)
		}
	}
	if got := csrfCalls.Load(); got != 1 {
		t.Fatalf("expected one csrf fetch, got %d", got)
	}
	if got := rejected.Load(); got != 0 {
		t.Fatalf("expected the body token on every call, %d rejected", got)
	}
}

func TestSafeRequestSkipsCSRF(t *testing.T) {
	client, srv := newTestClient(t, authtest.Config{})

	_, err := client.Me(context.Background())
	if !apiclient.IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	if got := srv.Calls(apiclient.PathCSRF); got != 0 {
		t.Fatalf("GET must not fetch csrf, got %d calls", got)
	}
}

func TestLoginSessionCookieAndLogout(t *testing.T) {
	client, srv := newTestClient(t, authtest.Config{})
	srv.AddUser(authtest.User{Email: "user@example.com", Password: "Secret12345!", Verified: true})
	ctx := context.Background()

	resp, err := client.Login(ctx, apiclient.LoginRequest{Email: "user@example.com", Password: "Secret12345!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token == "" || resp.OTPRequired {
		t.Fatalf("expected direct token, got %+v", resp)
	}

	profile, err := client.Me(ctx)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if profile.Email != "user@example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := client.Me(ctx); !apiclient.IsUnauthorized(err) {
		t.Fatalf("expected 401 after logout, got %v", err)
	}
}

func TestLoginOTPChallenge(t *testing.T) {
	client, srv := newTestClient(t, authtest.Config{})
	srv.AddUser(authtest.User{Email: "otp@example.com", Password: "Secret12345!", Verified: true, OTPRequired: true})
	ctx := context.Background()

	resp, err := client.Login(ctx, apiclient.LoginRequest{Email: "otp@example.com", Password: "Secret12345!"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !resp.OTPRequired || resp.ExpiresInSeconds <= 0 {
		t.Fatalf("expected otp challenge, got %+v", resp)
	}

	_, err = client.LoginOTP(ctx, apiclient.OTPRequest{Email: "otp@example.com", Code: "000000x"})
	if got := apiclient.CodeOf(err); got != errcode.InvalidCode {
		t.Fatalf("expected %s, got %q (%v)", errcode.InvalidCode, got, err)
	}

	code, ok := srv.Code(authtest.PurposeLoginOTP, "otp@example.com")
	if !ok {
		t.Fatalf("expected an outstanding login code")
	}
	tok, err := client.LoginOTP(ctx, apiclient.OTPRequest{Email: "otp@example.com", Code: code})
	if err != nil {
		t.Fatalf("LoginOTP: %v", err)
	}
	if tok.Token == "" {
		t.Fatalf("expected session token")
	}
}

func TestErrorCodesDecoded(t *testing.T) {
	client, srv := newTestClient(t, authtest.Config{})
	srv.AddUser(authtest.User{Email: "taken@example.com", Password: "Secret12345!", Verified: true})
	ctx := context.Background()

	_, err := client.Login(ctx, apiclient.LoginRequest{Email: "taken@example.com", Password: "wrong"})
	apiErr, ok := apiclient.AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != errcode.InvalidCredentials {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if apiErr.Endpoint != apiclient.PathLogin {
		t.Fatalf("unexpected endpoint %q", apiErr.Endpoint)
	}

	_, err = client.Register(ctx, apiclient.RegisterRequest{
		Email:        "taken@example.com",
		Password:     "Secret12345!",
		FullName:     "Taken",
		BaseCurrency: "USD",
	})
	if got := apiclient.CodeOf(err); got != errcode.EmailRegistered {
		t.Fatalf("expected %s, got %q", errcode.EmailRegistered, got)
	}
}

func TestNumericErrorCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == apiclient.PathCSRF {
			http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "t1", Path: "/"})
			_, _ = w.Write([]byte(`{"token":"t1"}`))
			return
		}
		if r.Header.Get("X-XSRF-TOKEN") != "t1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429001,"message":"slow down"}}`))
	}))
	defer ts.Close()

	client, err := apiclient.New(apiclient.Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = client.Forgot(context.Background(), "user@example.com")
	apiErr, ok := apiclient.AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != errcode.RateLimited || apiErr.Message != "slow down" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client, err := apiclient.New(apiclient.Config{BaseURL: url})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.Me(context.Background())
	if !errors.Is(err, apiclient.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if _, ok := apiclient.AsError(err); ok {
		t.Fatalf("transport failure must not carry an API error")
	}
}

func TestResetFlowAgainstServer(t *testing.T) {
	client, srv := newTestClient(t, authtest.Config{})
	srv.AddUser(authtest.User{Email: "user@example.com", Password: "OldStrongPass1!", Verified: true})
	ctx := context.Background()

	if err := client.Forgot(ctx, "user@example.com"); err != nil {
		t.Fatalf("Forgot: %v", err)
	}
	srv.SetCode(authtest.PurposeReset, "user@example.com", "654321")

	confirm, err := client.ConfirmReset(ctx, apiclient.ConfirmResetRequest{Token: "654321", Email: "user@example.com"})
	if err != nil {
		t.Fatalf("ConfirmReset: %v", err)
	}
	if confirm.ResetSessionToken == "" || confirm.ExpiresInSeconds != 120 {
		t.Fatalf("unexpected confirm response %+v", confirm)
	}

	if err := client.Reset(ctx, apiclient.ResetRequest{ResetSessionToken: confirm.ResetSessionToken, Password: "NewStrongPass2@"}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if pw, _ := srv.Password("user@example.com"); pw != "NewStrongPass2@" {
		t.Fatalf("password not updated")
	}

	err = client.Reset(ctx, apiclient.ResetRequest{ResetSessionToken: confirm.ResetSessionToken, Password: "NewStrongPass3@"})
	if !apiclient.IsSessionInvalid(err) {
		t.Fatalf("expected session-invalid on reuse, got %v", err)
	}
}
