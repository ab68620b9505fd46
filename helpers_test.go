package authflow

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/kv"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeAPI answers every call with success unless a hook is set.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int

	register     func(apiclient.RegisterRequest) error
	login        func(apiclient.LoginRequest) (*apiclient.LoginResponse, error)
	loginOTP     func(apiclient.OTPRequest) error
	verifyReq    func(email string) error
	verify       func(apiclient.VerifyRequest) error
	forgot       func(email string) error
	confirmReset func(apiclient.ConfirmResetRequest) (*apiclient.ConfirmResetResponse, error)
	reset        func(apiclient.ResetRequest) error
	logout       func() error

	lastLogin   apiclient.LoginRequest
	lastConfirm apiclient.ConfirmResetRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.calls {
		n += v
	}
	return n
}

func (f *fakeAPI) Register(_ context.Context, req apiclient.RegisterRequest) (*apiclient.RegisterResponse, error) {
	f.record("register")
	if f.register != nil {
		if err := f.register(req); err != nil {
			return nil, err
		}
	}
	return &apiclient.RegisterResponse{VerificationRequired: true}, nil
}

func (f *fakeAPI) Login(_ context.Context, req apiclient.LoginRequest) (*apiclient.LoginResponse, error) {
	f.record("login")
	f.mu.Lock()
	f.lastLogin = req
	f.mu.Unlock()
	if f.login != nil {
		return f.login(req)
	}
	return &apiclient.LoginResponse{Token: "session-token"}, nil
}

func (f *fakeAPI) LoginOTP(_ context.Context, req apiclient.OTPRequest) (*apiclient.TokenResponse, error) {
	f.record("login_otp")
	if f.loginOTP != nil {
		if err := f.loginOTP(req); err != nil {
			return nil, err
		}
	}
	return &apiclient.TokenResponse{Token: "session-token"}, nil
}

func (f *fakeAPI) RequestVerification(_ context.Context, email string) error {
	f.record("verify_request")
	if f.verifyReq != nil {
		return f.verifyReq(email)
	}
	return nil
}

func (f *fakeAPI) Verify(_ context.Context, req apiclient.VerifyRequest) (*apiclient.TokenResponse, error) {
	f.record("verify")
	if f.verify != nil {
		if err := f.verify(req); err != nil {
			return nil, err
		}
	}
	return &apiclient.TokenResponse{Token: "session-token"}, nil
}

func (f *fakeAPI) Forgot(_ context.Context, email string) error {
	f.record("forgot")
	if f.forgot != nil {
		return f.forgot(email)
	}
	return nil
}

func (f *fakeAPI) ConfirmReset(_ context.Context, req apiclient.ConfirmResetRequest) (*apiclient.ConfirmResetResponse, error) {
	f.record("reset_confirm")
	f.mu.Lock()
	f.lastConfirm = req
	f.mu.Unlock()
	if f.confirmReset != nil {
		return f.confirmReset(req)
	}
	return &apiclient.ConfirmResetResponse{ResetSessionToken: "reset-session", ExpiresInSeconds: 120}, nil
}

func (f *fakeAPI) Reset(_ context.Context, req apiclient.ResetRequest) error {
	f.record("reset")
	if f.reset != nil {
		return f.reset(req)
	}
	return nil
}

func (f *fakeAPI) Me(context.Context) (*apiclient.Profile, error) {
	f.record("me")
	return &apiclient.Profile{Email: "user@example.com"}, nil
}

func (f *fakeAPI) Logout(context.Context) error {
	f.record("logout")
	if f.logout != nil {
		return f.logout()
	}
	return nil
}

func apiError(status int, code string) error {
	return &apiclient.Error{Status: status, Code: code, Endpoint: "test"}
}

func invalidCodeError() error {
	return apiError(http.StatusBadRequest, errcode.InvalidCode)
}

func transportError() error {
	return fmt.Errorf("%w: connection refused", apiclient.ErrTransport)
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Countdown.TickInterval = 10 * time.Millisecond
	return cfg
}

type testEnv struct {
	app        *App
	api        *fakeAPI
	clock      *testClock
	persistent *kv.MemoryStore
	session    *kv.MemoryStore
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	return newTestEnvWith(t, testConfig(), newFakeAPI(), newTestClock(), nil)
}

// newTestEnvWith builds an App. A nil persistent store gets a fresh one, so
// that two envs sharing a store model a restart.
func newTestEnvWith(t testing.TB, cfg Config, api *fakeAPI, clock *testClock, persistent *kv.MemoryStore) *testEnv {
	t.Helper()
	if persistent == nil {
		persistent = kv.NewMemoryStoreWithClock(clock.Now)
	}
	session := kv.NewMemoryStoreWithClock(clock.Now)

	app, err := New().
		WithConfig(cfg).
		WithAPI(api).
		WithPersistentStore(persistent).
		WithSessionStore(session).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(app.Close)

	return &testEnv{
		app:        app,
		api:        api,
		clock:      clock,
		persistent: persistent,
		session:    session,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
