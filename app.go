package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/kv"
	"github.com/MrEthical07/authflow/password"
)

const teardownTimeout = 2 * time.Second

// App is the application state shared by the flow controllers: the API, the
// stores, the password policy and the observability plumbing. It replaces
// ambient globals with one value created by Builder.Build and released by
// Close.
type App struct {
	config     Config
	api        API
	persistent kv.Store
	session    kv.Store
	throttle   *stores.ThrottleStore
	resets     *stores.ResetSessionStore
	identity   *stores.IdentityStore
	policy     *password.Policy
	translator errcode.Translator
	metrics    *Metrics
	audit      *auditDispatcher
	logger     *slog.Logger
	now        func() time.Time

	// persistentConfigured is false when cooldowns fall back to memory.
	persistentConfigured bool

	mu     sync.Mutex
	flows  map[flowCloser]struct{}
	closed atomic.Bool
}

type flowCloser interface {
	Close()
}

func newApp(
	cfg Config,
	api API,
	persistent kv.Store,
	session kv.Store,
	logger *slog.Logger,
	sink AuditSink,
	now func() time.Time,
) (*App, error) {
	policy, err := password.NewPolicy(cfg.Password)
	if err != nil {
		return nil, err
	}

	prefix := cfg.Storage.KeyPrefix
	return &App{
		config:     cfg,
		api:        api,
		persistent: persistent,
		session:    session,
		throttle:   stores.NewThrottleStore(persistent, prefix, now),
		resets:     stores.NewResetSessionStore(session, prefix, now),
		identity:   stores.NewIdentityStore(session, prefix),
		policy:     policy,
		translator: errcode.Translator{PolicyDescription: policy.Description()},
		metrics:    NewMetrics(cfg.Metrics),
		audit:      newAuditDispatcher(cfg.Audit, sink),
		logger:     logger,
		now:        now,
		flows:      make(map[flowCloser]struct{}),
	}, nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() Config {
	return a.config
}

// PasswordPolicy returns the policy enforced before reset submissions.
func (a *App) PasswordPolicy() *password.Policy {
	return a.policy
}

func (a *App) Metrics() *Metrics {
	return a.metrics
}

func (a *App) MetricsSnapshot() MetricsSnapshot {
	return a.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (a *App) AuditDropped() uint64 {
	return a.audit.Dropped()
}

func (a *App) register(f flowCloser) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}
	a.flows[f] = struct{}{}
	return nil
}

func (a *App) release(f flowCloser) {
	a.mu.Lock()
	delete(a.flows, f)
	a.mu.Unlock()
}

// Email returns the signed-in email held in the session store, or "".
func (a *App) Email(ctx context.Context) (string, error) {
	if a.closed.Load() {
		return "", ErrClosed
	}
	email, err := a.identity.Email(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return email, nil
}

// Profile fetches the signed-in profile. A missing session surfaces as a
// *RequestError with Status 401.
func (a *App) Profile(ctx context.Context) (*apiclient.Profile, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	profile, err := a.api.Me(ctx)
	a.observeAPI(start)
	if err != nil {
		return nil, a.requestError("session", "me", err)
	}
	return profile, nil
}

// Logout ends the server session and forgets the signed-in email.
func (a *App) Logout(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	email, _ := a.identity.Email(ctx)

	start := time.Now()
	err := a.api.Logout(ctx)
	a.observeAPI(start)
	if err != nil {
		reqErr := a.requestError("session", "logout", err)
		a.emitAudit(ctx, auditEventLogout, "session", "", email, false, reqErr)
		return reqErr
	}

	if err := a.identity.Clear(ctx); err != nil {
		a.metrics.Inc(MetricStoreFailure)
		a.logger.WarnContext(ctx, "clear signed-in email failed", "error", err)
	}
	a.emitAudit(ctx, auditEventLogout, "session", "", email, true, nil)
	return nil
}

// Close tears down every live controller, stops the audit dispatcher and
// clears the session-scoped records. Close is idempotent.
func (a *App) Close() {
	if a == nil || !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	flows := make([]flowCloser, 0, len(a.flows))
	for f := range a.flows {
		flows = append(flows, f)
	}
	a.flows = make(map[flowCloser]struct{})
	a.mu.Unlock()

	for _, f := range flows {
		f.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := a.resets.Clear(ctx, a.config.Recovery.FlowID); err != nil {
		a.logger.Warn("clear reset session on close failed", "error", err)
	}
	if err := a.identity.Clear(ctx); err != nil {
		a.logger.Warn("clear signed-in email on close failed", "error", err)
	}

	a.audit.Close()
}

func (a *App) observeAPI(start time.Time) {
	a.metrics.Observe(MetricAPILatency, time.Since(start))
}

// requestError translates an API failure into its single render target.
func (a *App) requestError(flow, op string, err error) *RequestError {
	reqErr := &RequestError{Flow: flow, Op: op, Err: err}

	apiErr, ok := apiclient.AsError(err)
	if !ok {
		if errors.Is(err, apiclient.ErrTransport) {
			a.metrics.Inc(MetricTransportFailure)
		}
		t := errcode.Generic()
		reqErr.Field, reqErr.Message = t.Field, t.Message
		return reqErr
	}

	t := a.translator.Translate(apiErr.Code, apiErr.Message)
	reqErr.Status = apiErr.Status
	reqErr.Code = apiErr.Code
	reqErr.Field = t.Field
	reqErr.Message = t.Message
	reqErr.cleared = t.ClearFields
	if reqErr.RateLimited() {
		a.metrics.Inc(MetricRateLimited)
	}
	return reqErr
}
