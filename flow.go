package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authflow/internal/countdown"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/internal/validate"
)

// flowCore is what every controller shares: the App, the instance identity
// used to correlate logs and audit events, and the liveness flag checked
// before a response is committed.
type flowCore struct {
	app      *App
	name     string
	instance string
	logger   *slog.Logger
	closed   atomic.Bool
}

func (f *flowCore) init(app *App, name string) {
	f.app = app
	f.name = name
	f.instance = uuid.NewString()
	f.logger = app.logger.With("flow", name, "flow_instance", f.instance)
}

func (f *flowCore) now() time.Time {
	return f.app.now()
}

func (f *flowCore) startCountdown(deadline time.Time, onTick func(time.Duration), onExpire func()) *countdown.Countdown {
	return countdown.Start(countdown.Config{
		Deadline: deadline,
		Interval: f.app.config.Countdown.TickInterval,
		Now:      f.app.now,
		OnTick:   onTick,
		OnExpire: onExpire,
	})
}

// call runs one API request and records its latency.
func (f *flowCore) call(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	f.app.observeAPI(start)
	return err
}

// lateResponse accounts for a response that arrived after Close.
func (f *flowCore) lateResponse(ctx context.Context, op string) {
	f.app.metrics.Inc(MetricLateResponseDiscarded)
	f.logger.DebugContext(ctx, "discarding response after close", "op", op)
}

func (f *flowCore) storeFailure(ctx context.Context, op string, err error) {
	f.app.metrics.Inc(MetricStoreFailure)
	f.logger.WarnContext(ctx, "flow store operation failed", "op", op, "error", err)
}

func (f *flowCore) audit(ctx context.Context, event, email string, success bool, err error) {
	f.app.emitAudit(ctx, event, f.name, f.instance, email, success, err)
}

// validationFailed counts a local rejection. Nothing was sent.
func (f *flowCore) validationFailed(ctx context.Context, fe FormErrors) {
	f.app.metrics.Inc(MetricValidationRejected)
	f.logger.DebugContext(ctx, "local validation rejected input", "fields", fe.Count())
}

func emailMessage(err error) string {
	if errors.Is(err, validate.ErrEmailRequired) {
		return errcode.MsgEmailRequired
	}
	return errcode.MsgMalformedEmail
}

func fullNameMessage(err error) string {
	if errors.Is(err, validate.ErrFullNameTooLong) {
		return errcode.MsgFullNameTooLong
	}
	return errcode.MsgFullNameRequired
}

// wrapStoreError maps a store failure onto ErrStoreUnavailable.
func wrapStoreError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
