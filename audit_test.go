package authflow

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/apiclient"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func buildAuditTestApp(t *testing.T, cfg Config, sink AuditSink, api *fakeAPI) *App {
	t.Helper()

	app, err := New().
		WithConfig(cfg).
		WithAPI(api).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	app := buildAuditTestApp(t, cfg, sink, newFakeAPI())
	login, _ := app.NewLogin()

	_, _ = login.SubmitCredentials(context.Background(), "user@example.com", "secret")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 16
	cfg.Audit.DropIfFull = true

	sink := NewChannelSink(8)
	app := buildAuditTestApp(t, cfg, sink, newFakeAPI())
	login, _ := app.NewLogin()

	_, _ = login.SubmitCredentials(context.Background(), "user@example.com", "super-secret-password")

	select {
	case ev := <-sink.Events():
		if ev.EventType != auditEventLoginSuccess {
			t.Fatalf("expected %s, got %q", auditEventLoginSuccess, ev.EventType)
		}
		if ev.Flow != "login" || ev.FlowInstance == "" {
			t.Fatalf("expected flow identity, got %q/%q", ev.Flow, ev.FlowInstance)
		}
		if ev.Email != "user@example.com" || !ev.Success {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event to be received")
	}
}

func TestAuditFailureCarriesErrorClass(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true

	api := newFakeAPI()
	api.login = otpChallenge
	api.loginOTP = func(apiclient.OTPRequest) error { return invalidCodeError() }
	sink := NewChannelSink(16)
	app := buildAuditTestApp(t, cfg, sink, api)
	login, _ := app.NewLogin()
	ctx := context.Background()

	_, _ = login.SubmitCredentials(ctx, "user@example.com", "secret")
	_, _ = login.SubmitOTP(ctx, "999999")

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != auditEventOTPFailure {
				continue
			}
			if ev.Success || ev.Error != string(auditErrInvalidCode) {
				t.Fatalf("unexpected failure event %+v", ev)
			}
			return
		case <-timeout:
			t.Fatal("expected otp failure event")
		}
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventPasswordReset,
		Flow:      "recovery",
		Email:     "user@example.com",
		Success:   true,
	})

	if !buf.Contains("password_reset") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"email\":\"user@example.com\"") {
		t.Fatal("expected JSON log line to contain email")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, &countingSink{})

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false

	sink := NewChannelSink(32)
	app := buildAuditTestApp(t, cfg, sink, newFakeAPI())
	recovery, _ := app.NewRecovery()
	ctx := context.Background()

	const code = "654321"
	const newPassword = "NewStrongPass2@"
	_, _ = recovery.RequestCode(ctx, "user@example.com")
	_, _ = recovery.ConfirmCode(ctx, code, "")
	_, _ = recovery.SubmitReset(ctx, newPassword, newPassword)

	secretNeedles := []string{code, newPassword, "reset-session"}

	events := make([]AuditEvent, 0, 8)
	timeout := time.After(2 * time.Second)
collectLoop:
	for len(events) < 3 {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			break collectLoop
		}
	}

	if len(events) == 0 {
		t.Fatal("expected at least one audit event")
	}

	for _, ev := range events {
		for _, needle := range secretNeedles {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("sensitive value leaked in audit error field: %q", needle)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}
