package authflow

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authflow/kv"
)

// Builder assembles an App. A Builder can be used once.
type Builder struct {
	config     Config
	api        API
	persistent kv.Store
	session    kv.Store
	logger     *slog.Logger
	auditSink  AuditSink
	now        func() time.Time

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithAPI sets the authentication API. Required.
func (b *Builder) WithAPI(api API) *Builder {
	b.api = api
	return b
}

// WithPersistentStore sets the store that keeps resend cooldowns across
// restarts. Without one, cooldowns live in memory only.
func (b *Builder) WithPersistentStore(store kv.Store) *Builder {
	b.persistent = store
	return b
}

// WithSessionStore sets the store for the reset session and the signed-in
// email. It defaults to a memory store discarded with the App.
func (b *Builder) WithSessionStore(store kv.Store) *Builder {
	b.session = store
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for deadlines and countdowns.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the App.
func (b *Builder) Build() (*App, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.api == nil {
		return nil, ErrAPINotConfigured
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	persistent := b.persistent
	if persistent == nil {
		logger.Warn("no persistent store configured; resend cooldowns will not survive a restart")
		persistent = kv.NewMemoryStoreWithClock(now)
	}
	session := b.session
	if session == nil {
		session = kv.NewMemoryStoreWithClock(now)
	}

	app, err := newApp(cfg, b.api, persistent, session, logger, b.auditSink, now)
	if err != nil {
		return nil, err
	}
	app.persistentConfigured = b.persistent != nil

	b.built = true
	return app, nil
}
