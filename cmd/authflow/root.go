package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/kv"
	"github.com/MrEthical07/authflow/metrics/export/prometheus"
)

type cli struct {
	viper      *viper.Viper
	configFile string
	envFile    string
	cfg        *cliConfig
	logger     *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{
		viper:  viper.New(),
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "authflow",
		Short:         "Sign in, register and recover accounts from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default $HOME/.authflow/authflow.yaml)")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.String("base-url", "", "origin serving /api/auth")
	flags.String("store", "", "persistent store driver: sqlite, redis or memory")
	flags.String("store-path", "", "sqlite database path")
	flags.String("redis-addr", "", "redis address for the redis driver")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while a flow runs")
	flags.Bool("audit", false, "write audit events as JSON lines to stderr")

	bindings := map[string]string{
		"base_url":         "base-url",
		"store.driver":     "store",
		"store.path":       "store-path",
		"store.redis_addr": "redis-addr",
		"log_level":        "log-level",
		"log_format":       "log-format",
		"metrics_addr":     "metrics-addr",
		"audit_log":        "audit",
	}
	for key, name := range bindings {
		_ = c.viper.BindPFlag(key, flags.Lookup(name))
	}

	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		cfg, err := loadConfig(c.viper, c.configFile, c.envFile)
		if err != nil {
			return err
		}
		c.cfg = cfg
		c.logger = cfg.logger(c.stderr)
		return nil
	}

	cmd.AddCommand(
		newLoginCmd(c),
		newRegisterCmd(c),
		newRecoverCmd(c),
		newConfigCmd(c),
		newDevServerCmd(c),
	)

	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd
}

// openStore returns the persistent store selected by the configuration and a
// function releasing it.
func (c *cli) openStore(ctx context.Context) (kv.Store, func(), error) {
	switch c.cfg.Store.Driver {
	case driverSQLite:
		if err := os.MkdirAll(filepath.Dir(c.cfg.Store.Path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
		store, err := kv.OpenSQLite(c.cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		if n, err := store.PurgeExpired(ctx); err != nil {
			c.logger.Warn("purge expired entries failed", "error", err)
		} else if n > 0 {
			c.logger.Debug("purged expired entries", "count", n)
		}
		return store, func() { _ = store.Close() }, nil
	case driverRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{c.cfg.Store.RedisAddr},
			Password: c.cfg.Store.RedisPassword,
			DB:       c.cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return kv.NewRedisStore(client, ""), func() { _ = client.Close() }, nil
	default:
		return kv.NewMemoryStore(), func() {}, nil
	}
}

// openApp wires the API client, the persistent store and the optional
// metrics endpoint into an App. The returned function closes all of them.
func (c *cli) openApp(ctx context.Context) (*authflow.App, func(), error) {
	client, err := apiclient.New(apiclient.Config{
		BaseURL:   c.cfg.BaseURL,
		Timeout:   c.cfg.Timeout,
		UserAgent: "authflow-cli",
		Logger:    c.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := c.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	builder := authflow.New().
		WithConfig(c.cfg.appConfig()).
		WithAPI(client).
		WithLogger(c.logger)
	if c.cfg.Store.Driver != driverMemory {
		builder = builder.WithPersistentStore(store)
	}
	if c.cfg.AuditLog {
		builder = builder.WithAuditSink(authflow.NewJSONWriterSink(c.stderr))
	}

	app, err := builder.Build()
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	stopMetrics := c.serveMetrics(app)
	return app, func() {
		app.Close()
		stopMetrics()
		closeStore()
	}, nil
}

func (c *cli) serveMetrics(app *authflow.App) func() {
	if c.cfg.MetricsAddr == "" {
		return func() {}
	}

	ln, err := net.Listen("tcp", c.cfg.MetricsAddr)
	if err != nil {
		c.logger.Warn("metrics listener failed", "addr", c.cfg.MetricsAddr, "error", err)
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.NewPrometheusExporter(app).Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	c.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
