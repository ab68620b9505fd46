package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/MrEthical07/authflow"
)

// cliConfig is the file/env/flag configuration of the binary. Keys follow
// the mapstructure tags; environment variables use the AUTHFLOW_ prefix with
// dots replaced by underscores, e.g. AUTHFLOW_STORE_DRIVER.
type cliConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`

	Store struct {
		Driver        string `mapstructure:"driver"`
		Path          string `mapstructure:"path"`
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
		KeyPrefix     string `mapstructure:"key_prefix"`
	} `mapstructure:"store"`

	Flow struct {
		VerificationCooldown time.Duration `mapstructure:"verification_cooldown"`
		RecoveryCooldown     time.Duration `mapstructure:"recovery_cooldown"`
		MaxAttempts          int           `mapstructure:"max_attempts"`
		AutoConfirm          bool          `mapstructure:"auto_confirm"`
	} `mapstructure:"flow"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	AuditLog    bool   `mapstructure:"audit_log"`
}

const (
	driverMemory = "memory"
	driverSQLite = "sqlite"
	driverRedis  = "redis"
)

func setDefaults(v *viper.Viper) {
	defaults := authflow.DefaultConfig()

	v.SetDefault("base_url", "http://127.0.0.1:8787")
	v.SetDefault("timeout", 15*time.Second)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("store.driver", driverSQLite)
	v.SetDefault("store.path", defaultStatePath())
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", defaults.Storage.KeyPrefix)
	v.SetDefault("flow.verification_cooldown", defaults.Verification.ResendCooldown)
	v.SetDefault("flow.recovery_cooldown", defaults.Recovery.ResendCooldown)
	v.SetDefault("flow.max_attempts", defaults.Attempts.MaxAttempts)
	v.SetDefault("flow.auto_confirm", defaults.Recovery.AutoConfirm)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("audit_log", false)
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "authflow.db"
	}
	return filepath.Join(dir, "authflow", "state.db")
}

// loadConfig reads an optional .env file, then the config file and the
// environment. Flags bound to v take precedence over both.
func loadConfig(v *viper.Viper, configFile, envFile string) (*cliConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	setDefaults(v)
	v.SetEnvPrefix("AUTHFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("authflow")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.authflow")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *cliConfig) validate() error {
	switch c.Store.Driver {
	case driverMemory, driverSQLite, driverRedis:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == driverSQLite && strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path is required for the sqlite driver")
	}
	if c.Store.Driver == driverRedis && strings.TrimSpace(c.Store.RedisAddr) == "" {
		return errors.New("store.redis_addr is required for the redis driver")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// appConfig maps the CLI settings onto the library configuration.
func (c *cliConfig) appConfig() authflow.Config {
	cfg := authflow.DefaultConfig()
	cfg.Verification.ResendCooldown = c.Flow.VerificationCooldown
	cfg.Recovery.ResendCooldown = c.Flow.RecoveryCooldown
	cfg.Recovery.AutoConfirm = c.Flow.AutoConfirm
	cfg.Attempts.MaxAttempts = c.Flow.MaxAttempts
	cfg.Storage.KeyPrefix = c.Store.KeyPrefix
	cfg.Audit.Enabled = c.AuditLog
	cfg.Metrics.EnableLatencyHistograms = c.MetricsAddr != ""
	return cfg
}

func (c *cliConfig) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
