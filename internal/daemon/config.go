// Package daemon holds the process-level configuration and logger setup
// shared by the CLI and the store server.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/salah-ledger/salah/internal/credit"
	"github.com/salah-ledger/salah/internal/resilience"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config is loaded from $SALAH_HOME/config.toml.
type Config struct {
	API     APIConfig    `toml:"api"`
	Store   StoreConfig  `toml:"store"`
	Sync    SyncConfig   `toml:"sync"`
	Retry   RetryConfig  `toml:"retry"`
	Streak  StreakConfig `toml:"streak"`
	Auth    AuthConfig   `toml:"auth"`
	Log     LogConfig    `toml:"log"`
	Credits credit.Rules `toml:"credits"`
}

// APIConfig configures the store server.
type APIConfig struct {
	Host           string `toml:"host" validate:"required"`
	Port           int    `toml:"port" validate:"min=1,max=65535"`
	RequestTimeout string `toml:"request_timeout"`
	Metrics        bool   `toml:"metrics"`
}

// StoreConfig configures the SQLite document store.
type StoreConfig struct {
	Dir         string `toml:"dir"` // default: $SALAH_HOME
	MaxAttempts int    `toml:"max_attempts" validate:"min=0,max=50"`
}

// SyncConfig configures the client side of the sync engine.
type SyncConfig struct {
	UserID             string `toml:"user_id"`
	Timezone           string `toml:"timezone"`         // the user's own day zone
	HistoryTimezone    string `toml:"history_timezone"` // weekly history buckets
	FallbackTimezone   string `toml:"fallback_timezone"`
	FirstWeekday       string `toml:"first_weekday" validate:"omitempty,oneof=sunday monday saturday"`
	RemoteURL          string `toml:"remote_url" validate:"omitempty,url"`
	RemoteTimeout      string `toml:"remote_timeout"`
	Token              string `toml:"token"`
	Cache              bool   `toml:"cache"`
	HistoryParallelism int    `toml:"history_parallelism" validate:"min=0,max=64"`
	Exempt             bool   `toml:"exempt"`
}

// RetryConfig mirrors resilience.Policy with string durations.
type RetryConfig struct {
	MaxRetries   int     `toml:"max_retries" validate:"min=0,max=10"`
	InitialDelay string  `toml:"initial_delay"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       float64 `toml:"jitter" validate:"min=0,lt=1"`
}

// StreakConfig configures the nightly recompute batch.
type StreakConfig struct {
	Enabled      bool   `toml:"enabled"`
	Schedule     string `toml:"schedule"`
	Timezone     string `toml:"timezone"`
	RunTimeout   string `toml:"run_timeout"`
	MinCompleted int    `toml:"min_completed" validate:"min=0,max=5"`
	LookbackDays int    `toml:"lookback_days" validate:"min=0"`
}

// AuthConfig configures bearer-token auth on the store server.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
	TokenTTL  string `toml:"token_ttl"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8787,
			RequestTimeout: "30s",
			Metrics:        true,
		},
		Store: StoreConfig{
			MaxAttempts: 5,
		},
		Sync: SyncConfig{
			Timezone:           "Local",
			FallbackTimezone:   "UTC",
			FirstWeekday:       "sunday",
			RemoteTimeout:      "10s",
			Cache:              true,
			HistoryParallelism: 10,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: "500ms",
			MaxDelay:     "8s",
			Jitter:       0.30,
		},
		Streak: StreakConfig{
			Enabled:      true,
			Schedule:     "5 0 * * *",
			Timezone:     "UTC",
			RunTimeout:   "10m",
			MinCompleted: 3,
			LookbackDays: 365,
		},
		Auth: AuthConfig{
			Issuer:   "salah",
			TokenTTL: "720h",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Credits: credit.DefaultRules(),
	}
}

// ─── Loading ────────────────────────────────────────────────────────────────

// Home returns the state directory: $SALAH_HOME or ~/.salah.
func Home() string {
	if env := os.Getenv("SALAH_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".salah")
}

// ConfigPath returns the config file location under home.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.toml")
}

// Load reads home/.env (if any), home/config.toml (if any), then applies
// SALAH_* environment overrides and validates the result.
func Load(home string) (Config, error) {
	if err := godotenv.Load(filepath.Join(home, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := LoadFile(ConfigPath(home))
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = home
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes a TOML file over the defaults. A missing file yields
// the defaults unchanged.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("parse %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// applyEnv overlays SALAH_* variables.
func (c *Config) applyEnv() {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	str("SALAH_USER", &c.Sync.UserID)
	str("SALAH_TIMEZONE", &c.Sync.Timezone)
	str("SALAH_HISTORY_TIMEZONE", &c.Sync.HistoryTimezone)
	str("SALAH_REMOTE_URL", &c.Sync.RemoteURL)
	str("SALAH_TOKEN", &c.Sync.Token)
	str("SALAH_JWT_SECRET", &c.Auth.JWTSecret)
	str("SALAH_LOG_LEVEL", &c.Log.Level)
	str("SALAH_STORE_DIR", &c.Store.Dir)
	if v, ok := os.LookupEnv("SALAH_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.API.Port = port
		}
	}
}

var validate = validator.New()

// Validate checks field ranges and the credit table.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Credits.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Streak.Enabled && c.Streak.Schedule == "" {
		return errors.New("invalid config: streak.schedule is required when streak.enabled")
	}
	return nil
}

// ─── Derived Values ─────────────────────────────────────────────────────────

// Addr is the listen address of the store server.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Policy converts the retry section.
func (c RetryConfig) Policy() resilience.Policy {
	def := resilience.DefaultPolicy()
	return resilience.Policy{
		MaxRetries:   c.MaxRetries,
		InitialDelay: parseDuration(c.InitialDelay, def.InitialDelay),
		MaxDelay:     parseDuration(c.MaxDelay, def.MaxDelay),
		Jitter:       c.Jitter,
	}
}

// Weekday parses first_weekday, defaulting to Sunday.
func (c SyncConfig) Weekday() time.Weekday {
	switch strings.ToLower(c.FirstWeekday) {
	case "monday":
		return time.Monday
	case "saturday":
		return time.Saturday
	default:
		return time.Sunday
	}
}

// parseDuration parses a Go duration string; blank or malformed values
// yield def.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d < 0 {
		return def
	}
	return d
}

// Duration exposes parseDuration for callers holding config strings.
func Duration(s string, def time.Duration) time.Duration { return parseDuration(s, def) }

// ─── Logging ────────────────────────────────────────────────────────────────

// NewLogger builds the process logger.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	var h slog.Handler
	if c.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
