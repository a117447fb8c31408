// Package config loads the circdesk configuration: defaults, an optional
// TOML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"circdesk/internal/db"
	"circdesk/internal/membership"
	"circdesk/internal/policy"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Policy    PolicyConfig    `toml:"policy"`
	Notify    NotifyConfig    `toml:"notify"`
	Audit     AuditConfig     `toml:"audit"`
	Auth      AuthConfig      `toml:"auth"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type ServerConfig struct {
	Port            string        `toml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig selects the journal backend. An empty DSN runs in memory.
type DatabaseConfig struct {
	Driver           string        `toml:"driver"`
	DSN              string        `toml:"dsn"`
	SnapshotInterval time.Duration `toml:"snapshot_interval"`
}

// PolicyConfig mirrors policy.Policy with the fee in cents.
type PolicyConfig struct {
	BorrowLimitBase    int   `toml:"borrow_limit_base"`
	BaseWindowDays     int   `toml:"base_window_days"`
	ExtendedWindowDays int   `toml:"extended_window_days"`
	LateFeeCents       int64 `toml:"late_fee_cents"`
	HoldDays           int   `toml:"hold_days"`
	RenewalDays        int   `toml:"renewal_days"`
	MaxRenewalDays     int   `toml:"max_renewal_days"`
}

type NotifyConfig struct {
	SweepInterval time.Duration `toml:"sweep_interval"`
}

type AuditConfig struct {
	Interval time.Duration `toml:"interval"`
}

// AuthConfig controls member login. With RequireAuth off the API is open.
type AuthConfig struct {
	JWTSecret        string        `toml:"jwt_secret"`
	RequireAuth      bool          `toml:"require_auth"`
	TokenTTL         time.Duration `toml:"token_ttl"`
	MaxLoginAttempts int           `toml:"max_login_attempts"`
	Lockout          time.Duration `toml:"lockout"`
	AdminEmails      []string      `toml:"admin_emails"`
}

type TelemetryConfig struct {
	ServiceName  string  `toml:"service_name"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	OTLPInsecure bool    `toml:"otlp_insecure"`
	SampleRatio  float64 `toml:"sample_ratio"`
	LogLevel     string  `toml:"log_level"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	p := policy.Default()
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:           db.DriverSQLite,
			SnapshotInterval: 5 * time.Minute,
		},
		Policy: PolicyConfig{
			BorrowLimitBase:    p.BorrowLimitBase,
			BaseWindowDays:     p.BaseWindowDays,
			ExtendedWindowDays: p.ExtendedWindowDays,
			LateFeeCents:       int64(p.LateFeePerDay),
			HoldDays:           p.HoldDays,
			RenewalDays:        p.RenewalDays,
			MaxRenewalDays:     p.MaxRenewalDays,
		},
		Notify: NotifyConfig{SweepInterval: time.Hour},
		Audit:  AuditConfig{Interval: time.Minute},
		Auth: AuthConfig{
			TokenTTL:         membership.DefaultTokenTTL,
			MaxLoginAttempts: membership.DefaultMaxLoginAttempts,
			Lockout:          membership.DefaultLockout,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "circdesk",
			SampleRatio: 1,
			LogLevel:    "info",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (when
// path is not empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := DecodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DecodeFile overlays the TOML file at path onto cfg. Keys outside the schema
// are rejected.
func DecodeFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Database.DSN = getEnv("DATABASE_URL", cfg.Database.DSN)
	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.LogLevel = getEnv("LOG_LEVEL", cfg.Telemetry.LogLevel)
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		cfg.Auth.AdminEmails = strings.Split(v, ",")
	}
	if v, err := strconv.ParseBool(os.Getenv("REQUIRE_AUTH")); err == nil {
		cfg.Auth.RequireAuth = v
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// LendingPolicy converts the policy section.
func (c Config) LendingPolicy() policy.Policy {
	return policy.Policy{
		BorrowLimitBase:    c.Policy.BorrowLimitBase,
		BaseWindowDays:     c.Policy.BaseWindowDays,
		ExtendedWindowDays: c.Policy.ExtendedWindowDays,
		LateFeePerDay:      policy.Money(c.Policy.LateFeeCents),
		HoldDays:           c.Policy.HoldDays,
		RenewalDays:        c.Policy.RenewalDays,
		MaxRenewalDays:     c.Policy.MaxRenewalDays,
	}
}

// Validate checks the settings the service cannot start without.
func (c Config) Validate() error {
	if err := c.LendingPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	switch c.Database.Driver {
	case db.DriverSQLite, db.DriverPostgres, db.DriverPgx:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Notify.SweepInterval <= 0 {
		return fmt.Errorf("notify.sweep_interval must be positive, got %s", c.Notify.SweepInterval)
	}
	if c.Audit.Interval <= 0 {
		return fmt.Errorf("audit.interval must be positive, got %s", c.Audit.Interval)
	}
	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.require_auth needs auth.jwt_secret or JWT_SECRET")
	}
	return nil
}
