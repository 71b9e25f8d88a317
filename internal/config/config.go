// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported progress tracker backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig bounds request handling.
type HTTPConfig struct {
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	QueryTimeoutSeconds   int `mapstructure:"query_timeout_seconds"`
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	PageSize               int    `mapstructure:"page_size"`
}

// ProgressConfig selects the import progress tracker.
type ProgressConfig struct {
	Backend              string      `mapstructure:"backend"`
	RetentionMinutes     int         `mapstructure:"retention_minutes"`
	SweepIntervalSeconds int         `mapstructure:"sweep_interval_seconds"`
	Redis                RedisConfig `mapstructure:"redis"`
}

// RedisConfig points the tracker at a Redis server.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GESTIONALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("http.request_timeout_seconds", 30)
	v.SetDefault("http.query_timeout_seconds", 10)
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "gestionale.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("database.page_size", 50)
	v.SetDefault("progress.backend", BackendMemory)
	v.SetDefault("progress.retention_minutes", 60)
	v.SetDefault("progress.sweep_interval_seconds", 60)
	v.SetDefault("progress.redis.addr", "localhost:6379")
	v.SetDefault("progress.redis.password", "")
	v.SetDefault("progress.redis.db", 0)
	v.SetDefault("progress.redis.prefix", "gestionale:import:")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("http.request_timeout_seconds must be > 0")
	}
	if c.HTTP.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("http.query_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.PageSize <= 0 {
		return fmt.Errorf("database.page_size must be > 0")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must not exceed database.max_conns")
	}
	switch c.Progress.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Progress.Redis.Addr == "" {
			return fmt.Errorf("progress.redis.addr must be set when the redis backend is selected")
		}
	default:
		return fmt.Errorf("progress.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Progress.Backend)
	}
	if c.Progress.RetentionMinutes < 0 {
		return fmt.Errorf("progress.retention_minutes must be >= 0")
	}
	if c.Progress.RetentionMinutes > 0 && c.Progress.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("progress.sweep_interval_seconds must be > 0 when retention is enabled")
	}
	return nil
}

// RequestTimeout is the budget for a whole HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.RequestTimeoutSeconds) * time.Second
}

// QueryTimeout is the budget for one repository call.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.HTTP.QueryTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Retention is how long completed import sessions are kept. Zero disables eviction.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Progress.RetentionMinutes) * time.Minute
}

// SweepInterval is the period of the eviction sweeper.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Progress.SweepIntervalSeconds) * time.Second
}

// MaxConnLifetime caps how long a pooled Postgres connection is reused.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.Database.MaxConnLifetimeMinutes) * time.Minute
}
