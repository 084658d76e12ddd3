// Package config loads runtime configuration from the environment and an
// optional YAML file. Environment variables win over file values, so
// containerized deployments can override a checked-in config.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DatabaseConfig selects and parameterizes the remote mirror connection.
//
// Either URL (a full Postgres DSN), the individual Host/User/Password/Name
// parameters, or SQLitePath must be set for sync to be enabled. URL wins
// over the individual parameters; SQLitePath is the fallback for
// single-machine setups with no Postgres at hand.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	Table      string `mapstructure:"table"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	// Conflict names the pull conflict strategy: "prefer_local" or
	// "prefer_remote".
	Conflict string `mapstructure:"conflict"`
}

// DaemonConfig tunes the background watcher.
type DaemonConfig struct {
	// IntervalSec is the periodic push interval in seconds.
	IntervalSec int `mapstructure:"interval_sec"`

	// DebounceMs is how long to wait after a file event before pushing,
	// so editor write bursts collapse into one sync.
	DebounceMs int `mapstructure:"debounce_ms"`
}

// Config is the top-level runtime configuration.
type Config struct {
	AccountsFile string         `mapstructure:"accounts_file"`
	LogFile      string         `mapstructure:"log_file"`
	Database     DatabaseConfig `mapstructure:"database"`
	Sync         SyncConfig     `mapstructure:"sync"`
	Daemon       DaemonConfig   `mapstructure:"daemon"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"accounts_file":        "ACCOUNTS_FILE",
	"log_file":             "ACCOUNTS_LOG_FILE",
	"database.url":         "DATABASE_URL",
	"database.host":        "ACCOUNTS_DB_HOST",
	"database.port":        "ACCOUNTS_DB_PORT",
	"database.user":        "ACCOUNTS_DB_USER",
	"database.password":    "ACCOUNTS_DB_PASSWORD",
	"database.name":        "ACCOUNTS_DB_NAME",
	"database.table":       "ACCOUNTS_DB_TABLE",
	"database.sqlite_path": "ACCOUNTS_DB_PATH",
	"sync.conflict":        "ACCOUNTS_SYNC_CONFLICT",
	"daemon.interval_sec":  "ACCOUNTS_SYNC_INTERVAL",
	"daemon.debounce_ms":   "ACCOUNTS_SYNC_DEBOUNCE",
}

// Load reads configuration from path (optional; "" skips the file) and the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("accounts_file", "accounts.json")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.table", "account_backups")
	v.SetDefault("sync.conflict", "prefer_local")
	v.SetDefault("daemon.interval_sec", 300)
	v.SetDefault("daemon.debounce_ms", 500)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(*os.PathError); !ok {
				if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
					return nil, fmt.Errorf("failed to read config %s: %w", path, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// SyncEnabled reports whether any remote mirror is configured.
func (c *Config) SyncEnabled() bool {
	return c.PostgresConfigured() || c.Database.SQLitePath != ""
}

// PostgresConfigured reports whether a Postgres connection is configured,
// either as a full URL or as individual parameters.
func (c *Config) PostgresConfigured() bool {
	if c.Database.URL != "" {
		return true
	}
	d := c.Database
	return d.Host != "" && d.User != "" && d.Password != "" && d.Name != ""
}

// PostgresDSN renders the connection string for lib/pq. SSL is required,
// matching what managed Postgres providers enforce.
func (c *Config) PostgresDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	d := c.Database
	parts := []string{
		"host=" + pqValue(d.Host),
		fmt.Sprintf("port=%d", d.Port),
		"user=" + pqValue(d.User),
		"password=" + pqValue(d.Password),
		"dbname=" + pqValue(d.Name),
		"sslmode=require",
	}
	return strings.Join(parts, " ")
}

// pqValue quotes a key=value connection parameter when needed.
func pqValue(s string) string {
	if s == "" || strings.ContainsAny(s, " '\\") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `'`, `\'`)
		return "'" + s + "'"
	}
	return s
}
