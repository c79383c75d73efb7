// Package config defines the top-level configuration for the klio service
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by KLIO_* environment
// variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine" yaml:"engine"`
	Store      StoreConfig      `toml:"store" yaml:"store"`
	Postgres   PostgresConfig   `toml:"postgres" yaml:"postgres"`
	Redis      RedisConfig      `toml:"redis" yaml:"redis"`
	S3         S3Config         `toml:"s3" yaml:"s3"`
	Settlement SettlementConfig `toml:"settlement" yaml:"settlement"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Notify     NotifyConfig     `toml:"notify" yaml:"notify"`
	Mode       string           `toml:"mode" yaml:"mode"`
	LogLevel   string           `toml:"log_level" yaml:"log_level"`
}

// EngineConfig holds the market economics. Rates and amounts are decimal
// strings so no precision is lost in the file.
type EngineConfig struct {
	BaseLiquidity     string   `toml:"base_liquidity" yaml:"base_liquidity"`
	PriceFloor        string   `toml:"price_floor" yaml:"price_floor"`
	CreatorFeeRate    string   `toml:"creator_fee_rate" yaml:"creator_fee_rate"`
	PlatformFeeRate   string   `toml:"platform_fee_rate" yaml:"platform_fee_rate"`
	EnforceDeadlines  bool     `toml:"enforce_deadlines" yaml:"enforce_deadlines"`
	LockTTL           Duration `toml:"lock_ttl" yaml:"lock_ttl"`
	LockWait          Duration `toml:"lock_wait" yaml:"lock_wait"`
	SettlementTimeout Duration `toml:"settlement_timeout" yaml:"settlement_timeout"`
	HistorySize       int      `toml:"history_size" yaml:"history_size"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver     string `toml:"driver" yaml:"driver"` // memory | sqlite | postgres
	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, the
// signal bus and rate limiting run in process.
type RedisConfig struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	Addr           string   `toml:"addr" yaml:"addr"`
	Password       string   `toml:"password" yaml:"password"`
	DB             int      `toml:"db" yaml:"db"`
	PoolSize       int      `toml:"pool_size" yaml:"pool_size"`
	MaxRetries     int      `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled" yaml:"tls_enabled"`
	Prefix         string   `toml:"prefix" yaml:"prefix"`
	MarketCacheTTL Duration `toml:"market_cache_ttl" yaml:"market_cache_ttl"`
	StreamEvents   bool     `toml:"stream_events" yaml:"stream_events"`
}

// S3Config holds S3-compatible object storage parameters for the ledger
// archive.
type S3Config struct {
	Enabled              bool     `toml:"enabled" yaml:"enabled"`
	Endpoint             string   `toml:"endpoint" yaml:"endpoint"`
	Region               string   `toml:"region" yaml:"region"`
	Bucket               string   `toml:"bucket" yaml:"bucket"`
	AccessKey            string   `toml:"access_key" yaml:"access_key"`
	SecretKey            string   `toml:"secret_key" yaml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style" yaml:"force_path_style"`
	ArchiveInterval      Duration `toml:"archive_interval" yaml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days" yaml:"archive_retention_days"`
}

// SettlementConfig selects and configures the settlement gateway.
type SettlementConfig struct {
	Driver           string   `toml:"driver" yaml:"driver"` // fake | http
	URL              string   `toml:"url" yaml:"url"`
	APIKey           string   `toml:"api_key" yaml:"api_key"`
	APISecret        string   `toml:"api_secret" yaml:"api_secret"`
	APIPassphrase    string   `toml:"api_passphrase" yaml:"api_passphrase"`
	PrivateKey       string   `toml:"private_key" yaml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password" yaml:"key_password"`
	ChainID          int64    `toml:"chain_id" yaml:"chain_id"`
	Timeout          Duration `toml:"timeout" yaml:"timeout"`
	RatePerSec       float64  `toml:"rate_per_sec" yaml:"rate_per_sec"`
	MaxRetries       int      `toml:"max_retries" yaml:"max_retries"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	RateLimit   int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow  Duration `toml:"rate_window" yaml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
	LargeTradeMin     string   `toml:"large_trade_min" yaml:"large_trade_min"`
}

// Duration is a time.Duration decoded from strings like "5m" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			BaseLiquidity:     "1000",
			PriceFloor:        "0.01",
			CreatorFeeRate:    "0.02",
			PlatformFeeRate:   "0.05",
			EnforceDeadlines:  true,
			LockTTL:           Duration{30 * time.Second},
			LockWait:          Duration{10 * time.Second},
			SettlementTimeout: Duration{15 * time.Second},
			HistorySize:       100,
		},
		Store: StoreConfig{
			Driver:     "memory",
			SQLitePath: "klio.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "klio",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			Prefix:         "klio:",
			MarketCacheTTL: Duration{5 * time.Minute},
			StreamEvents:   true,
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "klio-archive",
			ForcePathStyle:       true,
			ArchiveInterval:      Duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Settlement: SettlementConfig{
			Driver:     "fake",
			ChainID:    1,
			Timeout:    Duration{10 * time.Second},
			RatePerSec: 10,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  Duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:        []string{"market_created", "market_resolved", "winnings_claimed", "large_trade"},
			LargeTradeMin: "1000",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var (
	validModes      = map[string]bool{"server": true, "report": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validStores     = map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	validSettlement = map[string]bool{"fake": true, "http": true}
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, report)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Engine
	for _, f := range []struct{ name, val string }{
		{"base_liquidity", c.Engine.BaseLiquidity},
		{"price_floor", c.Engine.PriceFloor},
		{"creator_fee_rate", c.Engine.CreatorFeeRate},
		{"platform_fee_rate", c.Engine.PlatformFeeRate},
	} {
		if _, err := decimal.NewFromString(f.val); err != nil {
			add("engine: %s %q is not a decimal", f.name, f.val)
		}
	}
	if c.Engine.LockTTL.Duration <= 0 {
		add("engine: lock_ttl must be > 0")
	}
	if c.Engine.HistorySize < 1 {
		add("engine: history_size must be >= 1")
	}

	// Store
	switch {
	case !validStores[c.Store.Driver]:
		add("store: unknown driver %q (valid: memory, sqlite, postgres)", c.Store.Driver)
	case c.Store.Driver == "sqlite" && c.Store.SQLitePath == "":
		add("store: sqlite_path must not be empty for the sqlite driver")
	case c.Store.Driver == "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
		if c.S3.ArchiveRetentionDays < 0 {
			add("s3: archive_retention_days must be >= 0")
		}
	}

	// Settlement
	if !validSettlement[c.Settlement.Driver] {
		add("settlement: unknown driver %q (valid: fake, http)", c.Settlement.Driver)
	}
	if c.Settlement.Driver == "http" {
		if u, err := url.Parse(c.Settlement.URL); err != nil || u.Scheme == "" || u.Host == "" {
			add("settlement: url %q must be an absolute URL", c.Settlement.URL)
		}
		k, s, p := c.Settlement.APIKey != "", c.Settlement.APISecret != "", c.Settlement.APIPassphrase != ""
		if (k || s || p) && !(k && s && p) {
			add("settlement: api_key, api_secret, and api_passphrase must all be set together")
		}
		if c.Settlement.EncryptedKeyPath != "" && c.Settlement.KeyPassword == "" {
			add("settlement: key_password is required when encrypted_key_path is set")
		}
		if c.Settlement.RatePerSec < 0 {
			add("settlement: rate_per_sec must be >= 0")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		add("server: rate_window must be > 0 when rate_limit is set")
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		add("notify: telegram_chat_id is required with telegram_token")
	}
	if c.Notify.LargeTradeMin != "" {
		if _, err := decimal.NewFromString(c.Notify.LargeTradeMin); err != nil {
			add("notify: large_trade_min %q is not a decimal", c.Notify.LargeTradeMin)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
