package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path (TOML, or YAML for .yaml/.yml),
// merges it on top of the built-in defaults, loads .env if present, applies
// KLIO_* environment variable overrides, and returns the final Config. An
// empty path skips the file. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	return nil
}

// applyEnvOverrides reads well-known KLIO_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.BaseLiquidity, "KLIO_ENGINE_BASE_LIQUIDITY")
	setStr(&cfg.Engine.PriceFloor, "KLIO_ENGINE_PRICE_FLOOR")
	setStr(&cfg.Engine.CreatorFeeRate, "KLIO_ENGINE_CREATOR_FEE_RATE")
	setStr(&cfg.Engine.PlatformFeeRate, "KLIO_ENGINE_PLATFORM_FEE_RATE")
	setBool(&cfg.Engine.EnforceDeadlines, "KLIO_ENGINE_ENFORCE_DEADLINES")
	setDuration(&cfg.Engine.LockTTL, "KLIO_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockWait, "KLIO_ENGINE_LOCK_WAIT")
	setDuration(&cfg.Engine.SettlementTimeout, "KLIO_ENGINE_SETTLEMENT_TIMEOUT")
	setInt(&cfg.Engine.HistorySize, "KLIO_ENGINE_HISTORY_SIZE")

	// ── Store ──
	setStr(&cfg.Store.Driver, "KLIO_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "KLIO_STORE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "KLIO_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KLIO_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KLIO_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KLIO_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KLIO_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KLIO_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KLIO_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KLIO_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KLIO_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KLIO_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KLIO_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KLIO_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KLIO_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KLIO_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KLIO_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KLIO_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KLIO_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "KLIO_REDIS_PREFIX")
	setDuration(&cfg.Redis.MarketCacheTTL, "KLIO_REDIS_MARKET_CACHE_TTL")
	setBool(&cfg.Redis.StreamEvents, "KLIO_REDIS_STREAM_EVENTS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KLIO_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KLIO_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KLIO_S3_REGION")
	setStr(&cfg.S3.Bucket, "KLIO_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KLIO_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KLIO_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KLIO_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KLIO_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "KLIO_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.ArchiveRetentionDays, "KLIO_S3_ARCHIVE_RETENTION_DAYS")

	// ── Settlement ──
	setStr(&cfg.Settlement.Driver, "KLIO_SETTLEMENT_DRIVER")
	setStr(&cfg.Settlement.URL, "KLIO_SETTLEMENT_URL")
	setStr(&cfg.Settlement.APIKey, "KLIO_SETTLEMENT_API_KEY")
	setStr(&cfg.Settlement.APISecret, "KLIO_SETTLEMENT_API_SECRET")
	setStr(&cfg.Settlement.APIPassphrase, "KLIO_SETTLEMENT_API_PASSPHRASE")
	setStr(&cfg.Settlement.PrivateKey, "KLIO_SETTLEMENT_PRIVATE_KEY")
	setStr(&cfg.Settlement.EncryptedKeyPath, "KLIO_SETTLEMENT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Settlement.KeyPassword, "KLIO_SETTLEMENT_KEY_PASSWORD")
	setInt64(&cfg.Settlement.ChainID, "KLIO_SETTLEMENT_CHAIN_ID")
	setDuration(&cfg.Settlement.Timeout, "KLIO_SETTLEMENT_TIMEOUT")
	setFloat64(&cfg.Settlement.RatePerSec, "KLIO_SETTLEMENT_RATE_PER_SEC")
	setInt(&cfg.Settlement.MaxRetries, "KLIO_SETTLEMENT_MAX_RETRIES")

	// ── Server ──
	setInt(&cfg.Server.Port, "KLIO_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "KLIO_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "KLIO_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "KLIO_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "KLIO_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KLIO_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KLIO_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KLIO_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KLIO_NOTIFY_EVENTS")
	setStr(&cfg.Notify.LargeTradeMin, "KLIO_NOTIFY_LARGE_TRADE_MIN")

	// ── Top-level ──
	setStr(&cfg.Mode, "KLIO_MODE")
	setStr(&cfg.LogLevel, "KLIO_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
