package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/klio/internal/blob/s3"
	"github.com/alanyoungcy/klio/internal/cache/redis"
	"github.com/alanyoungcy/klio/internal/config"
	"github.com/alanyoungcy/klio/internal/crypto"
	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/engine"
	"github.com/alanyoungcy/klio/internal/events"
	"github.com/alanyoungcy/klio/internal/lock"
	"github.com/alanyoungcy/klio/internal/notify"
	"github.com/alanyoungcy/klio/internal/ratelimit"
	"github.com/alanyoungcy/klio/internal/service"
	"github.com/alanyoungcy/klio/internal/settlement"
	"github.com/alanyoungcy/klio/internal/store/memory"
	"github.com/alanyoungcy/klio/internal/store/postgres"
	"github.com/alanyoungcy/klio/internal/store/sqlite"
)

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store       domain.Store
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	Signals     domain.SignalBus
	MarketCache domain.MarketCache // nil when Redis is disabled
	Gateway     domain.SettlementGateway
	Archiver    domain.Archiver // nil when S3 is disabled

	Bus        *events.Bus
	Engine     *engine.Engine
	Markets    *service.MarketService
	Ledger     *service.LedgerService
	Notifier   *notify.Notifier
	Subscriber *notify.Subscriber // nil when no notification channel is configured
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Store ---
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("wire: store: %w", err))
	}
	closers = append(closers, closeStore)
	deps.Store = store

	// --- Redis, or in-process equivalents ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Signals = redis.NewSignalBus(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketCacheTTL.Duration)
	} else {
		deps.Locks = lock.NewLocal()
		deps.RateLimiter = ratelimit.NewLocal()
		deps.Signals = events.NewLocalSignals()
	}

	// --- Settlement ---
	gw, err := newGateway(cfg.Settlement, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: settlement: %w", err))
	}
	deps.Gateway = gw

	// --- S3 ledger archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), store)
	}

	// --- Events and engine ---
	deps.Bus = events.NewBus(cfg.Engine.HistorySize, logger)
	closers = append(closers, events.NewForwarder(deps.Signals, cfg.Redis.StreamEvents, logger).Attach(deps.Bus))

	engCfg, err := EngineConfig(cfg.Engine)
	if err != nil {
		return fail(fmt.Errorf("wire: engine config: %w", err))
	}
	deps.Engine, err = engine.New(store, deps.Gateway, deps.Locks, deps.Bus, engCfg,
		logger.With(slog.String("component", "engine")))
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}

	// --- Services ---
	deps.Markets = service.NewMarketService(deps.Engine, store, deps.MarketCache, logger)
	closers = append(closers, deps.Markets.AttachCacheInvalidation(deps.Bus))
	deps.Ledger = service.NewLedgerService(store, deps.Bus, deps.Archiver, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			return fail(fmt.Errorf("wire: telegram: %w", err))
		}
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Notifier.Enabled() {
		largeTradeMin := decimal.Zero
		if cfg.Notify.LargeTradeMin != "" {
			largeTradeMin, err = decimal.NewFromString(cfg.Notify.LargeTradeMin)
			if err != nil {
				return fail(fmt.Errorf("wire: notify large_trade_min: %w", err))
			}
		}
		deps.Subscriber = notify.NewSubscriber(deps.Notifier, largeTradeMin, logger)
		closers = append(closers, deps.Subscriber.Attach(deps.Bus))
	}

	return deps, cleanup, nil
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config) (domain.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory", "":
		s := memory.New()
		return s, func() { _ = s.Close() }, nil

	case "sqlite":
		s, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		pg := cfg.Postgres
		client, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      pg.DSN,
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
			MaxConns: pg.PoolMaxConns,
			MinConns: pg.PoolMinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if pg.RunMigrations {
			if err := client.RunMigrations(ctx); err != nil {
				client.Close()
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		return postgres.NewStore(client.Pool()), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Store.Driver)
	}
}

// newGateway builds the settlement gateway. The http driver authenticates
// with HMAC credentials and, when a key is configured, signs every transfer.
func newGateway(sc config.SettlementConfig, logger *slog.Logger) (domain.SettlementGateway, error) {
	if sc.Driver != "http" {
		return settlement.NewFake(), nil
	}

	var signer *crypto.Signer
	src := crypto.KeySource{
		RawPrivateKey:    sc.PrivateKey,
		EncryptedKeyPath: sc.EncryptedKeyPath,
		KeyPassword:      sc.KeyPassword,
	}
	if src.Configured() {
		key, err := crypto.LoadKey(src)
		if err != nil {
			return nil, err
		}
		signer, err = crypto.NewSigner(key, sc.ChainID)
		if err != nil {
			return nil, err
		}
	}

	return settlement.NewHTTPGateway(settlement.HTTPConfig{
		BaseURL: sc.URL,
		Auth: crypto.HMACAuth{
			Key:        sc.APIKey,
			Secret:     sc.APISecret,
			Passphrase: sc.APIPassphrase,
		},
		Signer:     signer,
		Timeout:    sc.Timeout.Duration,
		RatePerSec: sc.RatePerSec,
		MaxRetries: sc.MaxRetries,
	}, logger.With(slog.String("component", "settlement")))
}

// EngineConfig converts the file representation of the engine section into
// engine.Config, keeping defaults for anything left unset.
func EngineConfig(ec config.EngineConfig) (engine.Config, error) {
	out := engine.DefaultConfig()
	out.EnforceDeadlines = ec.EnforceDeadlines

	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"base_liquidity", ec.BaseLiquidity, &out.BaseLiquidity},
		{"price_floor", ec.PriceFloor, &out.PriceFloor},
		{"creator_fee_rate", ec.CreatorFeeRate, &out.CreatorFeeRate},
		{"platform_fee_rate", ec.PlatformFeeRate, &out.PlatformFeeRate},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return engine.Config{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = d
	}

	setDur := func(dst *time.Duration, d config.Duration) {
		if d.Duration > 0 {
			*dst = d.Duration
		}
	}
	setDur(&out.LockTTL, ec.LockTTL)
	setDur(&out.LockWait, ec.LockWait)
	setDur(&out.SettlementTimeout, ec.SettlementTimeout)

	return out, out.Validate()
}
