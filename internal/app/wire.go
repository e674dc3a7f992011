package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/aggregator"
	s3blob "github.com/alanyoungcy/cryptobot/internal/blob/s3"
	"github.com/alanyoungcy/cryptobot/internal/cache/redis"
	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/engine"
	"github.com/alanyoungcy/cryptobot/internal/executor"
	"github.com/alanyoungcy/cryptobot/internal/exit"
	"github.com/alanyoungcy/cryptobot/internal/ledger"
	"github.com/alanyoungcy/cryptobot/internal/market"
	"github.com/alanyoungcy/cryptobot/internal/metrics"
	"github.com/alanyoungcy/cryptobot/internal/notify"
	"github.com/alanyoungcy/cryptobot/internal/platform/coinbase"
	"github.com/alanyoungcy/cryptobot/internal/risk"
	"github.com/alanyoungcy/cryptobot/internal/server/handler"
	"github.com/alanyoungcy/cryptobot/internal/server/middleware"
	"github.com/alanyoungcy/cryptobot/internal/store/postgres"
	"github.com/alanyoungcy/cryptobot/internal/store/sqlite"
	"github.com/alanyoungcy/cryptobot/internal/strategy"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core
	Settings *config.Store
	Ledger   *ledger.Ledger
	Risk     *risk.Manager
	Market   *market.Source
	Engine   *engine.Orchestrator
	Metrics  *metrics.Metrics

	// Persistence; nil when not configured.
	Journal domain.TradeJournal
	Audit   domain.AuditStore

	// Redis-backed; nil without redis.
	PriceCache domain.PriceCache
	Bus        domain.EventBus
	Locks      domain.LockManager
	APILimiter middleware.Limiter

	// Archiver is nil unless s3 is enabled.
	Archiver *s3blob.TradeArchiver

	Notifier *notify.PositionNotifier

	// Checks are the readiness probes served by GET /api/health.
	Checks map[string]handler.Check
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	settings, err := config.NewStore(cfg.Runtime())
	if err != nil {
		return fail("runtime config", err)
	}
	deps.Settings = settings
	deps.Risk = risk.NewManager(settings, logger)

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		priceTTL := 2 * cfg.Market.PriceMaxAge.Duration
		deps.PriceCache = redis.NewPriceCache(redisClient, priceTTL)
		deps.Bus = redis.NewEventBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		if cfg.Server.RateLimit > 0 {
			deps.APILimiter = redis.NewRateLimiter(redisClient, "ratelimit:api", cfg.Server.RateLimit, time.Minute)
		}
	}

	// --- Trade journal and audit log ---
	switch {
	case cfg.Postgres.Enabled:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		pool := pgClient.Pool()
		deps.Journal = postgres.NewTradeJournal(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	case cfg.SQLite.Enabled:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Journal = sqlite.NewTradeJournal(db)
		deps.Audit = sqlite.NewAuditStore(db)
	}

	// --- Ledger ---
	deps.Ledger = ledger.New(ledger.Config{
		InitialBalance: decimal.NewFromFloat(cfg.Engine.InitialBalance),
		Cooldown:       func() time.Duration { return settings.Load().CooldownWindow },
	}, logger)

	// --- S3 trade archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         !strings.HasPrefix(cfg.S3.Endpoint, "http://"),
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Ledger, deps.Audit, cfg.S3.Prefix, logger)
	}

	// --- Market data ---
	exchange := coinbase.NewClient(cfg.Market.RestHost, cfg.Market.RequestTimeout.Duration)
	if redisClient != nil && cfg.Market.RateLimit > 0 {
		exchange.SetLimiter(redis.NewRateLimiter(redisClient, "ratelimit:coinbase", cfg.Market.RateLimit, time.Second))
	}
	deps.Market = market.NewSource(exchange, deps.PriceCache, cfg.Market.Granularity, cfg.Market.PriceMaxAge.Duration, logger)
	if deps.Bus != nil {
		deps.Market.SetPublisher(deps.Bus, time.Second)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.Timeout.Duration))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.Timeout.Duration))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Notifier = notify.NewPositionNotifier(notifier, deps.Ledger.Summary, cfg.Notify.Timeout.Duration, logger)

	// --- Producers and aggregation ---
	registry, err := newRegistry(cfg, logger)
	if err != nil {
		return fail("producers", err)
	}
	agg := aggregator.New(registry, settings, deps.Metrics, logger)

	// --- Order execution ---
	orders := executor.NewGuarded(
		executor.NewPaper(logger),
		executor.NewBreaker(cfg.Executor.FailureThreshold, cfg.Executor.ResetTimeout.Duration, logger),
		executor.NewDedup(cfg.Executor.DedupTTL.Duration),
		logger,
	)

	deps.Engine = engine.New(engine.Deps{
		Market:     deps.Market,
		Aggregator: agg,
		Ledger:     deps.Ledger,
		Exits:      exit.New(deps.Ledger, orders, logger),
		Settings:   settings,
		Risk:       deps.Risk,
		Executor:   orders,
		Events:     deps.Notifier,
		Journal:    deps.Journal,
		Audit:      deps.Audit,
		Bus:        deps.Bus,
		Locks:      deps.Locks,
		Metrics:    deps.Metrics,
	}, engine.Options{
		Mode:         cfg.Mode,
		Symbols:      cfg.Engine.Symbols,
		Lookback:     cfg.Engine.Lookback,
		WarmupCycles: cfg.Engine.WarmupCycles,
		LockTTL:      cfg.Engine.LockTTL.Duration,
	}, logger)

	return deps, cleanup, nil
}

// newRegistry builds every configured producer in tie-break order. Disabled
// producers stay registered; the aggregator skips them until they are
// enabled through the config store.
func newRegistry(cfg *config.Config, logger *slog.Logger) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()
	for _, name := range cfg.ProducerNames() {
		pc := cfg.Producers[name]
		p, err := strategy.Build(name, strategy.Config{
			MaxHold: pc.MaxHold.Duration,
			Params:  pc.Params,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
