// Package config defines the top-level configuration for the crypto trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOBOT_* environment variables.
type Config struct {
	Engine     EngineConfig              `toml:"engine"`
	Aggregator AggregatorConfig          `toml:"aggregator"`
	Producers  map[string]ProducerConfig `toml:"producers"`
	Sizing     SizingConfig              `toml:"sizing"`
	Risk       RiskConfig                `toml:"risk"`
	Market     MarketConfig              `toml:"market"`
	Executor   ExecutorConfig            `toml:"executor"`
	Postgres   PostgresConfig            `toml:"postgres"`
	SQLite     SQLiteConfig              `toml:"sqlite"`
	Redis      RedisConfig               `toml:"redis"`
	S3         S3Config                  `toml:"s3"`
	Server     ServerConfig              `toml:"server"`
	Notify     NotifyConfig              `toml:"notify"`
	Mode       string                    `toml:"mode"`
	LogLevel   string                    `toml:"log_level"`
}

// EngineConfig holds the cycle loop parameters.
type EngineConfig struct {
	Symbols        []string `toml:"symbols"`
	Interval       duration `toml:"interval"`
	Lookback       int      `toml:"lookback"`
	InitialBalance float64  `toml:"initial_balance"`
	CooldownWindow duration `toml:"cooldown_window"`
	WarmupCycles   int      `toml:"warmup_cycles"`
	// AutoStart begins the cycle loop as soon as the process is up. When false
	// the loop waits for POST /api/engine/start.
	AutoStart bool     `toml:"auto_start"`
	LockTTL   duration `toml:"lock_ttl"`
}

// AggregatorConfig holds the cross-producer selection rules.
type AggregatorConfig struct {
	// AgreementThreshold is the number of distinct producers that must agree
	// on a direction before it is actionable. The default of 1 is a product
	// decision still awaiting confirmation.
	AgreementThreshold int `toml:"agreement_threshold"`
	TopK               int `toml:"top_k"`
}

// ProducerConfig holds one signal producer's thresholds and defaults.
type ProducerConfig struct {
	Enabled       bool           `toml:"enabled"`
	MinConfidence float64        `toml:"min_confidence"`
	Weight        float64        `toml:"weight"`
	StopLossPct   float64        `toml:"stop_loss_pct"`
	TakeProfitPct float64        `toml:"take_profit_pct"`
	MaxHold       duration       `toml:"max_hold"`
	Params        map[string]any `toml:"params"`
}

// SizingConfig selects the sizing policy. Mode is "percent" or "risk".
type SizingConfig struct {
	Mode                string  `toml:"mode"`
	PositionSizePercent float64 `toml:"position_size_percent"`
	MinPositionValue    float64 `toml:"min_position_value"`
	MaxPositionValue    float64 `toml:"max_position_value"`
	RiskPerTrade        float64 `toml:"risk_per_trade"`
}

// RiskConfig holds the global stop/target percentages applied when
// OverrideLevels is set.
type RiskConfig struct {
	OverrideLevels bool    `toml:"override_levels"`
	StopLossPct    float64 `toml:"stop_loss_pct"`
	TakeProfitPct  float64 `toml:"take_profit_pct"`
}

// MarketConfig holds the Coinbase Exchange endpoints.
type MarketConfig struct {
	RestHost       string   `toml:"rest_host"`
	WsHost         string   `toml:"ws_host"`
	Granularity    int      `toml:"granularity"`
	UseTickerFeed  bool     `toml:"use_ticker_feed"`
	PriceMaxAge    duration `toml:"price_max_age"`
	RequestTimeout duration `toml:"request_timeout"`
	// RateLimit caps REST requests per second. It is enforced through redis
	// when redis is enabled so that bots sharing an address share the budget.
	RateLimit int `toml:"rate_limit"`
}

// ExecutorConfig holds order-placement parameters. Only paper trading is
// implemented.
type ExecutorConfig struct {
	Paper            bool     `toml:"paper"`
	FailureThreshold int      `toml:"failure_threshold"`
	ResetTimeout     duration `toml:"reset_timeout"`
	DedupTTL         duration `toml:"dedup_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local journal used when postgres is disabled.
type SQLiteConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Prefix          string   `toml:"prefix"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	APIKey         string   `toml:"api_key"`
	MetricsEnabled bool     `toml:"metrics_enabled"`
	// RateLimit is requests per minute per client IP. It needs redis; zero
	// disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Timeout           duration `toml:"timeout"`
}

// Producer names understood by the strategy factory.
const (
	ProducerUltraScalp    = "ultra_scalp"
	ProducerFastScalp     = "fast_scalp"
	ProducerQuickMomentum = "quick_momentum"
	ProducerTTMSqueeze    = "ttm_squeeze"
)

// Sizing modes.
const (
	SizingPercent = "percent"
	SizingRisk    = "risk"
)

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbols:        []string{"BTC-USD", "ETH-USD", "SOL-USD"},
			Interval:       duration{30 * time.Second},
			Lookback:       100,
			InitialBalance: 10_000,
			CooldownWindow: duration{5 * time.Minute},
			WarmupCycles:   0,
			AutoStart:      true,
			LockTTL:        duration{2 * time.Minute},
		},
		Aggregator: AggregatorConfig{
			AgreementThreshold: 1,
			TopK:               1,
		},
		Producers: DefaultProducers(),
		Sizing: SizingConfig{
			Mode:                SizingPercent,
			PositionSizePercent: 0.10,
			MinPositionValue:    10,
			MaxPositionValue:    10_000,
			RiskPerTrade:        0.01,
		},
		Risk: RiskConfig{
			OverrideLevels: false,
			StopLossPct:    0.5,
			TakeProfitPct:  1.0,
		},
		Market: MarketConfig{
			RestHost:       "https://api.exchange.coinbase.com",
			WsHost:         "wss://ws-feed.exchange.coinbase.com",
			Granularity:    60,
			UseTickerFeed:  false,
			PriceMaxAge:    duration{time.Minute},
			RequestTimeout: duration{30 * time.Second},
			RateLimit:      8,
		},
		Executor: ExecutorConfig{
			Paper:            true,
			FailureThreshold: 5,
			ResetTimeout:     duration{time.Minute},
			DedupTTL:         duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptobot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Enabled: false,
			Path:    "data/journal.db",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "cryptobot:",
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "cryptobot-data",
			ForcePathStyle:  true,
			Prefix:          "cryptobot/",
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			MetricsEnabled: true,
			RateLimit:      120,
		},
		Notify: NotifyConfig{
			Events:  []string{"position_opened", "position_closed", "engine", "error"},
			Timeout: duration{10 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// DefaultProducers returns the built-in producer settings. Max-hold values
// differ per producer; the stop/target percentages feed the dynamic risk
// levels.
func DefaultProducers() map[string]ProducerConfig {
	return map[string]ProducerConfig{
		ProducerUltraScalp: {
			Enabled: true, MinConfidence: 0.6, Weight: 1.0,
			StopLossPct: 0.25, TakeProfitPct: 0.50,
			MaxHold: duration{10 * time.Minute},
		},
		ProducerFastScalp: {
			Enabled: true, MinConfidence: 0.6, Weight: 1.0,
			StopLossPct: 0.30, TakeProfitPct: 0.60,
			MaxHold: duration{15 * time.Minute},
		},
		ProducerQuickMomentum: {
			Enabled: true, MinConfidence: 0.6, Weight: 1.1,
			StopLossPct: 0.40, TakeProfitPct: 0.80,
			MaxHold: duration{15 * time.Minute},
		},
		ProducerTTMSqueeze: {
			Enabled: true, MinConfidence: 0.55, Weight: 1.2,
			StopLossPct: 0.50, TakeProfitPct: 1.00,
			MaxHold: duration{20 * time.Minute},
		},
	}
}

// ProducerNames returns the configured producer names in a stable order:
// the built-in producers first in their canonical order, then any extra names
// sorted. This order is the aggregator's tie-break order.
func (c *Config) ProducerNames() []string {
	canonical := []string{ProducerUltraScalp, ProducerFastScalp, ProducerQuickMomentum, ProducerTTMSqueeze}
	seen := make(map[string]bool, len(canonical))
	var out []string
	for _, name := range canonical {
		if _, ok := c.Producers[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range c.Producers {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: symbols must not be empty")
	}
	if c.Engine.Lookback < 2 {
		errs = append(errs, "engine: lookback must be >= 2")
	}
	if c.Engine.InitialBalance <= 0 {
		errs = append(errs, "engine: initial_balance must be > 0")
	}
	if c.Engine.WarmupCycles < 0 {
		errs = append(errs, "engine: warmup_cycles must be >= 0")
	}

	// Runtime-tunable sections share their checks with the config store.
	errs = append(errs, c.Runtime().problems()...)

	// Market
	if c.Market.RestHost == "" {
		errs = append(errs, "market: rest_host must not be empty")
	}
	if c.Market.UseTickerFeed && c.Market.WsHost == "" {
		errs = append(errs, "market: ws_host must not be empty when use_ticker_feed is set")
	}
	if c.Market.UseTickerFeed && !c.Redis.Enabled {
		errs = append(errs, "market: use_ticker_feed requires redis.enabled")
	}
	if c.Market.Granularity <= 0 {
		errs = append(errs, "market: granularity must be > 0")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Market.RateLimit < 0 {
		errs = append(errs, "market: rate_limit must be >= 0")
	}

	// Executor
	if !c.Executor.Paper {
		errs = append(errs, "executor: only paper trading is supported")
	}
	if c.Executor.FailureThreshold < 1 {
		errs = append(errs, "executor: failure_threshold must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// SQLite
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty when enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
