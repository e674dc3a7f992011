package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CRYPTOBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	fillProducerDefaults(md, &cfg)

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// fillProducerDefaults restores built-in values for producer keys the file
// left out. The TOML decoder replaces whole map entries, so a table that only
// sets min_confidence would otherwise zero the weight and disable the producer.
func fillProducerDefaults(md toml.MetaData, cfg *Config) {
	defaults := DefaultProducers()
	for name, p := range cfg.Producers {
		def, ok := defaults[name]
		if !ok {
			continue
		}
		if !md.IsDefined("producers", name, "enabled") {
			p.Enabled = def.Enabled
		}
		if !md.IsDefined("producers", name, "min_confidence") {
			p.MinConfidence = def.MinConfidence
		}
		if !md.IsDefined("producers", name, "weight") {
			p.Weight = def.Weight
		}
		if !md.IsDefined("producers", name, "stop_loss_pct") {
			p.StopLossPct = def.StopLossPct
		}
		if !md.IsDefined("producers", name, "take_profit_pct") {
			p.TakeProfitPct = def.TakeProfitPct
		}
		if !md.IsDefined("producers", name, "max_hold") {
			p.MaxHold = def.MaxHold
		}
		cfg.Producers[name] = p
	}
}

// applyEnvOverrides reads well-known CRYPTOBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "CRYPTOBOT_ENGINE_SYMBOLS")
	setDuration(&cfg.Engine.Interval, "CRYPTOBOT_ENGINE_INTERVAL")
	setInt(&cfg.Engine.Lookback, "CRYPTOBOT_ENGINE_LOOKBACK")
	setFloat64(&cfg.Engine.InitialBalance, "CRYPTOBOT_ENGINE_INITIAL_BALANCE")
	setDuration(&cfg.Engine.CooldownWindow, "CRYPTOBOT_ENGINE_COOLDOWN_WINDOW")
	setInt(&cfg.Engine.WarmupCycles, "CRYPTOBOT_ENGINE_WARMUP_CYCLES")
	setBool(&cfg.Engine.AutoStart, "CRYPTOBOT_ENGINE_AUTO_START")

	// ── Aggregator ──
	setInt(&cfg.Aggregator.AgreementThreshold, "CRYPTOBOT_AGGREGATOR_AGREEMENT_THRESHOLD")
	setInt(&cfg.Aggregator.TopK, "CRYPTOBOT_AGGREGATOR_TOP_K")

	// ── Sizing ──
	setStr(&cfg.Sizing.Mode, "CRYPTOBOT_SIZING_MODE")
	setFloat64(&cfg.Sizing.PositionSizePercent, "CRYPTOBOT_SIZING_POSITION_SIZE_PERCENT")
	setFloat64(&cfg.Sizing.MinPositionValue, "CRYPTOBOT_SIZING_MIN_POSITION_VALUE")
	setFloat64(&cfg.Sizing.MaxPositionValue, "CRYPTOBOT_SIZING_MAX_POSITION_VALUE")
	setFloat64(&cfg.Sizing.RiskPerTrade, "CRYPTOBOT_SIZING_RISK_PER_TRADE")

	// ── Risk ──
	setBool(&cfg.Risk.OverrideLevels, "CRYPTOBOT_RISK_OVERRIDE_LEVELS")
	setFloat64(&cfg.Risk.StopLossPct, "CRYPTOBOT_RISK_STOP_LOSS_PCT")
	setFloat64(&cfg.Risk.TakeProfitPct, "CRYPTOBOT_RISK_TAKE_PROFIT_PCT")

	// ── Market ──
	setStr(&cfg.Market.RestHost, "CRYPTOBOT_MARKET_REST_HOST")
	setStr(&cfg.Market.WsHost, "CRYPTOBOT_MARKET_WS_HOST")
	setInt(&cfg.Market.Granularity, "CRYPTOBOT_MARKET_GRANULARITY")
	setBool(&cfg.Market.UseTickerFeed, "CRYPTOBOT_MARKET_USE_TICKER_FEED")
	setInt(&cfg.Market.RateLimit, "CRYPTOBOT_MARKET_RATE_LIMIT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CRYPTOBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CRYPTOBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CRYPTOBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CRYPTOBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CRYPTOBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CRYPTOBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CRYPTOBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CRYPTOBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CRYPTOBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CRYPTOBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CRYPTOBOT_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setBool(&cfg.SQLite.Enabled, "CRYPTOBOT_SQLITE_ENABLED")
	setStr(&cfg.SQLite.Path, "CRYPTOBOT_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CRYPTOBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CRYPTOBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTOBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTOBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTOBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTOBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTOBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CRYPTOBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CRYPTOBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CRYPTOBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTOBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "CRYPTOBOT_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CRYPTOBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CRYPTOBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CRYPTOBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CRYPTOBOT_SERVER_API_KEY")
	setBool(&cfg.Server.MetricsEnabled, "CRYPTOBOT_SERVER_METRICS_ENABLED")
	setInt(&cfg.Server.RateLimit, "CRYPTOBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CRYPTOBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CRYPTOBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CRYPTOBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CRYPTOBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CRYPTOBOT_MODE")
	setStr(&cfg.LogLevel, "CRYPTOBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setDuration(dst *duration, key string) {
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
