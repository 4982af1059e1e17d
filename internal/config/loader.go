package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NARRATIVEBET_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NARRATIVEBET_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from NARRATIVEBET_* variables
// that are set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Backend, "STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.OperatorKey, "SERVER_OPERATOR_KEY")
	setStr(&cfg.Server.BettorKey, "SERVER_BETTOR_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Market ──
	setStr(&cfg.Market.MinBet, "MARKET_MIN_BET")
	setStr(&cfg.Market.MaxBet, "MARKET_MAX_BET")
	setInt64(&cfg.Market.WinnerBps, "MARKET_WINNER_BPS")
	setInt64(&cfg.Market.TreasuryBps, "MARKET_TREASURY_BPS")
	setInt64(&cfg.Market.DevBps, "MARKET_DEV_BPS")
	setInt64(&cfg.Market.AMMFeeBps, "MARKET_AMM_FEE_BPS")

	// ── Temporal ──
	setInt64(&cfg.Temporal.MinConfidenceBps, "TEMPORAL_MIN_CONFIDENCE_BPS")
	setDuration(&cfg.Temporal.DisputeWindow, "TEMPORAL_DISPUTE_WINDOW")
	setInt(&cfg.Temporal.MinVotes, "TEMPORAL_MIN_VOTES")

	// ── Oracle ──
	setStr(&cfg.Oracle.Endpoint, "ORACLE_ENDPOINT")
	setDuration(&cfg.Oracle.Timeout, "ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.Retries, "ORACLE_RETRIES")
	setStr(&cfg.Oracle.HMACKey, "ORACLE_HMAC_KEY")
	setStr(&cfg.Oracle.HMACSecret, "ORACLE_HMAC_SECRET")
	setDuration(&cfg.Oracle.MaxSkew, "ORACLE_MAX_SKEW")

	// ── Resolver ──
	setDuration(&cfg.Resolver.Interval, "RESOLVER_INTERVAL")
	setDuration(&cfg.Resolver.ArchiveAfter, "RESOLVER_ARCHIVE_AFTER")
	setInt(&cfg.Resolver.Workers, "RESOLVER_WORKERS")
	setBool(&cfg.Resolver.OraclePull, "RESOLVER_ORACLE_PULL")

	// ── Engine ──
	setDuration(&cfg.Engine.LockTTL, "ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.IdempotencyTTL, "ENGINE_IDEMPOTENCY_TTL")
	setInt64(&cfg.Engine.SnapshotEvery, "ENGINE_SNAPSHOT_EVERY")
	setInt(&cfg.Engine.ClaimWorkers, "ENGINE_CLAIM_WORKERS")
	setDuration(&cfg.Engine.ClaimFlagTTL, "ENGINE_CLAIM_FLAG_TTL")

	// ── Suspicion ──
	setStr(&cfg.Suspicion.Passphrase, "SUSPICION_PASSPHRASE")

	// ── Attestation ──
	setStr(&cfg.Attest.PrivateKey, "ATTEST_PRIVATE_KEY")
	setStr(&cfg.Attest.SealedKeyPath, "ATTEST_SEALED_KEY_PATH")
	setStr(&cfg.Attest.KeyPassword, "ATTEST_KEY_PASSWORD")
	setInt64(&cfg.Attest.ChainID, "ATTEST_CHAIN_ID")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
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
