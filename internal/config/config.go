package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure for the settlement engine.
// It is typically loaded from a TOML file and then overridden by
// environment variables.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Market    MarketConfig    `toml:"market"`
	Consensus ConsensusConfig `toml:"consensus"`
	Temporal  TemporalConfig  `toml:"temporal"`
	Oracle    OracleConfig    `toml:"oracle"`
	Resolver  ResolverConfig  `toml:"resolver"`
	Suspicion SuspicionConfig `toml:"suspicion"`
	Attest    AttestConfig    `toml:"attest"`
	Engine    EngineConfig    `toml:"engine"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StoreConfig selects where the event log, snapshots, profiles and audit
// trail live.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled, Redis backs
// the distributed market lock, the event bus, the odds cache, the claim
// guard and API rate limiting.
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

// S3Config holds S3-compatible object storage parameters for the
// resolved-market archive. An empty bucket disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	OperatorKey string   `toml:"operator_key"`
	BettorKey   string   `toml:"bettor_key"`
	// RateLimit is the number of requests allowed per RateWindow per bettor
	// or client IP. Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MarketConfig holds the default market rules. Amounts are decimal strings
// in whole units, e.g. "0.5".
type MarketConfig struct {
	MinBet                string       `toml:"min_bet"`
	MaxBet                string       `toml:"max_bet"`
	WinnerBps             int64        `toml:"winner_bps"`
	TreasuryBps           int64        `toml:"treasury_bps"`
	DevBps                int64        `toml:"dev_bps"`
	AMMFeeBps             int64        `toml:"amm_fee_bps"`
	ProgressivePartialBps int64        `toml:"progressive_partial_bps"`
	Teasers               []TeaserRule `toml:"teasers"`
}

// TeaserRule is one row of the teaser adjustment table.
type TeaserRule struct {
	Legs          int   `toml:"legs"`
	OddsFactorBps int64 `toml:"odds_factor_bps"`
	MaxMissed     int   `toml:"max_missed"`
}

// ConsensusConfig holds the meta-market payout and psychic score rules.
type ConsensusConfig struct {
	ContrarianBonusBps int64 `toml:"contrarian_bonus_bps"`
	ContrarianWinDelta int   `toml:"contrarian_win_delta"`
	BelieverWinDelta   int   `toml:"believer_win_delta"`
	LossDelta          int   `toml:"loss_delta"`
}

// TemporalConfig holds the oracle confidence floor and the dispute rules.
type TemporalConfig struct {
	MinConfidenceBps int64    `toml:"min_confidence_bps"`
	DisputeWindow    duration `toml:"dispute_window"`
	MinVotes         int      `toml:"min_votes"`
	SupermajorityBps int64    `toml:"supermajority_bps"`
	MinVoterBadge    string   `toml:"min_voter_badge"`
}

// OracleConfig points at the narrator oracle and holds the shared HMAC
// credentials used both for outbound requests and inbound callbacks.
type OracleConfig struct {
	Endpoint   string   `toml:"endpoint"`
	Timeout    duration `toml:"timeout"`
	Retries    int      `toml:"retries"`
	RetryWait  duration `toml:"retry_wait"`
	HMACKey    string   `toml:"hmac_key"`
	HMACSecret string   `toml:"hmac_secret"`
	MaxSkew    duration `toml:"max_skew"`
}

// ResolverConfig controls the background lock / oracle / dispute / archive
// loop.
type ResolverConfig struct {
	Interval     duration `toml:"interval"`
	AutoLock     bool     `toml:"auto_lock"`
	OraclePull   bool     `toml:"oracle_pull"`
	CloseExpired bool     `toml:"close_expired"`
	ArchiveAfter duration `toml:"archive_after"`
	Workers      int      `toml:"workers"`
}

// SuspicionConfig sizes hidden-role rounds and seals their secrets.
type SuspicionConfig struct {
	TargetBps  int64  `toml:"target_bps"`
	Min        int    `toml:"min"`
	Max        int    `toml:"max"`
	Passphrase string `toml:"passphrase"`
}

// AttestConfig holds the secp256k1 key that signs archived settlements.
// PrivateKey takes priority over SealedKeyPath. Both empty disables
// attestation.
type AttestConfig struct {
	PrivateKey    string `toml:"private_key"`
	SealedKeyPath string `toml:"sealed_key_path"`
	KeyPassword   string `toml:"key_password"`
	ChainID       int64  `toml:"chain_id"`
}

// EngineConfig holds operational limits of the settlement engine.
type EngineConfig struct {
	LockTTL        duration `toml:"lock_ttl"`
	IdempotencyTTL duration `toml:"idempotency_ttl"`
	SnapshotEvery  int64    `toml:"snapshot_every"`
	ClaimWorkers   int      `toml:"claim_workers"`
	// ClaimFlagTTL expires Redis claim flags; zero keeps them.
	ClaimFlagTTL duration `toml:"claim_flag_ttl"`
}

// duration wraps time.Duration so that it can be decoded from a TOML string
// such as "5s" or "48h".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values. Fields
// that have no meaningful default are left at their zero value.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "narrativebet:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_disputed", "market_voided", "oracle_failed", "dispute_expired", "archive_failed"},
		},
		Market: MarketConfig{
			MinBet:                "1",
			MaxBet:                "10000",
			WinnerBps:             8500,
			TreasuryBps:           1250,
			DevBps:                250,
			AMMFeeBps:             30,
			ProgressivePartialBps: 5000,
		},
		Consensus: ConsensusConfig{
			ContrarianBonusBps: 20_000,
			ContrarianWinDelta: 50,
			BelieverWinDelta:   10,
			LossDelta:          -20,
		},
		Temporal: TemporalConfig{
			MinConfidenceBps: 7500,
			DisputeWindow:    duration{48 * time.Hour},
			MinVotes:         10,
			SupermajorityBps: 7000,
			MinVoterBadge:    "ORACLE",
		},
		Oracle: OracleConfig{
			Timeout:   duration{30 * time.Second},
			Retries:   3,
			RetryWait: duration{500 * time.Millisecond},
			MaxSkew:   duration{5 * time.Minute},
		},
		Resolver: ResolverConfig{
			Interval:     duration{15 * time.Second},
			AutoLock:     true,
			CloseExpired: true,
			Workers:      4,
		},
		Suspicion: SuspicionConfig{
			TargetBps: 1200,
			Min:       5,
			Max:       30,
		},
		Attest: AttestConfig{
			ChainID: 1,
		},
		Engine: EngineConfig{
			LockTTL:        duration{10 * time.Second},
			IdempotencyTTL: duration{10 * time.Minute},
			SnapshotEvery:  1,
			ClaimWorkers:   8,
			ClaimFlagTTL:   duration{72 * time.Hour},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted operating modes.
var validModes = map[string]bool{
	"server":   true,
	"resolver": true,
	"full":     true,
}

// validLogLevels enumerates the accepted log levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBadges = map[string]bool{
	"INITIATE":  true,
	"SEER":      true,
	"ORACLE":    true,
	"PROPHET":   true,
	"VOID_SEER": true,
}

// Validate checks that required fields are present and that values fall
// within acceptable ranges. It returns an error describing every problem
// found, or nil if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("mode %q is not valid; must be one of: server, resolver, full", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("log_level %q is not valid; must be one of: debug, info, warn, error", c.LogLevel))
	}

	// ── Store ──
	switch strings.ToLower(c.Store.Backend) {
	case "memory":
		if mode == "resolver" {
			errs = append(errs, "store.backend memory cannot be shared with a separate server; resolver mode needs postgres")
		}
	case "postgres":
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres.dsn or postgres.host is required when store.backend is postgres")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres.pool_max_conns must be at least 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres.pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q is not valid; must be memory or postgres", c.Store.Backend))
	}

	// ── Redis ──
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}
	if mode != "full" && strings.EqualFold(c.Store.Backend, "postgres") && !c.Redis.Enabled {
		errs = append(errs, "redis.enabled is required when server and resolver run as separate processes over postgres")
	}

	// ── Engine ──
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine.lock_ttl must be positive")
	}
	if c.Engine.ClaimWorkers < 1 {
		errs = append(errs, "engine.claim_workers must be at least 1")
	}
	if c.Engine.ClaimFlagTTL.Duration < 0 {
		errs = append(errs, "engine.claim_flag_ttl must not be negative")
	}

	// ── Server ──
	if mode != "resolver" {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range (1-65535)", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server.rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server.rate_window must be positive when rate_limit is set")
		}
	}

	// ── Market ──
	if c.Market.WinnerBps < 0 || c.Market.TreasuryBps < 0 || c.Market.DevBps < 0 {
		errs = append(errs, "market fee shares must not be negative")
	}
	if sum := c.Market.WinnerBps + c.Market.TreasuryBps + c.Market.DevBps; sum != 10_000 {
		errs = append(errs, fmt.Sprintf("market fee shares sum to %d bps; must be 10000", sum))
	}
	if c.Market.AMMFeeBps < 0 || c.Market.AMMFeeBps >= 10_000 {
		errs = append(errs, "market.amm_fee_bps must be in [0, 10000)")
	}
	if c.Market.ProgressivePartialBps < 0 || c.Market.ProgressivePartialBps > 10_000 {
		errs = append(errs, "market.progressive_partial_bps must be in [0, 10000]")
	}
	if c.Market.MinBet == "" || c.Market.MaxBet == "" {
		errs = append(errs, "market.min_bet and market.max_bet are required")
	}

	// ── Consensus ──
	if c.Consensus.ContrarianBonusBps < 10_000 {
		errs = append(errs, "consensus.contrarian_bonus_bps must be at least 10000")
	}

	// ── Temporal / dispute ──
	if c.Temporal.MinConfidenceBps < 0 || c.Temporal.MinConfidenceBps > 10_000 {
		errs = append(errs, "temporal.min_confidence_bps must be in [0, 10000]")
	}
	if c.Temporal.DisputeWindow.Duration <= 0 {
		errs = append(errs, "temporal.dispute_window must be positive")
	}
	if c.Temporal.MinVotes < 1 {
		errs = append(errs, "temporal.min_votes must be at least 1")
	}
	if c.Temporal.SupermajorityBps <= 5000 || c.Temporal.SupermajorityBps > 10_000 {
		errs = append(errs, "temporal.supermajority_bps must be in (5000, 10000]")
	}
	if !validBadges[strings.ToUpper(c.Temporal.MinVoterBadge)] {
		errs = append(errs, fmt.Sprintf("temporal.min_voter_badge %q is not a known badge", c.Temporal.MinVoterBadge))
	}

	// ── Oracle ──
	if (c.Oracle.HMACKey == "") != (c.Oracle.HMACSecret == "") {
		errs = append(errs, "oracle.hmac_key and oracle.hmac_secret must be set together")
	}
	if c.Oracle.Timeout.Duration <= 0 {
		errs = append(errs, "oracle.timeout must be positive")
	}
	if c.Oracle.Retries < 0 {
		errs = append(errs, "oracle.retries must not be negative")
	}

	// ── Resolver ──
	if mode != "server" {
		if c.Resolver.Interval.Duration <= 0 {
			errs = append(errs, "resolver.interval must be positive")
		}
		if c.Resolver.Workers < 1 {
			errs = append(errs, "resolver.workers must be at least 1")
		}
		if c.Resolver.OraclePull && c.Oracle.Endpoint == "" {
			errs = append(errs, "oracle.endpoint is required when resolver.oracle_pull is enabled")
		}
	}
	if c.Resolver.ArchiveAfter.Duration > 0 && c.S3.Bucket == "" {
		errs = append(errs, "s3.bucket is required when resolver.archive_after is set")
	}

	// ── Suspicion ──
	if c.Suspicion.TargetBps <= 0 || c.Suspicion.TargetBps > 10_000 {
		errs = append(errs, "suspicion.target_bps must be in (0, 10000]")
	}
	if c.Suspicion.Min < 1 || c.Suspicion.Max < c.Suspicion.Min {
		errs = append(errs, "suspicion.min must be at least 1 and not above suspicion.max")
	}
	if c.Suspicion.Passphrase == "" {
		errs = append(errs, "suspicion.passphrase is required to seal role assignments")
	}

	// ── Attestation ──
	if c.Attest.SealedKeyPath != "" && c.Attest.KeyPassword == "" && c.Attest.PrivateKey == "" {
		errs = append(errs, "attest.key_password is required with attest.sealed_key_path")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
