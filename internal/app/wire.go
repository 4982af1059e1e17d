package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/narrativebet/internal/blob/s3"
	"github.com/alanyoungcy/narrativebet/internal/cache/redis"
	"github.com/alanyoungcy/narrativebet/internal/config"
	"github.com/alanyoungcy/narrativebet/internal/crypto"
	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/engine"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/notify"
	"github.com/alanyoungcy/narrativebet/internal/oracle"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
	"github.com/alanyoungcy/narrativebet/internal/server/handler"
	"github.com/alanyoungcy/narrativebet/internal/store/memory"
	"github.com/alanyoungcy/narrativebet/internal/store/postgres"
	"github.com/alanyoungcy/narrativebet/internal/suspicion"
)

// Dependencies bundles everything the operating modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine    *engine.Engine
	Suspicion *suspicion.Registry

	// Stores
	AuditStore domain.AuditStore

	// Caches and transport
	Bus         domain.EventBus
	RateLimiter domain.RateLimiter

	// Archive; nil when no bucket is configured.
	Archiver domain.Archiver

	// Oracle callback verification; nil refuses callbacks.
	OracleAuth *crypto.HMACAuth

	Notifier *notify.Notifier

	// Checks backs GET /api/health.
	Checks map[string]handler.Check
}

// EngineConfig translates the market, consensus, temporal and engine
// sections into engine rules.
func EngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.DefaultConfig()

	minBet, err := ledger.ParseAmount(cfg.Market.MinBet)
	if err != nil {
		return out, fmt.Errorf("market.min_bet: %w", err)
	}
	maxBet, err := ledger.ParseAmount(cfg.Market.MaxBet)
	if err != nil {
		return out, fmt.Errorf("market.max_bet: %w", err)
	}
	if minBet <= 0 || maxBet < minBet {
		return out, fmt.Errorf("market bet limits [%s, %s] are not a valid range", minBet, maxBet)
	}
	out.MinBet, out.MaxBet = minBet, maxBet

	out.Fees = ledger.FeeSchedule{
		WinnerBps:   cfg.Market.WinnerBps,
		TreasuryBps: cfg.Market.TreasuryBps,
		DevBps:      cfg.Market.DevBps,
	}
	if err := out.Fees.Validate(); err != nil {
		return out, err
	}
	out.AMMFeeBps = cfg.Market.AMMFeeBps
	out.Parimutuel.ProgressivePartialBps = cfg.Market.ProgressivePartialBps
	if len(cfg.Market.Teasers) > 0 {
		table := make(parimutuel.TeaserTable, len(cfg.Market.Teasers))
		for i, r := range cfg.Market.Teasers {
			table[i] = parimutuel.TeaserRule{Legs: r.Legs, OddsFactorBps: r.OddsFactorBps, MaxMissed: r.MaxMissed}
		}
		if err := table.Validate(); err != nil {
			return out, err
		}
		out.Parimutuel.Teasers = table
	}

	out.Consensus.ContrarianBonusBps = cfg.Consensus.ContrarianBonusBps
	out.Consensus.ContrarianWinDelta = cfg.Consensus.ContrarianWinDelta
	out.Consensus.BelieverWinDelta = cfg.Consensus.BelieverWinDelta
	out.Consensus.LossDelta = cfg.Consensus.LossDelta

	out.MinConfidenceBps = cfg.Temporal.MinConfidenceBps
	out.Dispute.Window = cfg.Temporal.DisputeWindow.Duration
	out.Dispute.MinVotes = cfg.Temporal.MinVotes
	out.Dispute.SupermajorityBps = cfg.Temporal.SupermajorityBps
	out.Dispute.MinBadge = domain.Badge(strings.ToUpper(cfg.Temporal.MinVoterBadge))

	out.OracleTimeout = cfg.Oracle.Timeout.Duration
	out.LockTTL = cfg.Engine.LockTTL.Duration
	out.IdempotencyTTL = cfg.Engine.IdempotencyTTL.Duration
	out.SnapshotEvery = cfg.Engine.SnapshotEvery
	out.ClaimWorkers = cfg.Engine.ClaimWorkers
	return out, nil
}

// Wire constructs all concrete dependency implementations from the given
// configuration, restores market state from the event log, and returns them
// together with a cleanup function that should be called on shutdown to
// release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	engCfg, err := EngineConfig(cfg)
	if err != nil {
		return fail("wire: engine config: %w", err)
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}
	engDeps := engine.Deps{}

	// --- Stores ---
	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
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
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		engDeps.Events = postgres.NewEventLog(pool)
		engDeps.Snapshots = postgres.NewSnapshotStore(pool)
		engDeps.Profiles = postgres.NewProfileStore(pool)
		engDeps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	default:
		engDeps.Events = memory.NewEventLog()
		engDeps.Snapshots = memory.NewSnapshotStore()
		engDeps.Profiles = memory.NewProfileStore()
		engDeps.Audit = memory.NewAuditStore()
	}
	deps.AuditStore = engDeps.Audit

	// --- Redis (optional; in-process stand-ins otherwise) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		engDeps.Locks = redis.NewLockManager(redisClient)
		engDeps.Bus = redis.NewEventBus(redisClient)
		engDeps.Odds = redis.NewOddsCache(redisClient)
		engDeps.Claims = redis.NewClaimGuard(redisClient).WithTTL(cfg.Engine.ClaimFlagTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		engDeps.Locks = memory.NewLockManager()
		engDeps.Bus = memory.NewEventBus()
		engDeps.Odds = memory.NewOddsCache()
		engDeps.Claims = memory.NewClaimGuard()
	}
	deps.Bus = engDeps.Bus

	// --- Oracle ---
	if cfg.Oracle.HMACKey != "" {
		deps.OracleAuth = &crypto.HMACAuth{Key: cfg.Oracle.HMACKey, Secret: cfg.Oracle.HMACSecret}
	}
	if cfg.Oracle.Endpoint != "" {
		engDeps.Oracle = oracle.NewClient(oracle.ClientConfig{
			BaseURL:   cfg.Oracle.Endpoint,
			Timeout:   cfg.Oracle.Timeout.Duration,
			Retries:   cfg.Oracle.Retries,
			RetryWait: cfg.Oracle.RetryWait.Duration,
			Auth:      deps.OracleAuth,
		}, logger)
	}

	// --- S3 archive (only when a bucket is configured) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Checks["s3"] = s3Client.Health

		archiver := s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), engDeps.Events, engDeps.Audit)
		if cfg.Attest.PrivateKey != "" || cfg.Attest.SealedKeyPath != "" {
			key, err := crypto.LoadKey(crypto.KeySource{
				RawHex:     cfg.Attest.PrivateKey,
				SealedPath: cfg.Attest.SealedKeyPath,
				Passphrase: cfg.Attest.KeyPassword,
			})
			if err != nil {
				return fail("wire: attestation key: %w", err)
			}
			attestor, err := crypto.NewAttestor(key, cfg.Attest.ChainID)
			if err != nil {
				return fail("wire: attestor: %w", err)
			}
			archiver = archiver.WithAttestor(attestor)
			logger.InfoContext(ctx, "wire: settlements will be attested",
				slog.String("signer", attestor.Address().Hex()),
			)
		}
		deps.Archiver = archiver
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	deps.Engine = engine.New(engCfg, engDeps, logger)
	if err := deps.Engine.Restore(ctx); err != nil {
		return fail("wire: restore markets: %w", err)
	}

	deps.Suspicion = suspicion.NewRegistry(suspicion.RoleConfig{
		TargetBps: cfg.Suspicion.TargetBps,
		Min:       cfg.Suspicion.Min,
		Max:       cfg.Suspicion.Max,
	}, cfg.Suspicion.Passphrase, engDeps.Audit, logger)

	return deps, cleanup, nil
}
