package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valid() Config {
	cfg := Defaults()
	cfg.Suspicion.Passphrase = "correct horse"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := valid()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(10_000), cfg.Market.WinnerBps+cfg.Market.TreasuryBps+cfg.Market.DevBps)
	assert.Equal(t, 48*time.Hour, cfg.Temporal.DisputeWindow.Duration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad backend", func(c *Config) { c.Store.Backend = "sqlite" }, "store.backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }, "postgres.dsn"},
		{"resolver on memory", func(c *Config) { c.Mode = "resolver" }, "resolver mode needs postgres"},
		{"split over postgres without redis", func(c *Config) {
			c.Store.Backend = "postgres"
			c.Postgres.Host = "db"
			c.Mode = "resolver"
		}, "redis.enabled is required"},
		{"negative claim flag ttl", func(c *Config) { c.Engine.ClaimFlagTTL.Duration = -time.Second }, "claim_flag_ttl"},
		{"no claim workers", func(c *Config) { c.Engine.ClaimWorkers = 0 }, "claim_workers"},
		{"fees off", func(c *Config) { c.Market.DevBps = 300 }, "sum to 10050"},
		{"amm fee", func(c *Config) { c.Market.AMMFeeBps = 10_000 }, "amm_fee_bps"},
		{"bonus below par", func(c *Config) { c.Consensus.ContrarianBonusBps = 9_000 }, "contrarian_bonus_bps"},
		{"simple majority", func(c *Config) { c.Temporal.SupermajorityBps = 5000 }, "supermajority_bps"},
		{"unknown badge", func(c *Config) { c.Temporal.MinVoterBadge = "WIZARD" }, "min_voter_badge"},
		{"half hmac", func(c *Config) { c.Oracle.HMACKey = "k" }, "set together"},
		{"pull without endpoint", func(c *Config) { c.Resolver.OraclePull = true }, "oracle.endpoint"},
		{"archive without bucket", func(c *Config) { c.Resolver.ArchiveAfter.Duration = time.Hour }, "s3.bucket"},
		{"no passphrase", func(c *Config) { c.Suspicion.Passphrase = "" }, "suspicion.passphrase"},
		{"roles inverted", func(c *Config) { c.Suspicion.Min = 40 }, "suspicion.min"},
		{"rate window", func(c *Config) { c.Server.RateWindow.Duration = 0 }, "rate_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := valid()
	cfg.Mode = "nope"
	cfg.Temporal.MinVotes = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "temporal.min_votes")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "narrativebet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[market]
min_bet = "0.5"
amm_fee_bps = 25

[[market.teasers]]
legs = 3
odds_factor_bps = 6000
max_missed = 1

[temporal]
dispute_window = "24h"

[suspicion]
passphrase = "from-file"
`), 0o600))

	t.Setenv("NARRATIVEBET_SERVER_PORT", "9090")
	t.Setenv("NARRATIVEBET_SUSPICION_PASSPHRASE", "from-env")
	t.Setenv("NARRATIVEBET_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("NARRATIVEBET_REDIS_DB", "not-a-number")
	t.Setenv("NARRATIVEBET_ENGINE_CLAIM_FLAG_TTL", "24h")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "0.5", cfg.Market.MinBet)
	assert.Equal(t, "10000", cfg.Market.MaxBet, "defaults survive a partial file")
	assert.Equal(t, int64(25), cfg.Market.AMMFeeBps)
	assert.Equal(t, []TeaserRule{{Legs: 3, OddsFactorBps: 6000, MaxMissed: 1}}, cfg.Market.Teasers)
	assert.Equal(t, 24*time.Hour, cfg.Temporal.DisputeWindow.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Suspicion.Passphrase, "environment wins over the file")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0, cfg.Redis.DB, "unparsable overrides are ignored")
	assert.Equal(t, 24*time.Hour, cfg.Engine.ClaimFlagTTL.Duration)
	assert.Equal(t, 10*time.Second, cfg.Engine.LockTTL.Duration)
}

func TestLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[temporal]
dispute_window = "two days"`), 0o600))
	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := valid()
	cfg.Postgres.Password = "pg"
	cfg.Oracle.HMACSecret = "hmac"
	cfg.Server.OperatorKey = "op"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Oracle.HMACSecret)
	assert.Equal(t, redacted, out.Server.OperatorKey)
	assert.Equal(t, redacted, out.Suspicion.Passphrase)
	assert.Empty(t, out.Attest.PrivateKey, "empty secrets stay empty")

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "hmac", cfg.Oracle.HMACSecret)
}
