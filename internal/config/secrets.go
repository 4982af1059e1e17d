package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log or print: every
// credential that is set reads "***" and slices are cloned.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range []*string{
		&out.Postgres.DSN, &out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey, &out.S3.SecretKey,
		&out.Server.OperatorKey, &out.Server.BettorKey,
		&out.Notify.TelegramToken, &out.Notify.DiscordWebhookURL,
		&out.Oracle.HMACSecret,
		&out.Suspicion.Passphrase,
		&out.Attest.PrivateKey, &out.Attest.KeyPassword,
	} {
		if *s != "" {
			*s = redacted
		}
	}

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Market.Teasers = slices.Clone(cfg.Market.Teasers)
	return out
}
