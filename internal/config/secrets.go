package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// The RPC URL often embeds a provider API key in its path.
	redact(&out.Chain.RPCURL)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Chain.WhitelistedCurrencies = cloneStrings(cfg.Chain.WhitelistedCurrencies)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Server.WSChannels = cloneStrings(cfg.Server.WSChannels)
	if cfg.Oracle.Currencies != nil {
		out.Oracle.Currencies = make([]CurrencyConfig, len(cfg.Oracle.Currencies))
		copy(out.Oracle.Currencies, cfg.Oracle.Currencies)
	}
	if cfg.Router.Spenders != nil {
		out.Router.Spenders = make(map[string]string, len(cfg.Router.Spenders))
		for k, v := range cfg.Router.Spenders {
			out.Router.Spenders[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
