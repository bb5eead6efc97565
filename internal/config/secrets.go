package config

// redactedPlaceholder replaces secret values in log-safe copies.
const redactedPlaceholder = "[REDACTED]"

// Redacted returns a copy of the config with every secret field masked so it
// can be logged at startup.
func (c *Config) Redacted() Config {
	out := *c

	if out.Operator.PrivateKey != "" {
		out.Operator.PrivateKey = redactedPlaceholder
	}
	if out.Operator.KeyPassword != "" {
		out.Operator.KeyPassword = redactedPlaceholder
	}
	if out.Database.Password != "" {
		out.Database.Password = redactedPlaceholder
	}
	if out.Database.DSN != "" {
		out.Database.DSN = redactedPlaceholder
	}
	if out.Redis.Password != "" {
		out.Redis.Password = redactedPlaceholder
	}
	if out.S3.SecretKey != "" {
		out.S3.SecretKey = redactedPlaceholder
	}
	if out.Server.APIKey != "" {
		out.Server.APIKey = redactedPlaceholder
	}
	if out.Notify.TelegramToken != "" {
		out.Notify.TelegramToken = redactedPlaceholder
	}
	if out.Notify.DiscordWebhookURL != "" {
		out.Notify.DiscordWebhookURL = redactedPlaceholder
	}

	return out
}
