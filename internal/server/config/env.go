package config

import "github.com/dmitrijs2005/authgate/internal/flagx"

// parseEnv overlays AUTHGATE_* environment variables, loading ./.env first.
// A malformed duration or number panics, like a malformed JSON file.
func parseEnv(c *Config) {
	flagx.LoadDotEnv()

	flagx.EnvString("AUTHGATE_HTTP_ADDR", &c.EndpointAddrHTTP)
	flagx.EnvString("AUTHGATE_DATABASE_DSN", &c.DatabaseDSN)
	flagx.EnvString("AUTHGATE_STORE_BACKEND", &c.StoreBackend)
	flagx.EnvString("AUTHGATE_REDIS_ADDR", &c.RedisAddr)
	flagx.EnvString("AUTHGATE_SECRET_KEY", &c.SecretKey)
	flagx.EnvString("AUTHGATE_ISSUER", &c.Issuer)
	flagx.EnvString("AUTHGATE_EVENTS_BACKEND", &c.EventsBackend)
	flagx.EnvList("AUTHGATE_KAFKA_BROKERS", &c.KafkaBrokers)
	flagx.EnvString("AUTHGATE_KAFKA_TOPIC", &c.KafkaTopic)
	flagx.EnvString("AUTHGATE_NATS_URL", &c.NATSURL)
	flagx.EnvString("AUTHGATE_NATS_SUBJECT", &c.NATSSubject)
	flagx.EnvString("AUTHGATE_OTLP_ENDPOINT", &c.OTLPEndpoint)
	flagx.EnvString("GOOGLE_CLIENT_ID", &c.GoogleClientID)
	flagx.EnvString("GOOGLE_CLIENT_SECRET", &c.GoogleClientSecret)
	flagx.EnvString("AUTHGATE_LOG_LEVEL", &c.LogLevel)

	for _, err := range []error{
		flagx.EnvDuration("AUTHGATE_ACCESS_TOKEN_TTL", &c.AccessTokenValidityDuration),
		flagx.EnvDuration("AUTHGATE_REFRESH_TOKEN_TTL", &c.RefreshTokenValidityDuration),
		flagx.EnvDuration("AUTHGATE_STORE_TIMEOUT", &c.StoreTimeout),
		flagx.EnvInt("AUTHGATE_STORE_RETRY_ATTEMPTS", &c.StoreRetryAttempts),
		flagx.EnvDuration("AUTHGATE_STORE_RETRY_BASE_DELAY", &c.StoreRetryBaseDelay),
		flagx.EnvDuration("AUTHGATE_SWEEP_INTERVAL", &c.SweepInterval),
		flagx.EnvInt("AUTHGATE_BCRYPT_COST", &c.BcryptCost),
	} {
		if err != nil {
			panic(err)
		}
	}
}
