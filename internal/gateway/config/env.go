package config

import (
	"os"

	"github.com/dmitrijs2005/authgate/internal/flagx"
	"github.com/dmitrijs2005/authgate/internal/gateway/proxy"
)

// parseEnv overlays environment variables, loading ./.env first. The
// signing secret and issuer share their names with the auth service.
func parseEnv(c *Config) {
	flagx.LoadDotEnv()

	flagx.EnvString("AUTHGATE_GATEWAY_ADDR", &c.ListenAddr)
	flagx.EnvString("AUTHGATE_SECRET_KEY", &c.SecretKey)
	flagx.EnvString("AUTHGATE_ISSUER", &c.Issuer)
	flagx.EnvList("AUTHGATE_GATEWAY_PUBLIC_ROUTES", &c.PublicRoutes)
	flagx.EnvList("AUTHGATE_GATEWAY_ALLOWED_ORIGINS", &c.AllowedOrigins)
	flagx.EnvString("AUTHGATE_OTLP_ENDPOINT", &c.OTLPEndpoint)
	flagx.EnvString("AUTHGATE_LOG_LEVEL", &c.LogLevel)

	if err := flagx.EnvInt("AUTHGATE_GATEWAY_RATE_LIMIT", &c.RateLimitPerMinute); err != nil {
		panic(err)
	}

	if _, ok := os.LookupEnv("AUTHGATE_GATEWAY_ROUTES"); ok {
		var items []string
		flagx.EnvList("AUTHGATE_GATEWAY_ROUTES", &items)
		routes, err := proxy.ParseRoutes(items)
		if err != nil {
			panic(err)
		}
		c.Routes = routes
	}
}
