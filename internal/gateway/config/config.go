// Package config handles configuration for the edge gateway. Layering
// matches the auth service: defaults, environment, JSON file, flags.
package config

import (
	"fmt"

	"github.com/dmitrijs2005/authgate/internal/gateway/edgeauth"
	"github.com/dmitrijs2005/authgate/internal/gateway/proxy"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
)

// Config holds runtime settings for the gateway.
//
// SecretKey and Issuer must match the auth service. PublicRoutes uses the
// "METHOD /path" syntax of edgeauth.ParseRule; everything else requires a
// valid access token.
type Config struct {
	ListenAddr         string
	SecretKey          string
	Issuer             string
	Routes             []proxy.Route
	PublicRoutes       []string
	RateLimitPerMinute int
	AllowedOrigins     []string
	OTLPEndpoint       string
	LogLevel           string
}

func (c *Config) LoadDefaults() {
	c.ListenAddr = ":8080"
	c.Issuer = tokencodec.DefaultIssuer
	c.Routes = []proxy.Route{{Prefix: "/auth", Upstream: "http://authserver:8081"}}
	c.PublicRoutes = []string{
		"POST /auth/login",
		"POST /auth/register",
		"POST /auth/refresh",
		"POST /auth/oauth/login",
	}
	c.RateLimitPerMinute = 100
	c.AllowedOrigins = []string{"*"}
	c.LogLevel = "info"
}

// LoadConfig builds a Config from defaults, environment, an optional JSON
// file and flags, in that order.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate rejects settings the gateway cannot start with.
func (c *Config) Validate() error {
	if _, err := tokencodec.NewCodec(c.SecretKey, c.Issuer); err != nil {
		return fmt.Errorf("secret key: %w", err)
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if _, err := edgeauth.PublicRules(c.PublicRoutes); err != nil {
		return fmt.Errorf("public routes: %w", err)
	}
	return nil
}
