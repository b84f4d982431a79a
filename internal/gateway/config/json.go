package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/authgate/internal/flagx"
	"github.com/dmitrijs2005/authgate/internal/gateway/proxy"
)

// JsonConfig is the on-disk shape of the gateway configuration file.
type JsonConfig struct {
	ListenAddr         string        `json:"listen_addr"`
	SecretKey          string        `json:"secret_key"`
	Issuer             string        `json:"issuer"`
	Routes             []proxy.Route `json:"routes"`
	PublicRoutes       []string      `json:"public_routes"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
	AllowedOrigins     []string      `json:"allowed_origins"`
	OTLPEndpoint       string        `json:"otlp_endpoint"`
	LogLevel           string        `json:"log_level"`
}

func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.ListenAddr != "" {
		config.ListenAddr = c.ListenAddr
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.Issuer != "" {
		config.Issuer = c.Issuer
	}
	if c.Routes != nil {
		config.Routes = c.Routes
	}
	if c.PublicRoutes != nil {
		config.PublicRoutes = c.PublicRoutes
	}
	if c.RateLimitPerMinute != 0 {
		config.RateLimitPerMinute = c.RateLimitPerMinute
	}
	if c.AllowedOrigins != nil {
		config.AllowedOrigins = c.AllowedOrigins
	}
	if c.OTLPEndpoint != "" {
		config.OTLPEndpoint = c.OTLPEndpoint
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
}
