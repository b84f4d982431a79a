package config

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/gateway/proxy"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var goodSecret = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("g"), 32))

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = append([]string{"gateway"}, args...)
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.ListenAddr)
	assert.Equal(t, "authgate", c.Issuer)
	assert.Equal(t, 100, c.RateLimitPerMinute)
	assert.Contains(t, c.PublicRoutes, "POST /auth/login")
	assert.Contains(t, c.PublicRoutes, "POST /auth/refresh")
	assert.NotContains(t, c.PublicRoutes, "POST /auth/logout")
	assert.Empty(t, c.SecretKey)
}

func TestParseEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTHGATE_GATEWAY_ADDR", ":9000")
	t.Setenv("AUTHGATE_SECRET_KEY", "env-secret")
	t.Setenv("AUTHGATE_GATEWAY_ROUTES", "/auth=http://auth:8081, !/legacy=http://old")
	t.Setenv("AUTHGATE_GATEWAY_PUBLIC_ROUTES", "GET /api/posts*")
	t.Setenv("AUTHGATE_GATEWAY_RATE_LIMIT", "5")

	c := &Config{}
	c.LoadDefaults()
	parseEnv(c)

	assert.Equal(t, ":9000", c.ListenAddr)
	assert.Equal(t, "env-secret", c.SecretKey)
	assert.Equal(t, []proxy.Route{
		{Prefix: "/auth", Upstream: "http://auth:8081"},
		{Prefix: "/legacy", Upstream: "http://old", StripPrefix: true},
	}, c.Routes)
	assert.Equal(t, []string{"GET /api/posts*"}, c.PublicRoutes)
	assert.Equal(t, 5, c.RateLimitPerMinute)
}

func TestParseEnv_BadRoutesPanics(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTHGATE_GATEWAY_ROUTES", "/auth")

	require.Panics(t, func() { parseEnv(&Config{}) })
}

func TestParseJson(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.json")
	b, err := json.Marshal(map[string]any{
		"listen_addr": ":7070",
		"routes": []map[string]any{
			{"prefix": "/api", "upstream": "http://api:80", "stripPrefix": true},
		},
		"allowed_origins": []string{"https://app.example"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	withArgs(t, "-c", path)

	c := &Config{}
	c.LoadDefaults()
	parseJson(c)

	assert.Equal(t, ":7070", c.ListenAddr)
	assert.Equal(t, []proxy.Route{{Prefix: "/api", Upstream: "http://api:80", StripPrefix: true}}, c.Routes)
	assert.Equal(t, []string{"https://app.example"}, c.AllowedOrigins)
	assert.Equal(t, 100, c.RateLimitPerMinute, "absent keys keep their value")
}

func TestParseFlags(t *testing.T) {
	withArgs(t, "-c", "gw.json", "-a", ":1", "-s", "k", "-r", "7", "-l", "debug")

	c := &Config{}
	parseFlags(c)

	assert.Empty(t, cmp.Diff(&Config{ListenAddr: ":1", SecretKey: "k", RateLimitPerMinute: 7, LogLevel: "debug"}, c))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.LoadDefaults()
		c.SecretKey = goodSecret
		return c
	}
	require.NoError(t, valid().Validate())

	weak := valid()
	weak.SecretKey = base64.StdEncoding.EncodeToString([]byte("short"))
	err := weak.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrWeakSigningKey))

	for name, mutate := range map[string]func(*Config){
		"no routes":    func(c *Config) { c.Routes = nil },
		"zero limit":   func(c *Config) { c.RateLimitPerMinute = 0 },
		"bad public":   func(c *Config) { c.PublicRoutes = []string{"login"} },
		"empty secret": func(c *Config) { c.SecretKey = "" },
	} {
		c := valid()
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}
}
