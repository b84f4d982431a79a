package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/gateway/config"
	"github.com/dmitrijs2005/authgate/internal/gateway/proxy"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("s"), 32))

type downstream struct {
	*httptest.Server
	userID chan string
}

func newDownstream(t *testing.T) *downstream {
	t.Helper()
	d := &downstream{userID: make(chan string, 16)}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.userID <- r.Header.Get("X-User-Id")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(d.Close)
	return d
}

func newTestApp(t *testing.T, limit int) (*App, *downstream) {
	t.Helper()
	d := newDownstream(t)

	c := &config.Config{}
	c.LoadDefaults()
	c.SecretKey = secret
	c.RateLimitPerMinute = limit
	c.Routes = []proxy.Route{
		{Prefix: "/auth", Upstream: d.URL},
		{Prefix: "/api", Upstream: d.URL},
	}

	app, err := newApp(context.Background(), c, io.Discard)
	require.NoError(t, err)
	return app, d
}

func sign(t *testing.T, userID string) string {
	t.Helper()
	codec, err := tokencodec.NewCodec(secret, "")
	require.NoError(t, err)
	token, err := authn.NewValidator(codec).Sign(authn.Identity{UserID: userID, Role: "USER"}, time.Minute)
	require.NoError(t, err)
	return token
}

func do(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGateway_EndToEnd(t *testing.T) {
	app, d := newTestApp(t, 100)
	h := app.Handler()

	rec := do(h, http.MethodPost, "/auth/login", map[string]string{"X-User-Id": "999"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", <-d.userID, "public route must not carry client identity")

	rec = do(h, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/orders", map[string]string{
		"Authorization": "Bearer " + sign(t, "1"),
		"X-User-Id":     "999",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", <-d.userID)

	rec = do(h, http.MethodGet, "/nowhere", map[string]string{"Authorization": "Bearer " + sign(t, "1")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_ConnectionHeaderCannotDropIdentity(t *testing.T) {
	app, d := newTestApp(t, 100)

	rec := do(app.Handler(), http.MethodGet, "/api/orders", map[string]string{
		"Authorization": "Bearer " + sign(t, "1"),
		"Connection":    "X-User-Id",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", <-d.userID)
}

func TestGateway_LocalEndpointsSkipAuth(t *testing.T) {
	app, _ := newTestApp(t, 100)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		assert.Equal(t, http.StatusOK, do(app.Handler(), http.MethodGet, path, nil).Code, path)
	}
	body := do(app.Handler(), http.MethodGet, "/metrics", nil).Body.String()
	assert.Contains(t, body, "go_goroutines")
}

func TestGateway_RateLimit(t *testing.T) {
	app, _ := newTestApp(t, 2)
	h := app.Handler()

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/x", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/x", nil).Code)
}

func TestGateway_CORSPreflight(t *testing.T) {
	app, _ := newTestApp(t, 100)

	rec := do(app.Handler(), http.MethodOptions, "/api/orders", map[string]string{
		"Origin":                         "https://app.example",
		"Access-Control-Request-Method":  http.MethodGet,
		"Access-Control-Request-Headers": "Authorization",
	})

	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewApp_RejectsBadConfig(t *testing.T) {
	c := &config.Config{}
	c.LoadDefaults()
	_, err := newApp(context.Background(), c, io.Discard)
	require.Error(t, err, "missing secret")

	c.SecretKey = secret
	c.Routes = []proxy.Route{{Prefix: "/api", Upstream: "::"}}
	_, err = newApp(context.Background(), c, io.Discard)
	require.Error(t, err)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, _ := newTestApp(t, 100)
	app.config.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("gateway did not stop")
	}
}
