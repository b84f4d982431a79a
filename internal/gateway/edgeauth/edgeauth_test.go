package edgeauth

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var user1 = authn.Identity{UserID: "1", Email: "one@example.com", Role: "USER", Nickname: "one"}

func newValidator(t *testing.T, key byte, opts ...tokencodec.Option) *authn.Validator {
	t.Helper()
	secret := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{key}, 32))
	codec, err := tokencodec.NewCodec(secret, "", opts...)
	require.NoError(t, err)
	return authn.NewValidator(codec)
}

// recorder is the downstream service.
type recorder struct {
	mu       sync.Mutex
	calls    int
	headers  http.Header
	path     string
	identity authn.Identity
}

func (d *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.headers = r.Header.Clone()
	d.path = r.URL.Path
	d.identity, _ = authn.FromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func newGate(t *testing.T, public ...string) (http.Handler, *recorder, *authn.Validator) {
	t.Helper()
	v := newValidator(t, 'k')
	rules, err := PublicRules(public)
	require.NoError(t, err)
	filter := NewFilter(v, metrics.New(), logging.NewJSON(io.Discard, "error"))
	down := &recorder{}
	return NewChain(filter.Authenticate, rules...).Handler(down), down, v
}

func serve(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate_InjectsIdentityFromClaims(t *testing.T) {
	h, down, v := newGate(t)
	token, err := v.Sign(user1, time.Hour)
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, "/api/orders", map[string]string{
		"Authorization":   "Bearer " + token,
		"X-User-Id":       "999",
		"X-User-Role":     "ADMIN",
		"X-User-Nickname": "mallory",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, down.calls)
	assert.Equal(t, "1", down.headers.Get("X-User-Id"))
	assert.Equal(t, "one@example.com", down.headers.Get("X-User-Email"))
	assert.Equal(t, "USER", down.headers.Get("X-User-Role"))
	assert.Equal(t, "one", down.headers.Get("X-User-Nickname"))
	assert.Len(t, down.headers.Values("X-User-Id"), 1)
	assert.Equal(t, user1, down.identity)
}

func TestAuthenticate_Rejections(t *testing.T) {
	h, down, _ := newGate(t)

	other, err := newValidator(t, 'z').Sign(user1, time.Hour)
	require.NoError(t, err)
	expired, err := newValidator(t, 'k', tokencodec.WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	})).Sign(user1, time.Minute)
	require.NoError(t, err)

	cases := map[string]string{
		"no header":      "",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
		"empty bearer":   "Bearer ",
		"garbage":        "Bearer not-a-token",
		"wrong key":      "Bearer " + other,
		"expired":        "Bearer " + expired,
		"opaque refresh": "Bearer " + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12",
	}
	for name, auth := range cases {
		t.Run(name, func(t *testing.T) {
			headers := map[string]string{"X-User-Id": "999"}
			if auth != "" {
				headers["Authorization"] = auth
			}
			rec := serve(h, http.MethodGet, "/api/orders", headers)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		})
	}
	assert.Equal(t, 0, down.calls, "no downstream call on rejection")
}

func TestChain_PublicRoutesStripButNeverInject(t *testing.T) {
	h, down, _ := newGate(t, "POST /auth/login", "GET /api/posts*", "/healthz")

	rec := serve(h, http.MethodPost, "/auth/login", map[string]string{"X-User-Id": "999", "X-User-Email": "x@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, down.headers.Get("X-User-Id"))
	assert.Empty(t, down.headers.Get("X-User-Email"))

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/posts/42", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodDelete, "/healthz", nil).Code)

	// method and path both count
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/auth/login", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/api/posts/42", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/auth/login/extra", nil).Code)
}

func TestChain_DotSegmentsCannotEscapePublicPrefix(t *testing.T) {
	h, down, _ := newGate(t, "GET /api/posts/*")

	rec := serve(h, http.MethodGet, "/api/posts/../admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, down.calls)

	rec = serve(h, http.MethodGet, "/api/posts/./1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/posts/1", down.path)
}

func TestChain_PublicPrefixStopsAtSegmentBoundary(t *testing.T) {
	h, down, _ := newGate(t, "GET /api/posts*")

	rec := serve(h, http.MethodGet, "/api/posts-admin/export", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, down.calls)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/posts", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/posts/7/comments", nil).Code)
}

func TestChain_FirstMatchWins(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	chain := NewChain(mark("fallback"),
		Rule{Name: "a", Match: PathPrefix("/x"), Wrap: mark("a")},
		Rule{Name: "b", Match: PathPrefix("/x/y"), Wrap: mark("b")},
	)
	h := chain.Handler(http.NotFoundHandler())

	serve(h, http.MethodGet, "/x/y", nil)
	serve(h, http.MethodGet, "/z", nil)
	assert.Equal(t, []string{"a", "fallback"}, order)
}

func TestParseRule(t *testing.T) {
	good := []struct {
		rule, method, path string
		want               bool
	}{
		{"POST /auth/login", http.MethodPost, "/auth/login", true},
		{"post /auth/login", http.MethodPost, "/auth/login", true},
		{"POST /auth/login", http.MethodGet, "/auth/login", false},
		{"GET /api/*", http.MethodGet, "/api/anything/deep", true},
		{"GET /api*", http.MethodGet, "/api", true},
		{"GET /api*", http.MethodGet, "/apix", false},
		{"GET /api/*", http.MethodGet, "/apix", false},
		{"* /open", http.MethodPut, "/open", true},
		{"/open", http.MethodPatch, "/open", true},
		{"/open", http.MethodGet, "/open/x", false},
	}
	for _, tc := range good {
		p, err := ParseRule(tc.rule)
		require.NoError(t, err, tc.rule)
		assert.Equal(t, tc.want, p(httptest.NewRequest(tc.method, tc.path, nil)), "%s vs %s %s", tc.rule, tc.method, tc.path)
	}

	for _, bad := range []string{"", "GET", "GET auth", "GET /a /b"} {
		_, err := ParseRule(bad)
		assert.Error(t, err, bad)
	}
	_, err := PublicRules([]string{"POST /ok", "nope"})
	assert.Error(t, err)
}

func TestAuthenticate_Concurrent(t *testing.T) {
	h, _, v := newGate(t)
	token, err := v.Sign(user1, time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := serve(h, http.MethodGet, "/api", map[string]string{"Authorization": "Bearer " + token})
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()
}
