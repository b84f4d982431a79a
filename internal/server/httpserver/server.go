// Package httpserver exposes the auth service over HTTP/JSON.
package httpserver

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/netx"
	"github.com/dmitrijs2005/authgate/internal/server/oauth"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	address     string
	credentials *services.CredentialService
	tokens      *services.TokenManager
	providers   *oauth.Registry
	metrics     *metrics.Metrics
	ready       func(ctx context.Context) error
	middleware  []func(http.Handler) http.Handler
	logger      logging.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithProviders enables POST /auth/oauth/login for the registered providers.
func WithProviders(r *oauth.Registry) Option {
	return func(s *Server) { s.providers = r }
}

// WithMetrics mounts GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadiness sets the check behind GET /readyz.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// WithMiddleware appends router-wide middleware, outermost first.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

// NewServer builds the auth HTTP server listening on address.
func NewServer(address string, l logging.Logger, cs *services.CredentialService, tm *services.TokenManager, opts ...Option) *Server {
	s := &Server{
		address:     address,
		credentials: cs,
		tokens:      tm,
		logger:      l.With("module", "http_server"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range s.middleware {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/oauth/login", s.handleOAuthLogin)
		r.Post("/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAccessToken)
			r.Post("/logout", s.handleLogout)
			r.Post("/password/change", s.handleChangePassword)
			r.Get("/validate", s.handleValidate)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	return netx.Serve(ctx, s.address, s.Routes(), s.logger)
}
