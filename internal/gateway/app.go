// Package gateway wires the edge gateway: rate limiting, CORS, edge
// authentication and the reverse proxy in front of downstream services.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/gateway/config"
	"github.com/dmitrijs2005/authgate/internal/gateway/edgeauth"
	"github.com/dmitrijs2005/authgate/internal/gateway/proxy"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/netx"
	"github.com/dmitrijs2005/authgate/internal/telemetry"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

const serviceName = "authgate-gateway"

type App struct {
	config  *config.Config
	logger  logging.Logger
	handler http.Handler
	closers []func(ctx context.Context) error
}

// NewApp validates c and assembles the handler stack.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, os.Stdout)
}

func newApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	logger := logging.NewJSON(logOut, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	codec, err := tokencodec.NewCodec(c.SecretKey, c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	rules, err := edgeauth.PublicRules(c.PublicRoutes)
	if err != nil {
		return nil, fmt.Errorf("public routes: %w", err)
	}
	router, err := proxy.NewRouter(c.Routes, logger)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	shutdownTracing, err := telemetry.Init(ctx, serviceName, c.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}

	m := metrics.New()
	filter := edgeauth.NewFilter(authn.NewValidator(codec), m, logger)
	chain := edgeauth.NewChain(filter.Authenticate, rules...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware(serviceName, logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(c.RateLimitPerMinute, time.Minute))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: c.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"WWW-Authenticate", "Retry-After"},
			MaxAge:         300,
		}))
		r.Handle("/*", chain.Handler(router))
	})

	return &App{
		config:  c,
		logger:  logger,
		handler: r,
		closers: []func(context.Context) error{shutdownTracing},
	}, nil
}

// Handler returns the full request pipeline.
func (app *App) Handler() http.Handler { return app.handler }

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info(ctx, "Starting gateway...", "addr", app.config.ListenAddr, "routes", len(app.config.Routes))

	err := netx.Serve(ctx, app.config.ListenAddr, app.handler, app.logger)
	if err != nil {
		app.logger.Error(ctx, "gateway server failed", "error", err)
	}

	for i := len(app.closers) - 1; i >= 0; i-- {
		if cerr := app.closers[i](context.Background()); cerr != nil {
			app.logger.Warn(ctx, "close failed", "error", cerr)
		}
	}
	app.logger.Info(context.Background(), "Gateway stopped")
	return err
}
