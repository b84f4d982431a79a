// Package server wires and runs the auth service: storage backends, token
// lifecycle, credential checks, audit events, the HTTP API and the sweeper.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/events"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/httpserver"
	"github.com/dmitrijs2005/authgate/internal/server/oauth"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/dmitrijs2005/authgate/internal/telemetry"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
	"github.com/redis/go-redis/v9"
)

const (
	serviceName      = "authgate-authserver"
	eventQueueLength = 1024
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	server    *httpserver.Server
	sweeper   *services.Sweeper
	publisher events.Publisher
	closers   []func(ctx context.Context) error
}

// Stores is what the service persists to, plus a readiness probe.
type Stores struct {
	Credentials   credentials.Repository
	RefreshTokens refreshtokens.Repository
	Ready         func(ctx context.Context) error
	Close         func() error
}

// NewApp validates c and builds every component. Nothing listens until Run.
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

	app := &App{config: c, logger: logger}

	shutdownTracing, err := telemetry.Init(ctx, serviceName, c.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	stores, err := OpenStores(ctx, c, logger)
	if err != nil {
		app.close()
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error { return stores.Close() })

	publisher, err := NewPublisher(c, logger)
	if err != nil {
		app.close()
		return nil, err
	}
	app.publisher = publisher
	app.closers = append(app.closers, func(context.Context) error { return publisher.Close() })

	m := metrics.New()

	tokens := services.NewTokenManager(
		authn.NewValidator(codec),
		stores.RefreshTokens,
		services.NewCredentialResolver(stores.Credentials),
		services.TokenConfig{
			AccessTTL:      c.AccessTokenValidityDuration,
			RefreshTTL:     c.RefreshTokenValidityDuration,
			StoreTimeout:   c.StoreTimeout,
			RetryAttempts:  uint64(c.StoreRetryAttempts),
			RetryBaseDelay: c.StoreRetryBaseDelay,
		},
		logger,
		services.WithPublisher(publisher),
		services.WithMetrics(m),
	)

	creds, err := services.NewCredentialService(stores.Credentials, tokens, c.BcryptCost, logger, publisher, m)
	if err != nil {
		app.close()
		return nil, err
	}

	var providers []oauth.Provider
	if c.GoogleClientID != "" && c.GoogleClientSecret != "" {
		providers = append(providers, oauth.NewGoogleProvider(c.GoogleClientID, c.GoogleClientSecret))
	}

	app.server = httpserver.NewServer(c.EndpointAddrHTTP, logger, creds, tokens,
		httpserver.WithProviders(oauth.NewRegistry(providers...)),
		httpserver.WithMetrics(m),
		httpserver.WithReadiness(stores.Ready),
		httpserver.WithMiddleware(telemetry.Middleware(serviceName, logger)),
	)
	app.sweeper = services.NewSweeper(stores.RefreshTokens, c.SweepInterval, m, logger)

	return app, nil
}

// OpenStores connects the configured backends. Postgres migrations run on
// open. The memory backend keeps credentials in process as well.
func OpenStores(ctx context.Context, c *config.Config, logger logging.Logger) (*Stores, error) {
	if c.StoreBackend == config.StoreMemory {
		logger.Warn(ctx, "using in-memory stores, data is lost on restart")
		return &Stores{
			Credentials:   credentials.NewMemoryRepository(),
			RefreshTokens: refreshtokens.NewMemoryRepository(),
			Ready:         func(context.Context) error { return nil },
			Close:         func() error { return nil },
		}, nil
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	stores := &Stores{
		Credentials:   rm.Credentials(db),
		RefreshTokens: rm.RefreshTokens(db),
		Ready:         db.PingContext,
		Close:         db.Close,
	}

	if c.StoreBackend == config.StoreRedis {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = db.Close()
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		stores.RefreshTokens = refreshtokens.NewRedisRepository(rdb)
		stores.Ready = readyAll(db, rdb)
		stores.Close = func() error { return errors.Join(rdb.Close(), db.Close()) }
	}

	logger.Info(ctx, "stores ready", "backend", c.StoreBackend)
	return stores, nil
}

func readyAll(db *sql.DB, rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}
}

// NewPublisher builds the configured event sink, wrapped so publishing never
// blocks a request.
func NewPublisher(c *config.Config, logger logging.Logger) (events.Publisher, error) {
	var next events.Publisher
	switch c.EventsBackend {
	case config.EventsKafka:
		next = events.NewKafkaPublisher(c.KafkaBrokers, c.KafkaTopic)
	case config.EventsNATS:
		p, err := events.NewNATSPublisher(c.NATSURL, c.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("nats init error: %w", err)
		}
		next = p
	default:
		return events.NopPublisher{}, nil
	}
	return events.NewAsync(next, eventQueueLength, logger), nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then
// releases every resource.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweeper.Run(ctx)
	}()

	err := app.server.Run(ctx)
	if err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
	}
	stop()
	wg.Wait()

	app.close()
	app.logger.Info(context.Background(), "App stopped")
	return err
}

func (app *App) close() {
	ctx := context.Background()
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			app.logger.Warn(ctx, "close failed", "error", err)
		}
	}
	app.closers = nil
}
