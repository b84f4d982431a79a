// Package authctl implements the operator CLI: schema migrations, expired
// token purges, forced logouts and account administration.
package authctl

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/server"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
	"golang.org/x/term"
)

// Env is everything the commands touch outside the process. Tests swap
// the openers and the password reader.
type Env struct {
	Config       *config.Config
	Logger       logging.Logger
	Out          io.Writer
	OpenStores   func(ctx context.Context, c *config.Config, logger logging.Logger) (*server.Stores, error)
	OpenDB       func(ctx context.Context, dsn string) (*sql.DB, error)
	Migrations   repomanager.RepositoryManager
	ReadPassword func() ([]byte, error)
}

// DefaultEnv loads the auth service configuration and talks to the real
// backends.
func DefaultEnv() *Env {
	c := config.LoadConfig()
	return &Env{
		Config:       c,
		Logger:       logging.NewJSON(os.Stderr, c.LogLevel),
		Out:          os.Stdout,
		OpenStores:   server.OpenStores,
		OpenDB:       repomanager.Open,
		Migrations:   repomanager.NewPostgresRepositoryManager(),
		ReadPassword: func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) },
	}
}

// opsServices bundles what the account and token commands need.
type opsServices struct {
	tokens  *services.TokenManager
	creds   *services.CredentialService
	sweeper *services.Sweeper
	close   func()
}

func (e *Env) open(ctx context.Context) (*opsServices, error) {
	stores, err := e.OpenStores(ctx, e.Config, e.Logger)
	if err != nil {
		return nil, err
	}
	publisher, err := server.NewPublisher(e.Config, e.Logger)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	closeAll := func() {
		if err := errors.Join(publisher.Close(), stores.Close()); err != nil {
			e.Logger.Warn(ctx, "close failed", "error", err)
		}
	}

	validator, err := e.validator()
	if err != nil {
		closeAll()
		return nil, err
	}

	m := metrics.New()
	tokens := services.NewTokenManager(validator, stores.RefreshTokens,
		services.NewCredentialResolver(stores.Credentials),
		services.TokenConfig{
			AccessTTL:      e.Config.AccessTokenValidityDuration,
			RefreshTTL:     e.Config.RefreshTokenValidityDuration,
			StoreTimeout:   e.Config.StoreTimeout,
			RetryAttempts:  uint64(max(e.Config.StoreRetryAttempts, 0)),
			RetryBaseDelay: e.Config.StoreRetryBaseDelay,
		},
		e.Logger,
		services.WithPublisher(publisher),
		services.WithMetrics(m),
	)
	creds, err := services.NewCredentialService(stores.Credentials, tokens, e.Config.BcryptCost, e.Logger, publisher, m)
	if err != nil {
		closeAll()
		return nil, err
	}

	return &opsServices{
		tokens:  tokens,
		creds:   creds,
		sweeper: services.NewSweeper(stores.RefreshTokens, e.Config.SweepInterval, m, e.Logger),
		close:   closeAll,
	}, nil
}

// validator uses the configured key when there is one. The CLI never signs
// tokens, so an ephemeral key is fine otherwise.
func (e *Env) validator() (*authn.Validator, error) {
	secret := e.Config.SecretKey
	if secret == "" {
		key := common.GenerateRandByteArray(tokencodec.MinKeyBytes)
		if key == nil {
			return nil, fmt.Errorf("%w: no randomness for ephemeral key", common.ErrorInternal)
		}
		secret = base64.StdEncoding.EncodeToString(key)
	}
	codec, err := tokencodec.NewCodec(secret, e.Config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	return authn.NewValidator(codec), nil
}
