// Package services contains server-side business logic. This file implements
// TokenManager, which issues, rotates, revokes and validates token pairs.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/events"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/refreshtokens"
	"github.com/sethvargo/go-retry"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Identity     authn.Identity
}

// IdentityResolver loads the current identity of a user. It returns
// common.ErrorNotFound for unknown users and common.ErrAccountDisabled for
// disabled ones.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (authn.Identity, error)
}

// TokenConfig holds lifetimes and store call policy.
type TokenConfig struct {
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	StoreTimeout   time.Duration
	RetryAttempts  uint64
	RetryBaseDelay time.Duration
}

// TokenManager owns the token pair lifecycle. It keeps no mutable state of
// its own; concurrent refreshes of one token are arbitrated by the store.
type TokenManager struct {
	validator *authn.Validator
	store     refreshtokens.Repository
	resolver  IdentityResolver
	cfg       TokenConfig
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    logging.Logger
	now       func() time.Time
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithPublisher sets the audit event publisher.
func WithPublisher(p events.Publisher) TokenOption {
	return func(m *TokenManager) { m.publisher = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) TokenOption {
	return func(m *TokenManager) { m.metrics = mt }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// NewTokenManager wires a TokenManager.
func NewTokenManager(v *authn.Validator, store refreshtokens.Repository, resolver IdentityResolver, cfg TokenConfig, logger logging.Logger, opts ...TokenOption) *TokenManager {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 50 * time.Millisecond
	}
	m := &TokenManager{
		validator: v,
		store:     store,
		resolver:  resolver,
		cfg:       cfg,
		publisher: events.NopPublisher{},
		logger:    logger.With("module", "tokens"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Issue mints a fresh pair for identity and persists the refresh token.
func (m *TokenManager) Issue(ctx context.Context, identity authn.Identity, meta models.SessionMeta) (*TokenPair, error) {
	if identity.UserID == "" {
		return nil, fmt.Errorf("%w: empty user id", common.ErrInvalidInput)
	}
	access, err := m.validator.Sign(identity, m.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %w", common.ErrorInternal, err)
	}
	rt, err := m.newRefreshToken(identity.UserID, meta)
	if err != nil {
		return nil, err
	}
	if err := m.withStore(ctx, func(ctx context.Context) error {
		_, err := m.store.Save(ctx, rt)
		return err
	}); err != nil {
		return nil, err
	}
	return m.pair(access, rt.Token, identity), nil
}

// Refresh exchanges a live refresh token for a new pair. Of several
// concurrent calls with the same token at most one succeeds; the others get
// common.ErrRefreshTokenInvalid.
func (m *TokenManager) Refresh(ctx context.Context, value string, meta models.SessionMeta) (*TokenPair, error) {
	if value == "" {
		m.metrics.RefreshOutcome("invalid")
		return nil, common.ErrRefreshTokenInvalid
	}

	var current *models.RefreshToken
	err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		current, err = m.store.FindValidByToken(ctx, value)
		return err
	})
	if errors.Is(err, common.ErrorNotFound) {
		m.metrics.RefreshOutcome("invalid")
		return nil, common.ErrRefreshTokenInvalid
	}
	if err != nil {
		m.metrics.RefreshOutcome("error")
		return nil, err
	}

	if current.Expired(m.now()) {
		if err := m.withStore(ctx, func(ctx context.Context) error {
			return m.store.Revoke(ctx, value)
		}); err != nil {
			m.logger.Warn(ctx, "revoke expired refresh token failed", "user_id", current.UserID, "error", err)
		}
		m.metrics.RefreshOutcome("expired")
		return nil, common.ErrRefreshTokenExpired
	}

	var identity authn.Identity
	err = m.withStore(ctx, func(ctx context.Context) error {
		var err error
		identity, err = m.resolver.ResolveIdentity(ctx, current.UserID)
		return err
	})
	switch {
	case errors.Is(err, common.ErrorNotFound):
		m.metrics.RefreshOutcome("invalid")
		return nil, common.ErrRefreshTokenInvalid
	case errors.Is(err, common.ErrAccountDisabled):
		m.metrics.RefreshOutcome("disabled")
		return nil, common.ErrAccountDisabled
	case err != nil:
		m.metrics.RefreshOutcome("error")
		return nil, err
	}

	// signing is pure, do it before the rotation commits
	access, err := m.validator.Sign(identity, m.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %w", common.ErrorInternal, err)
	}
	next, err := m.newRefreshToken(identity.UserID, meta)
	if err != nil {
		return nil, err
	}

	var rotated bool
	if err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		rotated, err = m.store.Rotate(ctx, value, next)
		return err
	}); err != nil {
		m.metrics.RefreshOutcome("error")
		return nil, err
	}
	if !rotated {
		m.metrics.RefreshOutcome("replayed")
		m.logger.Warn(ctx, "refresh token already rotated", "user_id", identity.UserID)
		return nil, common.ErrRefreshTokenInvalid
	}

	m.metrics.RefreshOutcome("ok")
	m.metrics.TokenIssued("refresh")
	m.publish(ctx, events.TokenRefreshed, identity.UserID, meta)
	return m.pair(access, next.Token, identity), nil
}

// Revoke revokes one refresh token. Unknown and already revoked tokens are
// not an error.
func (m *TokenManager) Revoke(ctx context.Context, value string) error {
	return m.revoke(ctx, value, "")
}

// RevokeOwned revokes value only if it belongs to userID. Tokens of other
// users are left alone and reported like unknown ones.
func (m *TokenManager) RevokeOwned(ctx context.Context, userID, value string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", common.ErrInvalidInput)
	}
	return m.revoke(ctx, value, userID)
}

func (m *TokenManager) revoke(ctx context.Context, value, owner string) error {
	if value == "" {
		return nil
	}
	var current *models.RefreshToken
	err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		current, err = m.store.FindValidByToken(ctx, value)
		return err
	})
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != "" && current.UserID != owner {
		m.logger.Warn(ctx, "refusing to revoke refresh token of another user", "user_id", owner)
		return nil
	}

	var flipped bool
	if err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		flipped, err = m.store.RevokeIfActive(ctx, value)
		return err
	}); err != nil {
		return err
	}
	if flipped {
		m.metrics.Revoked("single", 1)
		m.publish(ctx, events.TokenRevoked, current.UserID, models.SessionMeta{})
	}
	return nil
}

// RevokeAll revokes every active refresh token of userID.
func (m *TokenManager) RevokeAll(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", common.ErrInvalidInput)
	}
	var n int64
	if err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		n, err = m.store.RevokeAllForUser(ctx, userID)
		return err
	}); err != nil {
		return err
	}
	m.metrics.Revoked("user", n)
	m.logger.Info(ctx, "refresh tokens revoked", "user_id", userID, "count", n)
	m.publish(ctx, events.UserTokensRevoked, userID, models.SessionMeta{})
	return nil
}

// Validate checks an access token locally. No store is consulted.
func (m *TokenManager) Validate(token string) (*authn.Identity, error) {
	id, err := m.validator.Validate(token)
	m.metrics.Validation("authserver", validationResult(err))
	return id, err
}

// AccessTTL reports the lifetime of issued access tokens.
func (m *TokenManager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

func (m *TokenManager) pair(access, refresh string, identity authn.Identity) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    m.cfg.AccessTTL,
		Identity:     identity,
	}
}

func (m *TokenManager) newRefreshToken(userID string, meta models.SessionMeta) (*models.RefreshToken, error) {
	value, err := common.MakeRandHexString(common.RefreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: generate refresh token: %w", common.ErrorInternal, err)
	}
	return &models.RefreshToken{
		UserID:    userID,
		Token:     value,
		Expires:   m.now().Add(m.cfg.RefreshTTL),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}, nil
}

// withStore runs fn with a per-call timeout and retries it with exponential
// backoff while it fails with common.ErrStoreUnavailable.
func (m *TokenManager) withStore(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(m.cfg.RetryAttempts, retry.NewExponential(m.cfg.RetryBaseDelay))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt > 0 {
			m.metrics.StoreRetry()
		}
		attempt++

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if m.cfg.StoreTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, m.cfg.StoreTimeout)
		}
		defer cancel()

		err := fn(callCtx)
		if errors.Is(err, common.ErrStoreUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, common.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return err
}

func (m *TokenManager) publish(ctx context.Context, eventType, userID string, meta models.SessionMeta) {
	e := events.New(eventType, userID)
	e.IPAddress = meta.IPAddress
	e.UserAgent = meta.UserAgent
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.Warn(ctx, "publish event failed", "type", eventType, "error", err)
	}
}

func validationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrTokenExpired):
		return "expired"
	case errors.Is(err, common.ErrTokenSignatureInvalid):
		return "bad_signature"
	default:
		return "malformed"
	}
}
