package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/events"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/metrics"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/credentials"
	"golang.org/x/crypto/bcrypt"
)

// Password length bounds in bytes. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLen = 8
	MaxPasswordLen = 72
)

const dummyPassword = "authgate-timing-equalizer"

// CredentialService verifies primary credentials and hands successful
// sign-ins to the TokenManager.
type CredentialService struct {
	repo       credentials.Repository
	tokens     *TokenManager
	bcryptCost int
	dummyHash  []byte
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     logging.Logger
}

// NewCredentialService precomputes the hash compared against when an email is
// unknown, so that lookups for missing accounts cost the same as real ones.
func NewCredentialService(repo credentials.Repository, tokens *TokenManager, bcryptCost int, logger logging.Logger, publisher events.Publisher, m *metrics.Metrics) (*CredentialService, error) {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt: %w", err)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &CredentialService{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		dummyHash:  dummy,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.With("module", "credentials"),
	}, nil
}

// Login checks email and password and issues a token pair.
func (s *CredentialService) Login(ctx context.Context, email, password string, meta models.SessionMeta) (*TokenPair, error) {
	c, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, common.ErrorNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, common.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.checkPassword(c, password) {
		return nil, common.ErrInvalidCredentials
	}
	if !c.Enabled {
		return nil, common.ErrAccountDisabled
	}
	return s.issue(ctx, c, meta, "login", events.UserLoggedIn)
}

// Register creates a USER account and signs it in.
func (s *CredentialService) Register(ctx context.Context, email, password, nickname string, meta models.SessionMeta) (*TokenPair, error) {
	c, err := s.CreateAccount(ctx, email, password, nickname, models.RoleUser)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, c, meta, "register", events.UserRegistered)
}

// CreateAccount validates input, hashes the password and stores a new
// enabled credential. It does not issue tokens.
func (s *CredentialService) CreateAccount(ctx context.Context, email, password, nickname, role string) (*models.Credential, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	switch role {
	case "":
		role = models.RoleUser
	case models.RoleUser, models.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrInvalidInput, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: bcrypt: %w", common.ErrorInternal, err)
	}
	return s.repo.Create(ctx, &models.Credential{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Nickname:     defaultNickname(nickname, email),
		Enabled:      true,
	})
}

// LoginExternal signs in a user asserted by an OAuth provider. Unknown
// identities are linked to an existing account with the same verified email
// or provisioned as a new provider-only account.
func (s *CredentialService) LoginExternal(ctx context.Context, ext models.ExternalIdentity, meta models.SessionMeta) (*TokenPair, error) {
	if ext.Provider == "" || ext.Subject == "" {
		return nil, common.ErrInvalidCredentials
	}

	c, err := s.repo.GetByProvider(ctx, ext.Provider, ext.Subject)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrorNotFound):
		c, err = s.linkOrProvision(ctx, ext)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if !c.Enabled {
		return nil, common.ErrAccountDisabled
	}
	return s.issue(ctx, c, meta, "oauth", events.UserLoggedIn)
}

func (s *CredentialService) linkOrProvision(ctx context.Context, ext models.ExternalIdentity) (*models.Credential, error) {
	email := NormalizeEmail(ext.Email)
	if !ext.EmailVerified || email == "" {
		return nil, common.ErrInvalidCredentials
	}

	c, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if c.Provider != "" && (c.Provider != ext.Provider || c.ProviderSubject != ext.Subject) {
			return nil, common.ErrInvalidCredentials
		}
		if err := s.repo.LinkProvider(ctx, c.UserID, ext.Provider, ext.Subject); err != nil {
			return nil, err
		}
		c.Provider, c.ProviderSubject = ext.Provider, ext.Subject
		s.logger.Info(ctx, "linked external identity", "user_id", c.UserID, "provider", ext.Provider)
		return c, nil
	case errors.Is(err, common.ErrorNotFound):
		c, err = s.repo.Create(ctx, &models.Credential{
			Email:           email,
			Role:            models.RoleUser,
			Nickname:        defaultNickname(ext.Name, email),
			Enabled:         true,
			Provider:        ext.Provider,
			ProviderSubject: ext.Subject,
		})
		if err != nil {
			return nil, err
		}
		s.publish(ctx, events.UserRegistered, c.UserID, models.SessionMeta{})
		return c, nil
	default:
		return nil, err
	}
}

// ChangePassword replaces the password of userID, revokes every refresh
// token of the user and issues a fresh pair for the calling session.
func (s *CredentialService) ChangePassword(ctx context.Context, userID, current, next string, meta models.SessionMeta) (*TokenPair, error) {
	c, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.checkPassword(c, current) {
		return nil, common.ErrInvalidCredentials
	}
	if !c.Enabled {
		return nil, common.ErrAccountDisabled
	}
	if err := validatePassword(next); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: bcrypt: %w", common.ErrorInternal, err)
	}
	// Revoke first: if the store is down the password stays unchanged and
	// the same request can be retried.
	if err := s.tokens.RevokeAll(ctx, c.UserID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePassword(ctx, c.UserID, string(hash)); err != nil {
		return nil, err
	}
	return s.issue(ctx, c, meta, "password_change", events.UserPasswordChanged)
}

// Lookup returns the credential registered under email.
func (s *CredentialService) Lookup(ctx context.Context, email string) (*models.Credential, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

// SetEnabled enables or disables the account with email. Disabling revokes
// all of its refresh tokens.
func (s *CredentialService) SetEnabled(ctx context.Context, email string, enabled bool) error {
	c, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return err
	}
	if err := s.repo.SetEnabled(ctx, c.UserID, enabled); err != nil {
		return err
	}
	if enabled {
		return nil
	}
	if err := s.tokens.RevokeAll(ctx, c.UserID); err != nil {
		return err
	}
	s.publish(ctx, events.UserDisabled, c.UserID, models.SessionMeta{})
	return nil
}

func (s *CredentialService) issue(ctx context.Context, c *models.Credential, meta models.SessionMeta, reason, eventType string) (*TokenPair, error) {
	pair, err := s.tokens.Issue(ctx, identityOf(c), meta)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(reason)
	s.publish(ctx, eventType, c.UserID, meta)
	return pair, nil
}

// checkPassword compares in constant time. Provider-only accounts never match.
func (s *CredentialService) checkPassword(c *models.Credential, password string) bool {
	if c.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) == nil
}

func (s *CredentialService) publish(ctx context.Context, eventType, userID string, meta models.SessionMeta) {
	e := events.New(eventType, userID)
	e.IPAddress = meta.IPAddress
	e.UserAgent = meta.UserAgent
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "publish event failed", "type", eventType, "error", err)
	}
}

// CredentialResolver adapts the credentials repository to IdentityResolver.
type CredentialResolver struct {
	repo credentials.Repository
}

// NewCredentialResolver resolves identities from repo.
func NewCredentialResolver(repo credentials.Repository) *CredentialResolver {
	return &CredentialResolver{repo: repo}
}

func (r *CredentialResolver) ResolveIdentity(ctx context.Context, userID string) (authn.Identity, error) {
	c, err := r.repo.GetByUserID(ctx, userID)
	if err != nil {
		return authn.Identity{}, err
	}
	if !c.Enabled {
		return authn.Identity{}, common.ErrAccountDisabled
	}
	return identityOf(c), nil
}

func identityOf(c *models.Credential) authn.Identity {
	return authn.Identity{
		UserID:   c.UserID,
		Email:    c.Email,
		Role:     c.Role,
		Nickname: c.Nickname,
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: bad email", common.ErrInvalidInput)
	}
	return email, nil
}

func validatePassword(p string) error {
	if len(p) < MinPasswordLen || len(p) > MaxPasswordLen {
		return fmt.Errorf("%w: password must be %d to %d bytes", common.ErrInvalidInput, MinPasswordLen, MaxPasswordLen)
	}
	return nil
}

func defaultNickname(nickname, email string) string {
	if n := strings.TrimSpace(nickname); n != "" {
		return n
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
