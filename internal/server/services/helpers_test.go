package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authgate/internal/authn"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/events"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authgate/internal/tokencodec"
)

var testSecret = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), 32))

func testLogger() logging.Logger { return logging.NewJSON(io.Discard, "error") }

func newValidator(t *testing.T, opts ...tokencodec.Option) *authn.Validator {
	t.Helper()
	codec, err := tokencodec.NewCodec(testSecret, "authgate-test", opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return authn.NewValidator(codec)
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     24 * time.Hour,
		StoreTimeout:   time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
	}
}

// fakeCredentials is an in-memory credentials repository.
type fakeCredentials struct {
	mu     sync.Mutex
	nextID int
	byID   map[string]*models.Credential
	err    error
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{byID: map[string]*models.Credential{}}
}

func (f *fakeCredentials) find(match func(*models.Credential) bool) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.byID {
		if match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeCredentials) Create(_ context.Context, c *models.Credential) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, existing := range f.byID {
		if existing.Email == c.Email {
			return nil, common.ErrDuplicateEmail
		}
	}
	f.nextID++
	cp := *c
	cp.UserID = strconv.Itoa(f.nextID)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.byID[cp.UserID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeCredentials) GetByEmail(_ context.Context, email string) (*models.Credential, error) {
	return f.find(func(c *models.Credential) bool { return c.Email == email })
}

func (f *fakeCredentials) GetByUserID(_ context.Context, userID string) (*models.Credential, error) {
	return f.find(func(c *models.Credential) bool { return c.UserID == userID })
}

func (f *fakeCredentials) GetByProvider(_ context.Context, provider, subject string) (*models.Credential, error) {
	return f.find(func(c *models.Credential) bool { return c.Provider == provider && c.ProviderSubject == subject })
}

func (f *fakeCredentials) update(userID string, fn func(*models.Credential)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	c, ok := f.byID[userID]
	if !ok {
		return common.ErrorNotFound
	}
	fn(c)
	return nil
}

func (f *fakeCredentials) LinkProvider(_ context.Context, userID, provider, subject string) error {
	return f.update(userID, func(c *models.Credential) { c.Provider, c.ProviderSubject = provider, subject })
}

func (f *fakeCredentials) UpdatePassword(_ context.Context, userID, hash string) error {
	return f.update(userID, func(c *models.Credential) { c.PasswordHash = hash })
}

func (f *fakeCredentials) SetEnabled(_ context.Context, userID string, enabled bool) error {
	return f.update(userID, func(c *models.Credential) { c.Enabled = enabled })
}

// flakyStore fails the first `failures` calls with ErrStoreUnavailable.
type flakyStore struct {
	refreshtokens.Repository
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return common.ErrStoreUnavailable
	}
	return nil
}

func (s *flakyStore) Save(ctx context.Context, t *models.RefreshToken) (string, error) {
	if err := s.fail(); err != nil {
		return "", err
	}
	return s.Repository.Save(ctx, t)
}

func (s *flakyStore) FindValidByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.Repository.FindValidByToken(ctx, token)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
