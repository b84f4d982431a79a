package credentials

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/models"
)

// MemoryRepository keeps credentials in process memory. It backs the
// "memory" store for single-node development.
type MemoryRepository struct {
	mu     sync.Mutex
	lastID int64
	byID   map[string]*models.Credential
}

// NewMemoryRepository returns an empty in-memory credentials store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*models.Credential)}
}

func (r *MemoryRepository) Create(_ context.Context, c *models.Credential) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == c.Email {
			return nil, common.ErrDuplicateEmail
		}
		if c.Provider != "" && existing.Provider == c.Provider && existing.ProviderSubject == c.ProviderSubject {
			return nil, common.ErrInvalidInput
		}
	}
	r.lastID++
	c.UserID = strconv.FormatInt(r.lastID, 10)
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	r.byID[c.UserID] = &stored
	return c, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*models.Credential, error) {
	return r.find(func(c *models.Credential) bool { return c.Email == email })
}

func (r *MemoryRepository) GetByUserID(_ context.Context, userID string) (*models.Credential, error) {
	return r.find(func(c *models.Credential) bool { return c.UserID == userID })
}

func (r *MemoryRepository) GetByProvider(_ context.Context, provider, subject string) (*models.Credential, error) {
	return r.find(func(c *models.Credential) bool {
		return c.Provider == provider && c.ProviderSubject == subject
	})
}

func (r *MemoryRepository) LinkProvider(_ context.Context, userID, provider, subject string) error {
	return r.update(userID, func(c *models.Credential) { c.Provider, c.ProviderSubject = provider, subject })
}

func (r *MemoryRepository) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return r.update(userID, func(c *models.Credential) { c.PasswordHash = passwordHash })
}

func (r *MemoryRepository) SetEnabled(_ context.Context, userID string, enabled bool) error {
	return r.update(userID, func(c *models.Credential) { c.Enabled = enabled })
}

func (r *MemoryRepository) find(match func(*models.Credential) bool) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if match(c) {
			out := *c
			return &out, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) update(userID string, fn func(*models.Credential)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[userID]
	if !ok {
		return common.ErrorNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}
