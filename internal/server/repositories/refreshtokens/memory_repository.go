package refreshtokens

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/server/models"
)

var errDuplicateToken = errors.New("duplicate refresh token")

// MemoryRepository is a process-local store for single-node development and
// tests. All operations hold one mutex, which makes Rotate trivially atomic.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
	now    func() time.Time
}

// NewMemoryRepository returns an empty in-memory token store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]*models.RefreshToken), now: time.Now}
}

func (r *MemoryRepository) Save(_ context.Context, t *models.RefreshToken) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(t)
}

func (r *MemoryRepository) saveLocked(t *models.RefreshToken) (string, error) {
	if _, ok := r.tokens[t.Token]; ok {
		return "", &dbError{err: errDuplicateToken}
	}
	prepare(t, r.now())
	stored := *t
	stored.Revoked = false
	r.tokens[t.Token] = &stored
	return t.ID, nil
}

func (r *MemoryRepository) FindValidByToken(_ context.Context, token string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[token]
	if !ok || t.Revoked {
		return nil, common.ErrorNotFound
	}
	out := *t
	return &out, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[token]; ok {
		t.Revoked = true
	}
	return nil
}

func (r *MemoryRepository) RevokeIfActive(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeIfActiveLocked(token), nil
}

func (r *MemoryRepository) revokeIfActiveLocked(token string) bool {
	t, ok := r.tokens[token]
	if !ok || t.Revoked {
		return false
	}
	t.Revoked = true
	return true
}

func (r *MemoryRepository) Rotate(_ context.Context, oldToken string, next *models.RefreshToken) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.tokens[next.Token]; dup {
		return false, &dbError{err: errDuplicateToken}
	}
	if !r.revokeIfActiveLocked(oldToken) {
		return false, nil
	}
	if _, err := r.saveLocked(next); err != nil {
		return false, err
	}
	return true, nil
}

func (r *MemoryRepository) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, t := range r.tokens {
		if t.Expires.Before(before) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}
