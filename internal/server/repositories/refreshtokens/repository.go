// Package refreshtokens is the refresh-token store. It persists refresh
// tokens and their revocation state and offers an atomic compare-and-set
// used to guarantee that a token can be rotated at most once.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authgate/internal/server/models"
)

// Repository is implemented by the Postgres, Redis and in-memory stores.
//
// Errors other than common.ErrorNotFound that stem from transient I/O are
// wrapped with common.ErrStoreUnavailable so callers can retry them.
type Repository interface {
	// Save persists t and returns its id. A missing ID or CreatedAt is filled in.
	Save(ctx context.Context, t *models.RefreshToken) (string, error)

	// FindValidByToken returns the token only while it is not revoked.
	// Revoked and unknown tokens yield common.ErrorNotFound. Expiry is left
	// to the caller.
	FindValidByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// Revoke marks token revoked. Unknown or already revoked tokens are not an error.
	Revoke(ctx context.Context, token string) error

	// RevokeIfActive flips token from active to revoked in one atomic step
	// and reports whether this call performed the flip.
	RevokeIfActive(ctx context.Context, token string) (bool, error)

	// Rotate revokes oldToken and saves next atomically. It returns false,
	// writing nothing, when oldToken was not active.
	Rotate(ctx context.Context, oldToken string, next *models.RefreshToken) (bool, error)

	// RevokeAllForUser revokes every active token of userID and returns how many flipped.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// PurgeExpired deletes tokens with expires_at < before and returns the count.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// prepare fills the generated fields of t before it is stored.
func prepare(t *models.RefreshToken, now time.Time) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
}
