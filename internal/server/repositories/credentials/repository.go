// Package credentials stores primary-factor credentials: bcrypt password
// hashes and links to external identity providers.
package credentials

import (
	"context"

	"github.com/dmitrijs2005/authgate/internal/server/models"
)

type Repository interface {
	// Create inserts c and fills its id and timestamps. A taken email yields
	// common.ErrDuplicateEmail.
	Create(ctx context.Context, c *models.Credential) (*models.Credential, error)
	GetByEmail(ctx context.Context, email string) (*models.Credential, error)
	GetByUserID(ctx context.Context, userID string) (*models.Credential, error)
	GetByProvider(ctx context.Context, provider, subject string) (*models.Credential, error)
	LinkProvider(ctx context.Context, userID, provider, subject string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SetEnabled(ctx context.Context, userID string, enabled bool) error
}
