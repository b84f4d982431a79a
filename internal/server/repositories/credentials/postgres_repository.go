package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/dbx"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/georgysavva/scany/v2/sqlscan"
)

const selectColumns = `
		SELECT id, email, password_hash, role, nickname, enabled, provider, provider_subject, created_at, updated_at
		FROM credentials
`

type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository creates a credentials repository backed by db.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	query := `
		INSERT INTO credentials (email, password_hash, role, nickname, enabled, provider, provider_subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		c.Email, c.PasswordHash, c.Role, c.Nickname, c.Enabled, c.Provider, c.ProviderSubject).
		Scan(&c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrDuplicateEmail
		}
		return nil, wrap(err)
	}
	return c, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Credential, error) {
	return r.getOne(ctx, selectColumns+`		WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*models.Credential, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, common.ErrorNotFound
	}
	return r.getOne(ctx, selectColumns+`		WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByProvider(ctx context.Context, provider, subject string) (*models.Credential, error) {
	return r.getOne(ctx, selectColumns+`		WHERE provider = $1 AND provider_subject = $2`, provider, subject)
}

func (r *PostgresRepository) LinkProvider(ctx context.Context, userID, provider, subject string) error {
	query := `
		UPDATE credentials
		SET provider = $2, provider_subject = $3, updated_at = now()
		WHERE id = $1
	`
	return r.updateOne(ctx, query, userID, provider, subject)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE credentials
		SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`
	return r.updateOne(ctx, query, userID, passwordHash)
}

func (r *PostgresRepository) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	query := `
		UPDATE credentials
		SET enabled = $2, updated_at = now()
		WHERE id = $1
	`
	return r.updateOne(ctx, query, userID, enabled)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.Credential, error) {
	c := &models.Credential{}
	if err := sqlscan.Get(ctx, r.db, c, query, args...); err != nil {
		if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, wrap(err)
	}
	return c, nil
}

// updateOne runs an UPDATE keyed by the first arg (a decimal user id) and
// maps zero affected rows to ErrorNotFound.
func (r *PostgresRepository) updateOne(ctx context.Context, query, userID string, args ...any) error {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return common.ErrorNotFound
	}
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: identity already linked", common.ErrInvalidInput)
		}
		return wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func wrap(err error) error {
	if dbx.IsTransient(err) {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("db error: %w", err)
}
