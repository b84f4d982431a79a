package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/dbx"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/georgysavva/scany/v2/sqlscan"
)

// PostgresRepository stores refresh tokens in the refresh_tokens table over
// dbx.DBTX (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) Save(ctx context.Context, t *models.RefreshToken) (string, error) {
	prepare(t, r.now())

	query := `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at, is_revoked, created_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.Token, t.Expires, t.CreatedAt, t.IPAddress, t.UserAgent); err != nil {
		return "", storeErr(fmt.Errorf("error performing sql request: %w", err))
	}
	return t.ID, nil
}

func (r *PostgresRepository) FindValidByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, is_revoked, created_at,
		       COALESCE(ip_address, '') AS ip_address, COALESCE(user_agent, '') AS user_agent
		FROM refresh_tokens
		WHERE token = $1 AND is_revoked = FALSE
	`
	t := &models.RefreshToken{}
	if err := sqlscan.Get(ctx, r.db, t, query, token); err != nil {
		if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, storeErr(err)
	}
	return t, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, token string) error {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE
		WHERE token = $1
	`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *PostgresRepository) RevokeIfActive(ctx context.Context, token string) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE
		WHERE token = $1 AND is_revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return false, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 1, nil
}

// Rotate runs the conditional revoke and the insert in one transaction. When
// the repository is already bound to a *sql.Tx the caller's transaction is used.
func (r *PostgresRepository) Rotate(ctx context.Context, oldToken string, next *models.RefreshToken) (bool, error) {
	var rotated bool
	err := r.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := &PostgresRepository{db: tx, now: r.now}

		won, err := txRepo.RevokeIfActive(ctx, oldToken)
		if err != nil || !won {
			return err
		}
		if _, err := txRepo.Save(ctx, next); err != nil {
			return err
		}
		rotated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return rotated, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE
		WHERE user_id = $1 AND is_revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if db, ok := r.db.(dbx.Beginner); ok {
		if err := dbx.WithTx(ctx, db, nil, fn); err != nil {
			return storeErrOnce(err)
		}
		return nil
	}
	return fn(ctx, r.db)
}
