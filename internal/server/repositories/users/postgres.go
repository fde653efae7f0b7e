// Package users implements the user repository over PostgreSQL.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mzakharov/filevault/internal/dbx"
	"github.com/mzakharov/filevault/internal/server/models"
	"github.com/mzakharov/filevault/internal/shared"
)

// PostgresRepository implements Repository over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, quota_bytes, used_bytes, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if user.QuotaBytes == 0 {
		user.QuotaBytes = models.DefaultQuotaBytes
	}
	err := r.db.QueryRowContext(ctx, query,
		user.UserName, user.QuotaBytes, user.UsedBytes, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, quota_bytes, used_bytes, password_hash, created_at
		FROM users WHERE id = $1
	`
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.UserName, &user.QuotaBytes, &user.UsedBytes, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// AdjustUsedBytes is the quota check-and-increment. The precondition lives
// in the WHERE clause so two concurrent uploads cannot both slip under the
// quota: the row is locked for the duration of the UPDATE.
func (r *PostgresRepository) AdjustUsedBytes(ctx context.Context, id string, delta int64) error {
	query := `
		UPDATE users SET used_bytes = used_bytes + $2
		WHERE id = $1
		  AND used_bytes + $2 >= 0
		  AND used_bytes + $2 <= quota_bytes
	`
	res, err := r.db.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}

	// zero rows: either the user does not exist or the precondition failed
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return shared.ErrQuotaExceeded
}
