// Package sharelinks implements the share-link repository over PostgreSQL.
package sharelinks

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

func (r *PostgresRepository) Create(ctx context.Context, link *models.ShareLink) (*models.ShareLink, error) {
	query := `
		INSERT INTO share_links
			(token, file_version_id, user_id, password_hash, password_salt, expires_at, max_downloads)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		link.Token, link.FileVersionID, link.UserID,
		link.PasswordHash, link.PasswordSalt, link.ExpiresAt, link.MaxDownloads).
		Scan(&link.ID, &link.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return link, nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	query := `
		SELECT id, token, file_version_id, user_id, password_hash, password_salt,
		       expires_at, max_downloads, download_count, revoked, created_at
		FROM share_links WHERE token = $1
	`
	link := &models.ShareLink{}
	err := r.db.QueryRowContext(ctx, query, token).
		Scan(&link.ID, &link.Token, &link.FileVersionID, &link.UserID,
			&link.PasswordHash, &link.PasswordSalt, &link.ExpiresAt,
			&link.MaxDownloads, &link.DownloadCount, &link.Revoked, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return link, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id, userID string) error {
	query := `
		UPDATE share_links SET revoked = TRUE
		WHERE id = $1 AND user_id = $2 AND NOT revoked
	`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TryConsumeDownload is the download-counter check-and-increment. All gates
// sit in the WHERE clause of a single UPDATE, so the last permitted download
// cannot be double-spent by concurrent requests: the row lock serializes
// them and the loser sees the precondition fail.
func (r *PostgresRepository) TryConsumeDownload(ctx context.Context, id string) error {
	query := `
		UPDATE share_links SET download_count = download_count + 1
		WHERE id = $1
		  AND NOT revoked
		  AND (expires_at IS NULL OR expires_at > now())
		  AND (max_downloads IS NULL OR download_count < max_downloads)
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return shared.Unavailable(shared.ReasonExhausted)
	}
	return nil
}
