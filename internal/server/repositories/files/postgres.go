// Package files implements the file and version repository over PostgreSQL.
package files

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

func (r *PostgresRepository) CreateRecord(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	query := `
		INSERT INTO file_records (user_id, name, size, sha256)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, rec.UserID, rec.Name, rec.Size, rec.SHA256).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) GetRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `
		SELECT id, user_id, name, size, sha256, deleted, created_at
		FROM file_records WHERE id = $1
	`
	rec := &models.FileRecord{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Size, &rec.SHA256, &rec.Deleted, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, id, userID string) error {
	query := `
		UPDATE file_records SET deleted = TRUE
		WHERE id = $1 AND user_id = $2 AND NOT deleted
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

// AddVersion assigns the next sequence number inside the INSERT itself, so
// concurrent uploads to the same file cannot allocate duplicate sequence
// numbers (the unique constraint on (file_id, seq) backs this up).
func (r *PostgresRepository) AddVersion(ctx context.Context, v *models.FileVersion) (*models.FileVersion, error) {
	query := `
		INSERT INTO file_versions (file_id, seq, storage_key, nonce, wrapped_dek, size, cipher_size)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		FROM file_versions WHERE file_id = $1
		RETURNING id, seq, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		v.FileID, v.StorageKey, v.Nonce, v.WrappedDEK, v.Size, v.CipherSize).
		Scan(&v.ID, &v.Seq, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

// UpdateRecordContent refreshes the record's active size and plaintext hash
// after a new version is appended.
func (r *PostgresRepository) UpdateRecordContent(ctx context.Context, fileID string, size int64, sha256 []byte) error {
	query := `UPDATE file_records SET size = $2, sha256 = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, fileID, size, sha256)
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

func (r *PostgresRepository) GetVersion(ctx context.Context, id string) (*models.FileVersion, error) {
	query := `
		SELECT id, file_id, seq, storage_key, nonce, wrapped_dek, size, cipher_size, created_at
		FROM file_versions WHERE id = $1
	`
	return r.scanVersion(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) LatestVersion(ctx context.Context, fileID string) (*models.FileVersion, error) {
	query := `
		SELECT id, file_id, seq, storage_key, nonce, wrapped_dek, size, cipher_size, created_at
		FROM file_versions WHERE file_id = $1
		ORDER BY seq DESC LIMIT 1
	`
	return r.scanVersion(r.db.QueryRowContext(ctx, query, fileID))
}

func (r *PostgresRepository) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	query := `
		SELECT id, file_id, seq, storage_key, nonce, wrapped_dek, size, cipher_size, created_at
		FROM file_versions WHERE file_id = $1
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.FileVersion
	for rows.Next() {
		v := &models.FileVersion{}
		if err := rows.Scan(&v.ID, &v.FileID, &v.Seq, &v.StorageKey, &v.Nonce,
			&v.WrappedDEK, &v.Size, &v.CipherSize, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) scanVersion(row *sql.Row) (*models.FileVersion, error) {
	v := &models.FileVersion{}
	err := row.Scan(&v.ID, &v.FileID, &v.Seq, &v.StorageKey, &v.Nonce,
		&v.WrappedDEK, &v.Size, &v.CipherSize, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}
