// Package activity implements the append-only audit log over PostgreSQL.
package activity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mzakharov/filevault/internal/dbx"
	"github.com/mzakharov/filevault/internal/server/models"
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

func (r *PostgresRepository) Append(ctx context.Context, entry *models.ActivityLogEntry) error {
	query := `
		INSERT INTO activity_log (user_id, action, outcome, ip, user_agent, entity_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	// anonymous share access has no acting user
	userID := sql.NullString{String: entry.UserID, Valid: entry.UserID != ""}

	err := r.db.QueryRowContext(ctx, query,
		userID, string(entry.Action), string(entry.Outcome),
		entry.IP, entry.UserAgent, entry.EntityID, entry.Detail).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ActivityLogEntry, error) {
	query := `
		SELECT id, COALESCE(user_id::text, ''), action, outcome, ip, user_agent, entity_id, detail, created_at
		FROM activity_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ActivityLogEntry
	for rows.Next() {
		e := &models.ActivityLogEntry{}
		var action, outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &action, &outcome,
			&e.IP, &e.UserAgent, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = models.ActionKind(action)
		e.Outcome = models.Outcome(outcome)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
