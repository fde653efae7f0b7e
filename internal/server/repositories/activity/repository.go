package activity

import (
	"context"

	"github.com/mzakharov/filevault/internal/server/models"
)

// Repository is the append-only activity log. Entries are never mutated
// or deleted.
type Repository interface {
	Append(ctx context.Context, entry *models.ActivityLogEntry) error

	// ListByUser returns a user's most recent entries, newest first,
	// for operator review.
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.ActivityLogEntry, error)
}
