package users

import (
	"context"

	"github.com/mzakharov/filevault/internal/server/models"
)

// Repository persists user accounts and their storage accounting.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)

	// AdjustUsedBytes atomically applies delta to the bytes-used counter,
	// enforcing 0 <= used_bytes <= quota_bytes in the same statement.
	// A positive delta that would break the quota returns ErrQuotaExceeded
	// and leaves the counter unchanged.
	AdjustUsedBytes(ctx context.Context, id string, delta int64) error
}
