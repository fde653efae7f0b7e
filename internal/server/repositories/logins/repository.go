package logins

import (
	"context"

	"github.com/mzakharov/filevault/internal/server/models"
)

// WindowSize is the number of recent logins retained per user. The window
// is the comparison baseline for anomaly detection: an (IP, user-agent)
// pair not seen within it counts as new.
const WindowSize = 20

// Repository keeps a bounded rolling window of login records per user,
// most recent first.
type Repository interface {
	// Append records a login and trims the user's window to WindowSize.
	Append(ctx context.Context, rec *models.LoginRecord) error

	// Recent returns up to WindowSize records for the user, newest first.
	Recent(ctx context.Context, userID string) ([]*models.LoginRecord, error)
}
