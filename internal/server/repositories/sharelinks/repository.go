package sharelinks

import (
	"context"

	"github.com/mzakharov/filevault/internal/server/models"
)

// Repository persists share links. Links are never deleted; the only
// stored mutations are the download counter and the revoked flag.
type Repository interface {
	Create(ctx context.Context, link *models.ShareLink) (*models.ShareLink, error)
	GetByToken(ctx context.Context, token string) (*models.ShareLink, error)

	// Revoke flips the revoked flag. Revocation is terminal: there is no
	// way back to Active, a new link must be created instead.
	Revoke(ctx context.Context, id, userID string) error

	// TryConsumeDownload atomically increments the download counter while
	// re-checking every gate in the same statement. Two concurrent calls
	// against a link with one remaining download yield exactly one success.
	// Failure to acquire returns ErrLinkUnavailable.
	TryConsumeDownload(ctx context.Context, id string) error
}
