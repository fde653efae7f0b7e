package files

import (
	"context"

	"github.com/mzakharov/filevault/internal/server/models"
)

// Repository persists file records and their append-only version chains.
type Repository interface {
	CreateRecord(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error)
	GetRecord(ctx context.Context, id string) (*models.FileRecord, error)

	// MarkDeleted hides the record from listings. Stored ciphertext and
	// existing versions are never touched.
	MarkDeleted(ctx context.Context, id, userID string) error

	// AddVersion appends a version with the next sequence number for the file.
	AddVersion(ctx context.Context, v *models.FileVersion) (*models.FileVersion, error)

	// UpdateRecordContent refreshes the record's active size and plaintext
	// hash after a new version is appended.
	UpdateRecordContent(ctx context.Context, fileID string, size int64, sha256 []byte) error

	GetVersion(ctx context.Context, id string) (*models.FileVersion, error)
	LatestVersion(ctx context.Context, fileID string) (*models.FileVersion, error)

	// ListVersions returns all versions of a file ordered by sequence number.
	ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error)
}
