package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/mzakharov/filevault/internal/logging"
	"github.com/mzakharov/filevault/internal/server/models"
	"github.com/mzakharov/filevault/internal/server/notify"
	"github.com/mzakharov/filevault/internal/server/repositories/repomanager"
	"github.com/mzakharov/filevault/internal/shared"
)

const (
	shareTokenBytes  = 16
	sharePasswordLen = 32
	shareSaltBytes   = 16
)

// hashSharePassword stretches a share-link password with argon2id. The salt
// is random per link, so identical passwords on different links produce
// different hashes.
func hashSharePassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 3, 64*1024, 4, sharePasswordLen)
}

// CreateShareParams are the optional gates fixed at link creation.
type CreateShareParams struct {
	Password     string
	ExpiresAt    *time.Time
	MaxDownloads *int64
}

// ShareService manages the share-link lifecycle. Links are created Active
// and only ever move to a terminal state; status itself is derived at read
// time (models.ShareLink.Status), never swept in the background.
type ShareService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	audit    *AuditService
	notifier *notify.Async
	logger   logging.Logger
}

// NewShareService wires the share service.
func NewShareService(db *sql.DB, repos repomanager.RepositoryManager,
	audit *AuditService, notifier *notify.Async, logger logging.Logger) *ShareService {
	return &ShareService{db: db, repos: repos, audit: audit, notifier: notifier, logger: logger}
}

// Create validates the gates and persists a new Active link for the given
// file version. Invalid parameters are rejected synchronously, before any
// record is written.
func (s *ShareService) Create(ctx context.Context, userID, fileVersionID string, p CreateShareParams, client ClientInfo) (*models.ShareLink, error) {
	link, err := s.create(ctx, userID, fileVersionID, p)

	s.audit.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionShareCreate,
		Outcome:   outcomeOf(err),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		EntityID:  linkID(link),
		Detail:    detailOf(err),
	})
	return link, err
}

func (s *ShareService) create(ctx context.Context, userID, fileVersionID string, p CreateShareParams) (*models.ShareLink, error) {
	if p.ExpiresAt != nil && !p.ExpiresAt.After(time.Now()) {
		// a link that is dead on arrival is a caller bug, not a valid link
		return nil, fmt.Errorf("%w: expiration in the past", shared.ErrInvalidConfiguration)
	}
	if p.MaxDownloads != nil && *p.MaxDownloads <= 0 {
		return nil, fmt.Errorf("%w: max downloads must be positive", shared.ErrInvalidConfiguration)
	}

	fileRepo := s.repos.Files(s.db)
	ver, err := fileRepo.GetVersion(ctx, fileVersionID)
	if err != nil {
		return nil, err
	}
	rec, err := fileRepo.GetRecord(ctx, ver.FileID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID || rec.Deleted {
		return nil, shared.ErrNotFound
	}

	token, err := shared.MakeRandHexString(shareTokenBytes)
	if err != nil {
		return nil, err
	}

	link := &models.ShareLink{
		Token:         token,
		FileVersionID: fileVersionID,
		UserID:        userID,
		ExpiresAt:     p.ExpiresAt,
		MaxDownloads:  p.MaxDownloads,
	}
	if p.Password != "" {
		link.PasswordSalt = shared.GenerateRandByteArray(shareSaltBytes)
		link.PasswordHash = hashSharePassword(p.Password, link.PasswordSalt)
	}

	link, err = s.repos.ShareLinks(s.db).Create(ctx, link)
	if err != nil {
		return nil, err
	}

	s.notifier.Send(userID, notify.EventShareCreated, map[string]string{
		"token":     link.Token,
		"file":      rec.Name,
		"protected": fmt.Sprintf("%t", link.HasPassword()),
	})

	return link, nil
}

// Revoke terminally disables a link. There is no way back to Active; the
// owner creates a new link instead.
func (s *ShareService) Revoke(ctx context.Context, userID, shareID string, client ClientInfo) error {
	err := s.repos.ShareLinks(s.db).Revoke(ctx, shareID, userID)

	s.audit.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionShareRevoke,
		Outcome:   outcomeOf(err),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		EntityID:  shareID,
		Detail:    detailOf(err),
	})
	return err
}

func linkID(link *models.ShareLink) string {
	if link == nil {
		return ""
	}
	return link.ID
}
