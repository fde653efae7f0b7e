package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"time"

	"github.com/mzakharov/filevault/internal/logging"
	"github.com/mzakharov/filevault/internal/server/auth"
	"github.com/mzakharov/filevault/internal/server/models"
	"github.com/mzakharov/filevault/internal/server/repositories/repomanager"
	"github.com/mzakharov/filevault/internal/shared"
)

// Grant is a successful access evaluation. Token is a short-lived signed
// credential the download path verifies instead of re-running the
// evaluation.
type Grant struct {
	LinkID        string
	FileVersionID string
	Token         string
}

// AccessService is the decision function on every share access attempt.
// Each Evaluate call, success or failure, produces exactly one activity
// log entry; denial responses stay generic while the entry carries the
// real reason.
type AccessService struct {
	db            *sql.DB
	repos         repomanager.RepositoryManager
	audit         *AuditService
	grantSecret   []byte
	grantValidity time.Duration
	logger        logging.Logger
}

// NewAccessService wires the access evaluator.
func NewAccessService(db *sql.DB, repos repomanager.RepositoryManager, audit *AuditService,
	grantSecret []byte, grantValidity time.Duration, logger logging.Logger) *AccessService {
	return &AccessService{
		db:            db,
		repos:         repos,
		audit:         audit,
		grantSecret:   grantSecret,
		grantValidity: grantValidity,
		logger:        logger,
	}
}

// Evaluate checks a share token and optional password and, if every gate
// passes, consumes one download and returns a Grant. The checks run in a
// fixed order and short-circuit on the first failure.
func (s *AccessService) Evaluate(ctx context.Context, token, suppliedPassword string, client ClientInfo) (*Grant, error) {
	grant, linkID, err := s.evaluate(ctx, token, suppliedPassword)

	s.audit.Record(ctx, &models.ActivityLogEntry{
		// anonymous: share access needs no account
		Action:    models.ActionShareAccess,
		Outcome:   outcomeOf(err),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		EntityID:  linkID,
		Detail:    detailOf(err),
	})
	return grant, err
}

func (s *AccessService) evaluate(ctx context.Context, token, suppliedPassword string) (*Grant, string, error) {
	link, err := s.repos.ShareLinks(s.db).GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, "", shared.Unavailable(shared.ReasonNotFound)
		}
		return nil, "", err
	}

	switch link.Status(time.Now()) {
	case models.ShareActive:
	case models.ShareExpired:
		return nil, link.ID, shared.Unavailable(shared.ReasonExpired)
	case models.ShareExhausted:
		return nil, link.ID, shared.Unavailable(shared.ReasonExhausted)
	case models.ShareRevoked:
		return nil, link.ID, shared.Unavailable(shared.ReasonRevoked)
	}

	if link.HasPassword() {
		if !checkSharePassword(link, suppliedPassword) {
			return nil, link.ID, shared.ErrBadPassword
		}
	}

	// check-and-increment of the counter happens inside one conditional
	// update; two racing requests for the last download get one grant
	if err := s.repos.ShareLinks(s.db).TryConsumeDownload(ctx, link.ID); err != nil {
		return nil, link.ID, err
	}

	grantToken, err := auth.GenerateGrantToken(link.ID, link.FileVersionID, s.grantSecret, s.grantValidity)
	if err != nil {
		return nil, link.ID, err
	}

	return &Grant{
		LinkID:        link.ID,
		FileVersionID: link.FileVersionID,
		Token:         grantToken,
	}, link.ID, nil
}

// checkSharePassword hashes the supplied password even when it is empty, so
// response timing does not reveal whether a password was supplied at all.
func checkSharePassword(link *models.ShareLink, supplied string) bool {
	candidate := hashSharePassword(supplied, link.PasswordSalt)
	return subtle.ConstantTimeCompare(link.PasswordHash, candidate) == 1
}

// VerifyGrant validates a grant token from the download path and returns
// the file version it unlocks.
func (s *AccessService) VerifyGrant(ctx context.Context, grantToken string) (string, error) {
	claims, err := auth.ParseGrantToken(grantToken, s.grantSecret)
	if err != nil {
		return "", err
	}
	return claims.FileVersionID, nil
}
