package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mzakharov/filevault/internal/cryptox"
	"github.com/mzakharov/filevault/internal/dbx"
	"github.com/mzakharov/filevault/internal/logging"
	"github.com/mzakharov/filevault/internal/server/blob"
	"github.com/mzakharov/filevault/internal/server/models"
	"github.com/mzakharov/filevault/internal/server/repositories/repomanager"
	"github.com/mzakharov/filevault/internal/shared"
	"github.com/mzakharov/filevault/internal/vault"
)

// FileService encrypts and stores file content. Every version gets a fresh
// DEK from the vault; the quota check commits atomically with the bytes-used
// increment, before any ciphertext is persisted.
type FileService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	store  blob.Store
	vault  *vault.Vault
	audit  *AuditService
	logger logging.Logger
}

// NewFileService wires the file service.
func NewFileService(db *sql.DB, repos repomanager.RepositoryManager, store blob.Store,
	v *vault.Vault, audit *AuditService, logger logging.Logger) *FileService {
	return &FileService{db: db, repos: repos, store: store, vault: v, audit: audit, logger: logger}
}

func storageKey(userID string) string {
	return fmt.Sprintf("vault/%s/%s", userID, uuid.New())
}

// Upload encrypts src and commits it as the first version of a new file.
// size is the declared plaintext length; the quota is reserved for it before
// any ciphertext leaves the process, and the reservation is released if
// anything later fails.
func (s *FileService) Upload(ctx context.Context, userID, name string, size int64, src io.Reader, client ClientInfo) (*models.FileRecord, *models.FileVersion, error) {
	rec, ver, err := s.upload(ctx, userID, name, size, src)

	s.audit.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionUpload,
		Outcome:   outcomeOf(err),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		EntityID:  entityID(rec),
		Detail:    detailOf(err),
	})
	return rec, ver, err
}

func (s *FileService) upload(ctx context.Context, userID, name string, size int64, src io.Reader) (*models.FileRecord, *models.FileVersion, error) {
	if size < 0 {
		return nil, nil, fmt.Errorf("%w: negative size", shared.ErrInvalidConfiguration)
	}

	// reserve quota first so the upload is rejected before any ciphertext
	// is persisted; the conditional update makes check and increment atomic
	userRepo := s.repos.Users(s.db)
	if err := userRepo.AdjustUsedBytes(ctx, userID, size); err != nil {
		return nil, nil, err
	}

	release := func() {
		if err := userRepo.AdjustUsedBytes(context.WithoutCancel(ctx), userID, -size); err != nil {
			s.logger.Error(ctx, "quota reservation release failed", "user_id", userID, "error", err.Error())
		}
	}

	dek := s.vault.NewDEK()
	defer shared.WipeByteArray(dek)

	wrapped, err := s.vault.Wrap(dek)
	if err != nil {
		release()
		return nil, nil, err
	}

	key := storageKey(userID)
	res, err := s.encryptToStore(ctx, key, dek, src)
	if err != nil {
		release()
		return nil, nil, err
	}
	if res.PlainSize != size {
		s.discardBlob(ctx, key)
		release()
		return nil, nil, fmt.Errorf("%w: declared size %d, read %d", shared.ErrInvalidConfiguration, size, res.PlainSize)
	}

	var rec *models.FileRecord
	var ver *models.FileVersion

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repos.Files(tx)

		var txErr error
		rec, txErr = fileRepo.CreateRecord(ctx, &models.FileRecord{
			UserID: userID,
			Name:   name,
			Size:   size,
			SHA256: res.SHA256,
		})
		if txErr != nil {
			return txErr
		}

		ver, txErr = fileRepo.AddVersion(ctx, &models.FileVersion{
			FileID:     rec.ID,
			StorageKey: key,
			Nonce:      res.Nonce,
			WrappedDEK: wrapped,
			Size:       size,
			CipherSize: res.CipherSize,
		})
		return txErr
	})
	if err != nil {
		s.discardBlob(ctx, key)
		release()
		return nil, nil, err
	}

	return rec, ver, nil
}

// UploadVersion appends a new encrypted version to an existing file. The
// quota reservation covers only the size delta against the current active
// version, since older ciphertext is retained either way.
func (s *FileService) UploadVersion(ctx context.Context, userID, fileID string, size int64, src io.Reader, client ClientInfo) (*models.FileVersion, error) {
	ver, err := s.uploadVersion(ctx, userID, fileID, size, src)

	s.audit.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionUpload,
		Outcome:   outcomeOf(err),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		EntityID:  fileID,
		Detail:    detailOf(err),
	})
	return ver, err
}

func (s *FileService) uploadVersion(ctx context.Context, userID, fileID string, size int64, src io.Reader) (*models.FileVersion, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size", shared.ErrInvalidConfiguration)
	}

	fileRepo := s.repos.Files(s.db)
	rec, err := fileRepo.GetRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID || rec.Deleted {
		return nil, shared.ErrNotFound
	}

	delta := size - rec.Size

	userRepo := s.repos.Users(s.db)
	if err := userRepo.AdjustUsedBytes(ctx, userID, delta); err != nil {
		return nil, err
	}
	release := func() {
		if err := userRepo.AdjustUsedBytes(context.WithoutCancel(ctx), userID, -delta); err != nil {
			s.logger.Error(ctx, "quota reservation release failed", "user_id", userID, "error", err.Error())
		}
	}

	dek := s.vault.NewDEK()
	defer shared.WipeByteArray(dek)

	wrapped, err := s.vault.Wrap(dek)
	if err != nil {
		release()
		return nil, err
	}

	key := storageKey(userID)
	res, err := s.encryptToStore(ctx, key, dek, src)
	if err != nil {
		release()
		return nil, err
	}
	if res.PlainSize != size {
		s.discardBlob(ctx, key)
		release()
		return nil, fmt.Errorf("%w: declared size %d, read %d", shared.ErrInvalidConfiguration, size, res.PlainSize)
	}

	var ver *models.FileVersion
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.Files(tx)

		var txErr error
		ver, txErr = repo.AddVersion(ctx, &models.FileVersion{
			FileID:     fileID,
			StorageKey: key,
			Nonce:      res.Nonce,
			WrappedDEK: wrapped,
			Size:       size,
			CipherSize: res.CipherSize,
		})
		if txErr != nil {
			return txErr
		}
		return repo.UpdateRecordContent(ctx, fileID, size, res.SHA256)
	})
	if err != nil {
		s.discardBlob(ctx, key)
		release()
		return nil, err
	}

	return ver, nil
}

// encryptToStore runs the encrypt side and the blob upload concurrently over
// a pipe, so ciphertext streams to storage without buffering the whole file.
func (s *FileService) encryptToStore(ctx context.Context, key string, dek []byte, src io.Reader) (*cryptox.EncryptResult, error) {
	pr, pw := io.Pipe()

	var res *cryptox.EncryptResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = cryptox.EncryptStream(pw, src, dek)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := s.store.Put(gctx, key, pr)
		if err != nil {
			// unblock the encryptor if the upload died first
			pr.CloseWithError(err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		s.discardBlob(ctx, key)
		return nil, err
	}
	return res, nil
}

// discardBlob best-effort removes ciphertext whose metadata never committed.
func (s *FileService) discardBlob(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn(ctx, "orphan blob cleanup failed", "storage_key", key, "error", err.Error())
	}
}

// Download decrypts the given version. Decryption is all-or-nothing: the
// plaintext is verified in full before the reader is returned, so a caller
// can never observe partial or tampered content.
func (s *FileService) Download(ctx context.Context, userID, versionID string, client ClientInfo) (io.Reader, *models.FileVersion, error) {
	r, ver, err := s.download(ctx, versionID)

	s.audit.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionDownload,
		Outcome:   outcomeOf(err),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		EntityID:  versionID,
		Detail:    detailOf(err),
	})
	return r, ver, err
}

func (s *FileService) download(ctx context.Context, versionID string) (io.Reader, *models.FileVersion, error) {
	ver, err := s.repos.Files(s.db).GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}

	dek, err := s.vault.Unwrap(ver.WrappedDEK)
	if err != nil {
		// corrupt key material is an operator problem, not a retry case
		s.logger.Error(ctx, "wrapped DEK failed integrity check", "version_id", ver.ID)
		return nil, nil, err
	}
	defer shared.WipeByteArray(dek)

	body, err := s.store.Get(ctx, ver.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()

	var plain bytes.Buffer
	plain.Grow(int(ver.Size))
	if err := cryptox.DecryptStream(&plain, body, dek, ver.Nonce); err != nil {
		// discard everything decrypted so far
		return nil, nil, err
	}
	return &plain, ver, nil
}

// Delete hides the file and returns its active size to the user's quota.
// Stored ciphertext and version history are never touched.
func (s *FileService) Delete(ctx context.Context, userID, fileID string, client ClientInfo) error {
	err := s.delete(ctx, userID, fileID)

	s.audit.Record(ctx, &models.ActivityLogEntry{
		UserID:    userID,
		Action:    models.ActionDelete,
		Outcome:   outcomeOf(err),
		IP:        client.IP,
		UserAgent: client.UserAgent,
		EntityID:  fileID,
		Detail:    detailOf(err),
	})
	return err
}

func (s *FileService) delete(ctx context.Context, userID, fileID string) error {
	rec, err := s.repos.Files(s.db).GetRecord(ctx, fileID)
	if err != nil {
		return err
	}
	if rec.UserID != userID || rec.Deleted {
		return shared.ErrNotFound
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Files(tx).MarkDeleted(ctx, fileID, userID); err != nil {
			return err
		}
		return s.repos.Users(tx).AdjustUsedBytes(ctx, userID, -rec.Size)
	})
}

// ListVersions returns a file's version chain ordered by sequence number.
func (s *FileService) ListVersions(ctx context.Context, userID, fileID string) ([]*models.FileVersion, error) {
	rec, err := s.repos.Files(s.db).GetRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, shared.ErrNotFound
	}
	return s.repos.Files(s.db).ListVersions(ctx, fileID)
}

func outcomeOf(err error) models.Outcome {
	if err != nil {
		return models.OutcomeFailure
	}
	return models.OutcomeSuccess
}

func detailOf(err error) string {
	if err == nil {
		return ""
	}
	var ue *shared.LinkUnavailableError
	if errors.As(err, &ue) {
		return string(ue.Reason)
	}
	return err.Error()
}

func entityID(rec *models.FileRecord) string {
	if rec == nil {
		return ""
	}
	return rec.ID
}
