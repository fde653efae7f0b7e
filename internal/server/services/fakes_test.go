package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mzakharov/filevault/internal/dbx"
	"github.com/mzakharov/filevault/internal/logging"
	"github.com/mzakharov/filevault/internal/server/blob"
	"github.com/mzakharov/filevault/internal/server/models"
	"github.com/mzakharov/filevault/internal/server/notify"
	"github.com/mzakharov/filevault/internal/server/repositories/activity"
	"github.com/mzakharov/filevault/internal/server/repositories/files"
	"github.com/mzakharov/filevault/internal/server/repositories/logins"
	"github.com/mzakharov/filevault/internal/server/repositories/sharelinks"
	"github.com/mzakharov/filevault/internal/server/repositories/users"
	"github.com/mzakharov/filevault/internal/shared"
	"github.com/mzakharov/filevault/internal/vault"
)

// In-memory repository fakes. They are mutex-guarded so concurrency tests
// (racing downloads against a nearly exhausted link) exercise the same
// atomicity the SQL conditional updates provide.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := *user
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	r.users[u.ID] = &u
	return &u, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *fakeUserRepo) AdjustUsedBytes(ctx context.Context, id string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	next := u.UsedBytes + delta
	if next < 0 || next > u.QuotaBytes {
		return shared.ErrQuotaExceeded
	}
	u.UsedBytes = next
	return nil
}

type fakeFileRepo struct {
	mu       sync.Mutex
	records  map[string]*models.FileRecord
	versions map[string]*models.FileVersion
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{
		records:  make(map[string]*models.FileRecord),
		versions: make(map[string]*models.FileVersion),
	}
}

func (r *fakeFileRepo) CreateRecord(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rec
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	r.records[c.ID] = &c
	out := c
	return &out, nil
}

func (r *fakeFileRepo) GetRecord(ctx context.Context, id string) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *fakeFileRepo) MarkDeleted(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.UserID != userID {
		return shared.ErrNotFound
	}
	rec.Deleted = true
	return nil
}

func (r *fakeFileRepo) AddVersion(ctx context.Context, v *models.FileVersion) (*models.FileVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var maxSeq int64
	for _, existing := range r.versions {
		if existing.FileID == v.FileID && existing.Seq > maxSeq {
			maxSeq = existing.Seq
		}
	}
	c := *v
	c.ID = uuid.NewString()
	c.Seq = maxSeq + 1
	c.CreatedAt = time.Now()
	r.versions[c.ID] = &c
	out := c
	return &out, nil
}

func (r *fakeFileRepo) UpdateRecordContent(ctx context.Context, fileID string, size int64, sha256 []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fileID]
	if !ok {
		return shared.ErrNotFound
	}
	rec.Size = size
	rec.SHA256 = sha256
	return nil
}

func (r *fakeFileRepo) GetVersion(ctx context.Context, id string) (*models.FileVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (r *fakeFileRepo) LatestVersion(ctx context.Context, fileID string) (*models.FileVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.FileVersion
	for _, v := range r.versions {
		if v.FileID == fileID && (latest == nil || v.Seq > latest.Seq) {
			latest = v
		}
	}
	if latest == nil {
		return nil, shared.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (r *fakeFileRepo) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.FileVersion
	for _, v := range r.versions {
		if v.FileID == fileID {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

type fakeShareRepo struct {
	mu    sync.Mutex
	links map[string]*models.ShareLink
}

func newFakeShareRepo() *fakeShareRepo {
	return &fakeShareRepo{links: make(map[string]*models.ShareLink)}
}

func (r *fakeShareRepo) Create(ctx context.Context, link *models.ShareLink) (*models.ShareLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *link
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	r.links[c.ID] = &c
	out := c
	return &out, nil
}

func (r *fakeShareRepo) GetByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Token == token {
			c := *l
			return &c, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *fakeShareRepo) Revoke(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok || l.UserID != userID {
		return shared.ErrNotFound
	}
	l.Revoked = true
	return nil
}

func (r *fakeShareRepo) TryConsumeDownload(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if ok && l.Status(time.Now()) == models.ShareActive {
		l.DownloadCount++
		return nil
	}
	return shared.Unavailable(shared.ReasonExhausted)
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []*models.ActivityLogEntry
}

func (r *fakeActivityRepo) Append(ctx context.Context, entry *models.ActivityLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *entry
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	r.entries = append(r.entries, &c)
	return nil
}

func (r *fakeActivityRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ActivityLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ActivityLogEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID == userID {
			c := *r.entries[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// all returns a snapshot of every entry, oldest first.
func (r *fakeActivityRepo) all() []*models.ActivityLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.ActivityLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// lastOf returns the newest entry for the given action, or nil.
func (r *fakeActivityRepo) lastOf(action models.ActionKind) *models.ActivityLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Action == action {
			c := *r.entries[i]
			return &c
		}
	}
	return nil
}

type fakeLoginRepo struct {
	mu     sync.Mutex
	byUser map[string][]*models.LoginRecord
}

func newFakeLoginRepo() *fakeLoginRepo {
	return &fakeLoginRepo{byUser: make(map[string][]*models.LoginRecord)}
}

func (r *fakeLoginRepo) Append(ctx context.Context, rec *models.LoginRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rec
	window := append([]*models.LoginRecord{&c}, r.byUser[rec.UserID]...)
	if len(window) > logins.WindowSize {
		window = window[:logins.WindowSize]
	}
	r.byUser[rec.UserID] = window
	return nil
}

func (r *fakeLoginRepo) Recent(ctx context.Context, userID string) ([]*models.LoginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	window := r.byUser[userID]
	out := make([]*models.LoginRecord, len(window))
	copy(out, window)
	return out, nil
}

type fakeRepoManager struct {
	users      *fakeUserRepo
	files      *fakeFileRepo
	shareLinks *fakeShareRepo
	activity   *fakeActivityRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:      newFakeUserRepo(),
		files:      newFakeFileRepo(),
		shareLinks: newFakeShareRepo(),
		activity:   &fakeActivityRepo{},
	}
}

func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository           { return m.users }
func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository           { return m.files }
func (m *fakeRepoManager) ShareLinks(db dbx.DBTX) sharelinks.Repository { return m.shareLinks }
func (m *fakeRepoManager) Activity(db dbx.DBTX) activity.Repository     { return m.activity }
func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}

type sentNotification struct {
	userID  string
	event   notify.EventKind
	payload map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *fakeNotifier) Notify(ctx context.Context, userID string, event notify.EventKind, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID: userID, event: event, payload: payload})
	return nil
}

func (n *fakeNotifier) all() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentNotification, len(n.sent))
	copy(out, n.sent)
	return out
}

// testEnv assembles the service layer over fakes. The *sql.DB handle only
// carries transaction begin/commit through dbx.WithTx; the fakes ignore it.
type testEnv struct {
	db       *sql.DB
	mock     sqlmock.Sqlmock
	repos    *fakeRepoManager
	store    *blob.MemoryStore
	vault    *vault.Vault
	logins   *fakeLoginRepo
	notifier *fakeNotifier
	audit    *AuditService
	logger   logging.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	masterKey := shared.GenerateRandByteArray(vault.MasterKeySize)
	v, err := vault.New(masterKey)
	require.NoError(t, err)

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	repos := newFakeRepoManager()
	loginRepo := newFakeLoginRepo()
	notifier := &fakeNotifier{}
	async := notify.NewAsync(notifier, logger)

	return &testEnv{
		db:       db,
		mock:     mock,
		repos:    repos,
		store:    blob.NewMemoryStore(),
		vault:    v,
		logins:   loginRepo,
		notifier: notifier,
		audit:    NewAuditService(db, repos, loginRepo, async, logger),
		logger:   logger,
	}
}

func (e *testEnv) fileService() *FileService {
	return NewFileService(e.db, e.repos, e.store, e.vault, e.audit, e.logger)
}

func (e *testEnv) shareService() *ShareService {
	return NewShareService(e.db, e.repos, e.audit, notify.NewAsync(e.notifier, e.logger), e.logger)
}

func (e *testEnv) accessService(secret []byte, validity time.Duration) *AccessService {
	return NewAccessService(e.db, e.repos, e.audit, secret, validity, e.logger)
}

// addUser seeds an account with the given quota.
func (e *testEnv) addUser(t *testing.T, quota int64) *models.User {
	t.Helper()
	u, err := e.repos.users.Create(context.Background(), &models.User{
		UserName:   "tester",
		QuotaBytes: quota,
	})
	require.NoError(t, err)
	return u
}

// expectTx queues one begin/commit pair on the sqlmock handle.
func (e *testEnv) expectTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}
