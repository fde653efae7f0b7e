package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzakharov/filevault/internal/server/models"
	"github.com/mzakharov/filevault/internal/shared"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestCreateAppliesDefaultQuota(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", models.DefaultQuotaBytes, int64(0), []byte(nil)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("u1", now))

	u, err := repo.Create(context.Background(), &models.User{UserName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, models.DefaultQuotaBytes, u.QuotaBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, username`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustUsedBytesSuccess(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE users SET used_bytes = used_bytes \+ \$2`).
		WithArgs("u1", int64(1024)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AdjustUsedBytes(context.Background(), "u1", 1024))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustUsedBytesQuotaExceeded(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE users SET used_bytes = used_bytes \+ \$2`).
		WithArgs("u1", int64(1<<40)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, username`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "username", "quota_bytes", "used_bytes", "password_hash", "created_at"}).
			AddRow("u1", "alice", int64(100), int64(90), nil, time.Now()))

	err := repo.AdjustUsedBytes(context.Background(), "u1", 1<<40)
	assert.ErrorIs(t, err, shared.ErrQuotaExceeded)
}

func TestAdjustUsedBytesUserMissing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE users SET used_bytes = used_bytes \+ \$2`).
		WithArgs("ghost", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, username`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	err := repo.AdjustUsedBytes(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustUsedBytesDBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE users SET used_bytes = used_bytes \+ \$2`).
		WithArgs("u1", int64(1)).
		WillReturnError(errors.New("db is down"))

	err := repo.AdjustUsedBytes(context.Background(), "u1", 1)
	assert.ErrorContains(t, err, "db is down")
}
