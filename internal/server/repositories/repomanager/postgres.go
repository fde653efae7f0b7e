package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mzakharov/filevault/internal/dbx"
	"github.com/mzakharov/filevault/internal/server/migrations"
	"github.com/mzakharov/filevault/internal/server/repositories/activity"
	"github.com/mzakharov/filevault/internal/server/repositories/files"
	"github.com/mzakharov/filevault/internal/server/repositories/sharelinks"
	"github.com/mzakharov/filevault/internal/server/repositories/users"
)

// PostgresRepositoryManager is a stateless factory for the Postgres
// repositories.
type PostgresRepositoryManager struct{}

// NewPostgresRepositoryManager returns a manager for Postgres-backed repos.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Files(db dbx.DBTX) files.Repository {
	return files.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) ShareLinks(db dbx.DBTX) sharelinks.Repository {
	return sharelinks.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Activity(db dbx.DBTX) activity.Repository {
	return activity.NewPostgresRepository(db)
}

// RunMigrations applies the embedded goose migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
