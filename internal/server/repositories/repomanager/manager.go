// Package repomanager builds repositories bound to a shared DB handle, so
// services can run several repositories inside one transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/mzakharov/filevault/internal/dbx"
	"github.com/mzakharov/filevault/internal/server/repositories/activity"
	"github.com/mzakharov/filevault/internal/server/repositories/files"
	"github.com/mzakharov/filevault/internal/server/repositories/sharelinks"
	"github.com/mzakharov/filevault/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to the given DBTX, which
// may be either the pool or an open transaction.
type RepositoryManager interface {
	Users(db dbx.DBTX) users.Repository
	Files(db dbx.DBTX) files.Repository
	ShareLinks(db dbx.DBTX) sharelinks.Repository
	Activity(db dbx.DBTX) activity.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
