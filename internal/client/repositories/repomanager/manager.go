// Package repomanager vends repositories bound to a DBTX so callers can run
// several of them inside one transaction, and migrates the local schema.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/clipkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/clips"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/synctime"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
)

type RepositoryManager interface {
	Clips(db dbx.DBTX) clips.Repository
	SyncTime(db dbx.DBTX) synctime.Repository
	Metadata(db dbx.DBTX) metadata.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}

// SQLiteRepositoryManager returns the SQLite implementations.
type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Clips(db dbx.DBTX) clips.Repository {
	return clips.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) SyncTime(db dbx.DBTX) synctime.Repository {
	return synctime.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return dbx.Migrate(ctx, db, migrations.Migrations)
}
