// Package synctime stores the reconciliation watermark: the server timestamp
// up to which local and remote history are known to agree.
package synctime

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
)

// watermarkID is the fixed key of the single watermark row.
const watermarkID = 1

type Repository interface {
	// Get returns the stored watermark, or 0 before the first round.
	Get(ctx context.Context) (int64, error)
	Set(ctx context.Context, ts int64) error
	Reset(ctx context.Context) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context) (int64, error) {
	var ts int64
	err := r.db.QueryRowContext(ctx, `SELECT last_time FROM sync_time WHERE id = ?`, watermarkID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, common.Wrap(common.KindDatabase, "get sync time", err)
	}
	return ts, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_time (id, last_time) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_time = excluded.last_time
	`, watermarkID, ts)
	return common.Wrap(common.KindDatabase, "set sync time", err)
}

func (r *SQLiteRepository) Reset(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_time WHERE id = ?`, watermarkID)
	return common.Wrap(common.KindDatabase, "reset sync time", err)
}
