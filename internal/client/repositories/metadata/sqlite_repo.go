package metadata

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Wrap(common.KindDatabase, "get metadata "+key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return common.Wrap(common.KindDatabase, "set metadata "+key, err)
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	return common.Wrap(common.KindDatabase, "delete metadata "+key, err)
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata`)
	return common.Wrap(common.KindDatabase, "clear metadata", err)
}

func (r *SQLiteRepository) List(ctx context.Context) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, common.Wrap(common.KindDatabase, "list metadata", err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, common.Wrap(common.KindDatabase, "scan metadata", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, common.Wrap(common.KindDatabase, "list metadata", err)
	}
	return result, nil
}

// DeviceID returns the installation's device id, generating and storing a
// new one on first use.
func DeviceID(ctx context.Context, repo Repository) (string, error) {
	v, err := repo.Get(ctx, common.DeviceIDKey)
	if err != nil {
		return "", err
	}
	if len(v) > 0 {
		return string(v), nil
	}
	id := uuid.NewString()
	if err := repo.Set(ctx, common.DeviceIDKey, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}
