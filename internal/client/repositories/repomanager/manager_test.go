package repomanager

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/stretchr/testify/require"
)

func TestManager_ReposShareTransaction(t *testing.T) {
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var m RepositoryManager = NewSQLiteRepositoryManager()
	require.NoError(t, m.RunMigrations(ctx, db))

	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := m.Clips(tx).Insert(ctx, &models.ClipRecord{ID: "a", Type: models.ClipTypeText, MD5: "h"}); err != nil {
			return err
		}
		if err := m.Metadata(tx).Set(ctx, "k", []byte("v")); err != nil {
			return err
		}
		return m.SyncTime(tx).Set(ctx, 10)
	})
	require.NoError(t, err)

	n, err := m.Clips(db).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ts, err := m.SyncTime(db).Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), ts)
}
