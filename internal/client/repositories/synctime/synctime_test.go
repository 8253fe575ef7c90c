package synctime

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/clipkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetReset(t *testing.T) {
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, dbx.Migrate(ctx, db, migrations.Migrations))

	r := NewSQLiteRepository(db)
	ts, err := r.Get(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts)

	require.NoError(t, r.Set(ctx, 100))
	require.NoError(t, r.Set(ctx, 250))
	ts, err = r.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), ts)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sync_time`).Scan(&rows))
	assert.Equal(t, 1, rows)

	require.NoError(t, r.Reset(ctx))
	ts, err = r.Get(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts)
}

func TestErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	boom := errors.New("boom")

	r := NewSQLiteRepository(db)
	mock.ExpectQuery("SELECT last_time").WillReturnError(boom)
	_, err = r.Get(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, common.KindDatabase, common.KindOf(err))

	mock.ExpectExec("INSERT INTO sync_time").WillReturnError(boom)
	require.ErrorIs(t, r.Set(context.Background(), 1), boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
