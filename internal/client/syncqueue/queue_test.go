package syncqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/clips"
	"github.com/dmitrijs2005/clipkeeper/internal/client/synclock"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePusher struct {
	mu   sync.Mutex
	reqs []models.SingleSyncRequest
	err  error
	// inFlight runs while the request is "on the wire".
	inFlight func()
}

func (f *fakePusher) SyncSingle(_ context.Context, req models.SingleSyncRequest) (int64, error) {
	if f.inFlight != nil {
		f.inFlight()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.reqs = append(f.reqs, req)
	return 500, nil
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func setupRepo(t *testing.T) clips.Repository {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, dbx.Migrate(ctx, db, migrations.Migrations))
	return clips.NewSQLiteRepository(db)
}

func start(t *testing.T, d *Drainer) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func flagOf(t *testing.T, repo clips.Repository, id string) models.SyncFlag {
	t.Helper()
	r, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r.SyncFlag
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	q := New(1, logging.Nop())
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Event{Op: models.SyncOpAdd}))
	require.ErrorIs(t, q.Enqueue(ctx, Event{Op: models.SyncOpAdd}), common.ErrQueueFull)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(1), q.Dropped())
}

func TestDrainer_PushesAndMarks(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	text := models.ClipRecord{ID: "t", Type: models.ClipTypeText, MD5: "1", Content: "ct"}
	img := models.ClipRecord{ID: "i", Type: models.ClipTypeImage, MD5: "2"}
	require.NoError(t, repo.Insert(ctx, &text))
	require.NoError(t, repo.Insert(ctx, &img))

	q := New(8, logging.Nop())
	api := &fakePusher{}
	bus := events.NewBus()
	notes, unsub := bus.Subscribe(8)
	defer unsub()
	stop := start(t, NewDrainer(q, synclock.New(), api, repo, bus, DrainerOptions{}, logging.Nop()))
	defer stop()

	require.NoError(t, q.Enqueue(ctx, Event{Op: models.SyncOpAdd, Record: text}))
	require.NoError(t, q.Enqueue(ctx, Event{Op: models.SyncOpAdd, Record: img}))

	require.Eventually(t, func() bool { return api.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return flagOf(t, repo, "i") == models.Synchronizing
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.Synchronized, flagOf(t, repo, "t"))
	assert.Equal(t, "ct", api.reqs[0].Clip.Content)
	assert.Equal(t, events.SyncStatusChanged, (<-notes).Kind)
}

func TestDrainer_WaitsForLock(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	rec := models.ClipRecord{ID: "t", Type: models.ClipTypeText, MD5: "1"}
	require.NoError(t, repo.Insert(ctx, &rec))

	lock := synclock.New()
	require.True(t, lock.TryAcquire())

	q := New(8, logging.Nop())
	api := &fakePusher{}
	stop := start(t, NewDrainer(q, lock, api, repo, events.Nop{}, DrainerOptions{LockBackoff: 10 * time.Millisecond}, logging.Nop()))
	defer stop()

	require.NoError(t, q.Enqueue(ctx, Event{Op: models.SyncOpAdd, Record: rec}))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, api.count(), "no push while a reconciliation holds the lock")

	lock.Release()
	require.Eventually(t, func() bool { return api.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDrainer_SkipsIneligible(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	skip := models.ClipRecord{ID: "s", Type: models.ClipTypeFile, MD5: "1", SyncFlag: models.SkipSync}
	gone := models.ClipRecord{ID: "g", Type: models.ClipTypeText, MD5: "2"}
	del := models.ClipRecord{ID: "d", Type: models.ClipTypeText, MD5: "3"}
	for _, r := range []*models.ClipRecord{&skip, &gone, &del} {
		require.NoError(t, repo.Insert(ctx, r))
	}
	require.NoError(t, repo.DeleteForSync(ctx, []string{"g", "d"}))

	q := New(8, logging.Nop())
	api := &fakePusher{}
	stop := start(t, NewDrainer(q, synclock.New(), api, repo, events.Nop{}, DrainerOptions{}, logging.Nop()))

	require.NoError(t, q.Enqueue(ctx, Event{Op: models.SyncOpAdd, Record: skip}))
	require.NoError(t, q.Enqueue(ctx, Event{Op: models.SyncOpAdd, Record: gone}))
	require.NoError(t, q.Enqueue(ctx, Event{Op: models.SyncOpDelete, Record: del}))

	require.Eventually(t, func() bool { return api.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, models.SyncOpDelete, api.reqs[0].Type)
	assert.Equal(t, 1, api.reqs[0].Clip.DelFlag)
	assert.Equal(t, models.Synchronized, flagOf(t, repo, "d"))
	assert.Equal(t, models.NotSynchronized, flagOf(t, repo, "g"))
}

func TestDrainer_DisabledOrFailingLeavesFlag(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	rec := models.ClipRecord{ID: "t", Type: models.ClipTypeText, MD5: "1"}
	require.NoError(t, repo.Insert(ctx, &rec))

	api := &fakePusher{err: errors.New("connection refused")}
	q := New(8, logging.Nop())
	d := NewDrainer(q, synclock.New(), api, repo, events.Nop{}, DrainerOptions{}, logging.Nop())
	require.Error(t, d.handle(ctx, Event{Op: models.SyncOpAdd, Record: rec}))
	assert.Equal(t, models.NotSynchronized, flagOf(t, repo, "t"))

	api.err = nil
	off := NewDrainer(q, synclock.New(), api, repo, events.Nop{}, DrainerOptions{Enabled: func() bool { return false }}, logging.Nop())
	require.NoError(t, off.handle(ctx, Event{Op: models.SyncOpAdd, Record: rec}))
	assert.Zero(t, api.count())
}

func TestDrainer_DeleteDuringPushStaysPending(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	rec := models.ClipRecord{ID: "t", Type: models.ClipTypeText, MD5: "1", Content: "ct", Version: 1}
	require.NoError(t, repo.Insert(ctx, &rec))

	api := &fakePusher{inFlight: func() {
		require.NoError(t, repo.DeleteForSync(ctx, []string{"t"}))
	}}
	d := NewDrainer(New(8, logging.Nop()), synclock.New(), api, repo, events.Nop{}, DrainerOptions{}, logging.Nop())
	require.NoError(t, d.handle(ctx, Event{Op: models.SyncOpAdd, Record: rec}))
	require.Equal(t, 1, api.count())

	got, err := repo.GetByID(ctx, "t")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, models.NotSynchronized, got.SyncFlag, "the tombstone must still be pushed")

	pending, err := repo.SelectBySyncFlag(ctx, models.NotSynchronized, clips.SelectOptions{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t", pending[0].ID)
}
