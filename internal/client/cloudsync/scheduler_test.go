package cloudsync

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/clips"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/clipkeeper/internal/client/searchindex"
	"github.com/dmitrijs2005/clipkeeper/internal/client/synclock"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/cryptox"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer dedups pushed clips by (device, type, md5) like the real
// service.
type fakeServer struct {
	mu       sync.Mutex
	now      int64
	stored   map[string]models.CloudClip
	deltas   []models.CloudClip
	requests []models.CompleteSyncRequest
	timeErr  error
	// inFlight runs while a complete sync request is being handled.
	inFlight func()
}

func newFakeServer(now int64) *fakeServer {
	return &fakeServer{now: now, stored: map[string]models.CloudClip{}}
}

func (f *fakeServer) ServerTime(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now, f.timeErr
}

func (f *fakeServer) CompleteSync(_ context.Context, req models.CompleteSyncRequest) (*models.CompleteSyncResponse, error) {
	if f.inFlight != nil {
		f.inFlight()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	for _, c := range req.Clips {
		f.stored[req.DeviceID+"|"+c.Type+"|"+c.MD5Str] = c
	}
	return &models.CompleteSyncResponse{Clips: f.deltas, Timestamp: f.now}, nil
}

func (f *fakeServer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type failingManager struct {
	*repomanager.SQLiteRepositoryManager
}

type failingInsert struct {
	clips.Repository
}

func (failingInsert) Insert(context.Context, *models.ClipRecord) error {
	return errors.New("constraint failed")
}

func (m failingManager) Clips(db dbx.DBTX) clips.Repository {
	return failingInsert{m.SQLiteRepositoryManager.Clips(db)}
}

type fixture struct {
	db     *sql.DB
	rm     *repomanager.SQLiteRepositoryManager
	repo   clips.Repository
	codec  *cryptox.Codec
	index  *searchindex.Index
	layout filex.Layout
	server *fakeServer
	lock   *synclock.Lock
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	rm := repomanager.NewSQLiteRepositoryManager()
	require.NoError(t, rm.RunMigrations(ctx, db))
	codec, err := cryptox.NewCodec()
	require.NoError(t, err)
	layout := filex.Layout{Root: t.TempDir()}
	require.NoError(t, layout.Ensure())

	f := &fixture{
		db:     db,
		rm:     rm,
		repo:   rm.Clips(db),
		codec:  codec,
		index:  searchindex.Open(searchindex.Options{}),
		layout: layout,
		server: newFakeServer(1000),
		lock:   synclock.New(),
		bus:    events.NewBus(),
	}
	t.Cleanup(func() {
		f.bus.Close()
		_ = f.index.Close()
		_ = db.Close()
	})
	return f
}

func (f *fixture) scheduler(repos repomanager.RepositoryManager) *Scheduler {
	return New(Deps{
		DB:       f.db,
		Repos:    repos,
		API:      f.server,
		Lock:     f.lock,
		Codec:    f.codec,
		Index:    f.index,
		Notifier: f.bus,
		Logger:   logging.Nop(),
	}, Options{DeviceID: "dev-1", Layout: f.layout, Interval: time.Hour})
}

func (f *fixture) insert(t *testing.T, rec models.ClipRecord) models.ClipRecord {
	t.Helper()
	ctx := context.Background()
	sort, err := f.repo.NextSort(ctx)
	require.NoError(t, err)
	rec.Sort = sort
	rec.DeviceID = "dev-1"
	require.NoError(t, f.repo.Insert(ctx, &rec))
	return rec
}

func (f *fixture) watermark(t *testing.T) int64 {
	t.Helper()
	ts, err := f.rm.SyncTime(f.db).Get(context.Background())
	require.NoError(t, err)
	return ts
}

func (f *fixture) get(t *testing.T, id string) *models.ClipRecord {
	t.Helper()
	r, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (f *fixture) remoteText(t *testing.T, id, plain string) models.CloudClip {
	t.Helper()
	ct, err := f.codec.Encrypt(plain)
	require.NoError(t, err)
	return models.CloudClip{ID: id, Type: "text", Content: ct, MD5Str: id + "-md5", DeviceID: "dev-2", Version: 1}
}

func TestRound_PushesMergesAndCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notes, unsub := f.bus.Subscribe(16)
	defer unsub()

	txt := f.insert(t, models.ClipRecord{ID: "t1", Type: models.ClipTypeText, MD5: "m1", Content: "ct"})
	img := f.insert(t, models.ClipRecord{ID: "i1", Type: models.ClipTypeImage, MD5: "m2"})
	f.insert(t, models.ClipRecord{ID: "s1", Type: models.ClipTypeFile, MD5: "m3", SyncFlag: models.SkipSync})
	f.server.deltas = []models.CloudClip{f.remoteText(t, "r1", "remote words")}

	res, err := f.scheduler(f.rm).Round(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Pushed: 2, Inserted: 1, Watermark: 1000}, res)

	require.Len(t, f.server.requests, 1)
	req := f.server.requests[0]
	assert.Equal(t, int64(0), req.LastSyncTime)
	assert.Equal(t, int64(1000), req.Timestamp)
	assert.Equal(t, "dev-1", req.DeviceID)
	assert.Len(t, req.Clips, 2)

	assert.Equal(t, models.Synchronized, f.get(t, txt.ID).SyncFlag)
	assert.Equal(t, models.Synchronizing, f.get(t, img.ID).SyncFlag)
	assert.Equal(t, int64(1000), f.get(t, img.ID).SyncTime)
	assert.Equal(t, models.SkipSync, f.get(t, "s1").SyncFlag)

	remote := f.get(t, "r1")
	assert.Equal(t, models.Synchronized, remote.SyncFlag)
	assert.Equal(t, models.SourceCloud, remote.CloudSource)
	assert.Equal(t, int64(3), remote.Sort)
	assert.Equal(t, []string{"r1"}, f.index.Search("remote"))

	assert.Equal(t, int64(1000), f.watermark(t))

	var kinds []events.Kind
	for len(notes) > 0 {
		kinds = append(kinds, (<-notes).Kind)
	}
	assert.Contains(t, kinds, events.ClipChanged)
	assert.Contains(t, kinds, events.SyncStatusChanged)
}

func TestRound_RemoteDeleteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := filepath.Join(f.layout.ResourcesDir(), "pic.png")
	require.NoError(t, os.WriteFile(path, []byte{1}, 0o600))
	img := f.insert(t, models.ClipRecord{ID: "i1", Type: models.ClipTypeImage, MD5: "m-img", LocalFilePath: path, SyncFlag: models.Synchronized})
	txt := f.insert(t, models.ClipRecord{ID: "t1", Type: models.ClipTypeText, MD5: "m-txt", SyncFlag: models.Synchronized})
	f.index.Add(txt.ID, "doomed text")

	f.server.deltas = []models.CloudClip{
		{ID: "other-id", Type: "image", MD5Str: "m-img", DelFlag: 1},
		{ID: "t1", Type: "text", MD5Str: "m-txt", DelFlag: 1, SyncTime: 950},
		{ID: "ghost", Type: "text", MD5Str: "never-seen", DelFlag: 1},
	}
	res, err := f.scheduler(f.rm).Round(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Inserted)

	for id, ts := range map[string]int64{img.ID: 1000, txt.ID: 950} {
		r := f.get(t, id)
		assert.True(t, r.Deleted)
		assert.Equal(t, models.Synchronized, r.SyncFlag)
		assert.Equal(t, ts, r.SyncTime, "remote time wins, server time when absent")
	}
	_, err = f.repo.GetByID(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.NoFileExists(t, path)
	assert.False(t, f.index.Contains(txt.ID))
}

func TestRound_LocalWinsOverRemoteAdd(t *testing.T) {
	f := newFixture(t)
	local := f.insert(t, models.ClipRecord{ID: "mine", Type: models.ClipTypeText, MD5: "same", Content: "local", SyncFlag: models.Synchronized})

	remote := models.CloudClip{ID: "theirs", Type: "text", MD5Str: "same", Content: "remote", Version: 9}
	f.server.deltas = []models.CloudClip{remote, remote}

	res, err := f.scheduler(f.rm).Round(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	got := f.get(t, local.ID)
	assert.Equal(t, "local", got.Content)
	n, err := f.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRound_RemoteDeltaAppliedTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	f.server.deltas = []models.CloudClip{f.remoteText(t, "r1", "once")}
	s := f.scheduler(f.rm)

	_, err := s.Round(context.Background())
	require.NoError(t, err)
	f.server.now = 2000
	res, err := s.Round(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	n, err := f.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRound_WatermarkIsMonotonic(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(f.rm)

	prev := int64(0)
	for _, now := range []int64{100, 200, 150, 300} {
		f.server.now = now
		res, err := s.Round(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Watermark, prev)
		assert.Equal(t, res.Watermark, f.watermark(t))
		prev = res.Watermark
	}
	assert.Equal(t, int64(300), prev)
	assert.Equal(t, int64(200), f.server.requests[3].LastSyncTime)
}

func TestRound_MergeFailureRetriesSameSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.insert(t, models.ClipRecord{ID: "t1", Type: models.ClipTypeText, MD5: "m1"})
	f.server.deltas = []models.CloudClip{f.remoteText(t, "r1", "incoming")}

	_, err := f.scheduler(failingManager{f.rm}).Round(ctx)
	require.Error(t, err)
	assert.Zero(t, f.watermark(t))
	assert.Equal(t, models.NotSynchronized, f.get(t, rec.ID).SyncFlag)

	f.server.now = 2000
	_, err = f.scheduler(f.rm).Round(ctx)
	require.NoError(t, err)

	require.Len(t, f.server.requests, 2)
	for _, req := range f.server.requests {
		assert.Equal(t, int64(0), req.LastSyncTime)
		require.Len(t, req.Clips, 1)
		assert.Equal(t, rec.ID, req.Clips[0].ID)
	}
	assert.Len(t, f.server.stored, 1, "re-push must not create a second remote row")
	assert.Equal(t, models.Synchronized, f.get(t, rec.ID).SyncFlag)
	assert.Equal(t, int64(2000), f.watermark(t))
}

func TestRound_LocalChangeDuringPushIsPushedNextRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	del := f.insert(t, models.ClipRecord{ID: "t1", Type: models.ClipTypeText, MD5: "m1", Content: "ct1", Version: 1})
	keep := f.insert(t, models.ClipRecord{ID: "t2", Type: models.ClipTypeText, MD5: "m2", Content: "ct2", Version: 1})
	f.server.inFlight = func() {
		f.server.inFlight = nil
		require.NoError(t, f.repo.DeleteForSync(ctx, []string{del.ID}))
	}
	s := f.scheduler(f.rm)

	_, err := s.Round(ctx)
	require.NoError(t, err)
	got := f.get(t, del.ID)
	assert.True(t, got.Deleted)
	assert.Equal(t, models.NotSynchronized, got.SyncFlag)
	assert.Equal(t, models.Synchronized, f.get(t, keep.ID).SyncFlag)

	f.server.now = 2000
	res, err := s.Round(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	require.Len(t, f.server.requests, 2)
	require.Len(t, f.server.requests[1].Clips, 1)
	assert.Equal(t, del.ID, f.server.requests[1].Clips[0].ID)
	assert.Equal(t, 1, f.server.requests[1].Clips[0].DelFlag)
	assert.Equal(t, models.Synchronized, f.get(t, del.ID).SyncFlag)
}

func TestRound_ServerTimeFailureAbortsEarly(t *testing.T) {
	f := newFixture(t)
	f.insert(t, models.ClipRecord{ID: "t1", Type: models.ClipTypeText, MD5: "m1"})
	f.server.timeErr = errors.New("connection refused")

	_, err := f.scheduler(f.rm).Round(context.Background())
	require.Error(t, err)
	assert.Zero(t, f.server.calls())
	assert.Zero(t, f.watermark(t))
}

func TestRound_LockBusy(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.lock.TryAcquire())
	defer f.lock.Release()

	_, err := f.scheduler(f.rm).Round(context.Background())
	require.ErrorIs(t, err, common.ErrLockBusy)
	assert.Equal(t, common.KindLock, common.KindOf(err))
	assert.Zero(t, f.server.calls())
}

func TestRun_RoundOnStartAndStop(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(f.rm)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return f.server.calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRun_DisabledDoesNothing(t *testing.T) {
	f := newFixture(t)
	s := New(Deps{DB: f.db, Repos: f.rm, API: f.server, Lock: f.lock},
		Options{Interval: 5 * time.Millisecond, Enabled: func() bool { return false }})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, f.server.calls())
}
