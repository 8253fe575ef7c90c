// Package cloudsync runs the periodic full reconciliation with the sync
// service: push every unsynchronised record, merge the remote deltas since
// the last watermark and, as the very last step, advance the watermark. A
// round that fails anywhere leaves the watermark alone so the next tick
// repeats it.
package cloudsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/clips"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/clipkeeper/internal/client/synclock"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

const DefaultInterval = 60 * time.Second

// API is the part of the sync service used by a round.
type API interface {
	ServerTime(ctx context.Context) (int64, error)
	CompleteSync(ctx context.Context, req models.CompleteSyncRequest) (*models.CompleteSyncResponse, error)
}

type Index interface {
	Add(id, content string)
	Remove(ids ...string)
}

type Cleaner interface {
	Clean(ctx context.Context) ([]models.ClipRecord, error)
}

type Deps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	API      API
	Lock     *synclock.Lock
	Codec    models.Decrypter
	Index    Index
	Pruner   Cleaner
	Notifier events.Notifier
	Logger   logging.Logger
}

type Options struct {
	Interval time.Duration
	DeviceID string
	Layout   filex.Layout
	Enabled  func() bool
}

// Result summarises a completed round.
type Result struct {
	Pushed    int
	Inserted  int
	Deleted   int
	Watermark int64
}

type Scheduler struct {
	d    Deps
	opts Options
	log  logging.Logger
}

func New(d Deps, opts Options) *Scheduler {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Notifier == nil {
		d.Notifier = events.Nop{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Enabled == nil {
		opts.Enabled = func() bool { return true }
	}
	return &Scheduler{d: d, opts: opts, log: d.Logger.With("component", "cloudsync")}
}

// Run performs a round immediately and then on every tick until ctx is
// done. Round errors are logged; the next tick starts over.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.opts.Enabled() {
		return
	}
	res, err := s.Round(ctx)
	switch {
	case err == nil:
		s.log.Info(ctx, "sync round complete",
			"pushed", res.Pushed, "inserted", res.Inserted, "deleted", res.Deleted, "watermark", res.Watermark)
	case errors.Is(err, common.ErrLockBusy):
		s.log.Debug(ctx, "sync round skipped, lock busy")
	case ctx.Err() != nil:
	default:
		s.log.Error(ctx, "sync round failed", "error", err)
	}
}

// Round performs one reconciliation. It never waits for the sync lock:
// when another sync actor holds it the round returns ErrLockBusy.
func (s *Scheduler) Round(ctx context.Context) (Result, error) {
	var res Result
	err := s.d.Lock.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.round(ctx)
		return err
	})
	return res, err
}

// applied are the effects of a merge to replay outside the transaction.
type applied struct {
	inserted []models.ClipRecord
	deleted  []models.ClipRecord
	marked   map[models.SyncFlag][]string
}

func (s *Scheduler) round(ctx context.Context) (Result, error) {
	var res Result

	watermark, err := s.d.Repos.SyncTime(s.d.DB).Get(ctx)
	if err != nil {
		return res, err
	}
	now, err := s.d.API.ServerTime(ctx)
	if err != nil {
		return res, fmt.Errorf("server time: %w", err)
	}

	pending, err := s.d.Repos.Clips(s.d.DB).SelectBySyncFlag(ctx, models.NotSynchronized, clips.SelectOptions{})
	if err != nil {
		return res, err
	}
	req := models.CompleteSyncRequest{
		Clips:        make([]models.CloudClip, 0, len(pending)),
		Timestamp:    now,
		LastSyncTime: watermark,
		DeviceID:     s.opts.DeviceID,
	}
	for _, r := range pending {
		req.Clips = append(req.Clips, models.ToCloud(r))
	}

	resp, err := s.d.API.CompleteSync(ctx, req)
	if err != nil {
		return res, fmt.Errorf("complete sync: %w", err)
	}
	serverTS := resp.Timestamp
	if serverTS == 0 {
		serverTS = now
	}

	var ap applied
	err = dbx.WithTx(ctx, s.d.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.d.Repos.Clips(tx)
		var err error
		if ap, err = s.merge(ctx, repo, resp.Clips, serverTS); err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		ap.marked, err = s.markPushed(ctx, repo, pending, serverTS)
		return err
	})
	if err != nil {
		return res, err
	}
	s.publish(ctx, ap)

	if s.d.Pruner != nil {
		if _, err := s.d.Pruner.Clean(ctx); err != nil {
			s.log.Warn(ctx, "retention after sync", "error", err)
		}
	}

	// the watermark only moves forward and only after everything above
	// has been committed
	if serverTS < watermark {
		serverTS = watermark
	}
	if err := s.d.Repos.SyncTime(s.d.DB).Set(ctx, serverTS); err != nil {
		return res, err
	}

	res = Result{
		Pushed:    len(pending),
		Inserted:  len(ap.inserted),
		Deleted:   len(ap.deleted),
		Watermark: serverTS,
	}
	return res, nil
}

// merge applies remote deltas. Remote deletes win and carry the remote sync
// time; a remote clip whose (type, md5) is already known locally never
// overwrites the local record.
func (s *Scheduler) merge(ctx context.Context, repo clips.Repository, remote []models.CloudClip, ts int64) (applied, error) {
	var ap applied
	for _, rc := range remote {
		typ := models.ParseClipType(rc.Type)
		if typ == models.ClipTypeUnknown || rc.MD5Str == "" {
			s.log.Debug(ctx, "ignoring remote clip", "id", rc.ID, "type", rc.Type)
			continue
		}
		local, err := repo.SelectByTypeAndHash(ctx, typ, rc.MD5Str)
		if err != nil {
			return ap, err
		}

		if rc.Tombstoned() {
			delTS := rc.SyncTime
			if delTS == 0 {
				delTS = ts
			}
			for _, l := range local {
				if !l.Active() {
					continue
				}
				if err := repo.MarkRemoteDeleted(ctx, l.ID, delTS); err != nil {
					return ap, err
				}
				ap.deleted = append(ap.deleted, l)
			}
			continue
		}
		if len(local) > 0 {
			continue
		}

		if _, err := repo.GetByID(ctx, rc.ID); err == nil {
			s.log.Warn(ctx, "remote clip id already used locally", "id", rc.ID)
			continue
		} else if !errors.Is(err, common.ErrorNotFound) {
			return ap, err
		}

		rec := models.FromCloud(rc)
		sort, err := repo.NextSort(ctx)
		if err != nil {
			return ap, err
		}
		rec.Sort = sort
		rec.SyncFlag = models.Synchronized
		rec.SyncTime = ts
		if err := repo.Insert(ctx, &rec); err != nil {
			return ap, err
		}
		ap.inserted = append(ap.inserted, rec)
	}
	return ap, nil
}

// markPushed records that the pushed set reached the server. A record
// changed locally while the request was in flight keeps its pending state
// and goes out with the next round.
func (s *Scheduler) markPushed(ctx context.Context, repo clips.Repository, pushed []models.ClipRecord, ts int64) (map[models.SyncFlag][]string, error) {
	byFlag := map[models.SyncFlag][]string{}
	for _, r := range pushed {
		f := r.PushedFlag()
		ok, err := repo.MarkPushed(ctx, r, f, ts)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Debug(ctx, "clip changed during push, keeping it pending", "id", r.ID)
			continue
		}
		byFlag[f] = append(byFlag[f], r.ID)
	}
	return byFlag, nil
}

// publish updates the index and the UI after a committed merge.
func (s *Scheduler) publish(ctx context.Context, ap applied) {
	for _, r := range ap.deleted {
		if s.d.Index != nil {
			s.d.Index.Remove(r.ID)
		}
		if r.Type.HasBinary() && !r.IsMultiFile() && s.opts.Layout.IsManaged(r.LocalFilePath) {
			if err := filex.RemoveIfExists(r.LocalFilePath); err != nil {
				s.log.Warn(ctx, "removing payload of remote delete", "id", r.ID, "error", err)
			}
		}
		s.d.Notifier.ClipChanged(ctx, r.ID)
	}

	for _, r := range ap.inserted {
		if s.d.Index != nil {
			if text, ok := s.indexText(ctx, r); ok {
				s.d.Index.Add(r.ID, text)
			}
		}
		s.d.Notifier.ClipChanged(ctx, r.ID)
	}

	for f, ids := range ap.marked {
		s.d.Notifier.SyncStatusChanged(ctx, ids, f)
	}
}

func (s *Scheduler) indexText(ctx context.Context, r models.ClipRecord) (string, bool) {
	switch r.Type {
	case models.ClipTypeText:
		if s.d.Codec == nil {
			return "", false
		}
		sc, err := r.Decode(s.d.Codec)
		if err != nil {
			s.log.Warn(ctx, "remote clip not decryptable", "id", r.ID, "error", err)
			return "", false
		}
		return sc.Text, true
	case models.ClipTypeFile:
		return r.Content, true
	default:
		return "", false
	}
}
