// Package filesync uploads the binaries of Image and File clips whose
// metadata already reached the server, and downloads the binaries of clips
// that arrived from other devices.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/client"
	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/clips"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	ModeSingle   Mode = "single"
	ModeParallel Mode = "parallel"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultBatch       = 10
	DefaultConcurrency = 3
	DefaultRetryBase   = 500 * time.Millisecond
	DefaultRetryCap    = 10 * time.Second
	DefaultMaxRetries  = 3
)

// ParseMode accepts "single" and "parallel".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSingle, ModeParallel:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown file sync mode %q", s)
	}
}

type API interface {
	Upload(ctx context.Context, req client.UploadRequest) (int64, error)
	DownloadURL(ctx context.Context, md5, clipType string) (*models.DownloadURLResponse, error)
	Download(ctx context.Context, url string, w io.Writer) error
}

// urlForgetter is implemented by clients that cache download URLs.
type urlForgetter interface {
	ForgetDownloadURL(md5, clipType string)
}

type Options struct {
	Interval    time.Duration
	Mode        Mode
	Batch       int
	Concurrency int
	SizeLimit   int64
	Layout      filex.Layout
	Enabled     func() bool

	RetryBase  time.Duration
	RetryCap   time.Duration
	MaxRetries uint64
}

type Scheduler struct {
	repo     clips.Repository
	api      API
	notifier events.Notifier
	opts     Options
	log      logging.Logger
}

func New(repo clips.Repository, api API, notifier events.Notifier, opts Options, log logging.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Mode == "" {
		opts.Mode = ModeSingle
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultBatch
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = DefaultRetryCap
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Enabled == nil {
		opts.Enabled = func() bool { return true }
	}
	if notifier == nil {
		notifier = events.Nop{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{repo: repo, api: api, notifier: notifier, opts: opts, log: log.With("component", "filesync")}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.opts.Enabled() {
				continue
			}
			if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn(ctx, "file sync tick", "error", err)
			}
		}
	}
}

// Tick uploads pending binaries and then fetches missing remote ones. In
// single mode at most one of each is handled per tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	limit := 1
	if s.opts.Mode == ModeParallel {
		limit = s.opts.Batch
	}

	pending, err := s.repo.SelectBySyncFlag(ctx, models.Synchronizing, clips.SelectOptions{
		Locality: clips.LocalOnly,
		Types:    []models.ClipType{models.ClipTypeImage, models.ClipTypeFile},
		Limit:    limit,
	})
	if err != nil {
		return err
	}
	s.each(ctx, pending, s.upload)

	missing, err := s.repo.SelectMissingLocalFiles(ctx, limit)
	if err != nil {
		return err
	}
	s.each(ctx, missing, s.download)
	return nil
}

// each applies fn to recs, sequentially in single mode and through a
// bounded group in parallel mode. fn handles its own errors.
func (s *Scheduler) each(ctx context.Context, recs []models.ClipRecord, fn func(context.Context, models.ClipRecord)) {
	if s.opts.Mode != ModeParallel || len(recs) < 2 {
		for _, r := range recs {
			if ctx.Err() != nil {
				return
			}
			fn(ctx, r)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, r := range recs {
		g.Go(func() error {
			fn(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) backoff() retry.Backoff {
	b := retry.NewExponential(s.opts.RetryBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(s.opts.RetryCap, b)
	return retry.WithMaxRetries(s.opts.MaxRetries, b)
}

// withRetry retries fn while it fails with a transient error.
func (s *Scheduler) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if client.IsTransient(err) {
			s.log.Debug(ctx, "retrying", "op", op, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Scheduler) upload(ctx context.Context, rec models.ClipRecord) {
	if err := s.checkUploadable(rec); err != nil {
		s.log.Warn(ctx, "binary not uploadable", "id", rec.ID, "error", err)
		s.setFlag(ctx, rec.ID, models.SkipSync, rec.SyncTime)
		return
	}

	var ts int64
	err := s.withRetry(ctx, "upload", func(ctx context.Context) error {
		var err error
		ts, err = s.api.Upload(ctx, client.UploadRequest{
			Path: rec.LocalFilePath,
			MD5:  rec.MD5,
			Type: rec.Type,
			Name: uploadName(rec),
		})
		return err
	})

	switch {
	case err == nil:
		s.setFlag(ctx, rec.ID, models.Synchronized, ts)
	case ctx.Err() != nil:
	case client.IsTransient(err), errors.Is(err, common.ErrAuthExpired):
		// stays Synchronizing for a later tick
		s.log.Warn(ctx, "upload deferred", "id", rec.ID, "error", err)
	default:
		s.log.Warn(ctx, "upload rejected", "id", rec.ID, "error", err)
		s.setFlag(ctx, rec.ID, models.SkipSync, rec.SyncTime)
	}
}

func (s *Scheduler) checkUploadable(rec models.ClipRecord) error {
	if rec.IsMultiFile() {
		return errors.New("multi-file clip")
	}
	info, err := os.Stat(rec.LocalFilePath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", rec.LocalFilePath)
	}
	if s.opts.SizeLimit > 0 && info.Size() > s.opts.SizeLimit {
		return fmt.Errorf("%d bytes exceeds the %d byte limit", info.Size(), s.opts.SizeLimit)
	}
	return nil
}

func uploadName(rec models.ClipRecord) string {
	if rec.Type == models.ClipTypeFile && rec.Content != "" {
		return rec.Content
	}
	return filepath.Base(rec.LocalFilePath)
}

func (s *Scheduler) setFlag(ctx context.Context, id string, flag models.SyncFlag, ts int64) {
	if err := s.repo.UpdateSyncFlag(ctx, []string{id}, flag, ts); err != nil {
		s.log.Error(ctx, "updating sync flag", "id", id, "flag", flag.String(), "error", err)
		return
	}
	s.notifier.SyncStatusChanged(ctx, []string{id}, flag)
}

func (s *Scheduler) download(ctx context.Context, rec models.ClipRecord) {
	dst, err := s.fetch(ctx, rec)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn(ctx, "download failed", "id", rec.ID, "error", err)
		}
		return
	}
	if err := s.repo.UpdateLocalFilePath(ctx, rec.ID, dst); err != nil {
		s.log.Error(ctx, "recording downloaded payload", "id", rec.ID, "error", err)
		_ = filex.RemoveIfExists(dst)
		return
	}
	s.notifier.ClipChanged(ctx, rec.ID)
}

func (s *Scheduler) fetch(ctx context.Context, rec models.ClipRecord) (string, error) {
	var info *models.DownloadURLResponse
	err := s.withRetry(ctx, "download url", func(ctx context.Context) error {
		var err error
		info, err = s.api.DownloadURL(ctx, rec.MD5, string(rec.Type))
		return err
	})
	if err != nil {
		return "", err
	}

	dir := s.opts.Layout.FilesDir()
	name := info.FileName
	if name == "" {
		name = rec.Content
	}
	if rec.Type == models.ClipTypeImage {
		dir = s.opts.Layout.ResourcesDir()
		if name == "" {
			name = "clip.png"
		}
	}
	dst := filepath.Join(dir, filex.GenerateName(time.Now(), name))

	err = s.withRetry(ctx, "download", func(ctx context.Context) error {
		return s.downloadTo(ctx, info.URL, dst)
	})
	if err != nil {
		if f, ok := s.api.(urlForgetter); ok {
			f.ForgetDownloadURL(rec.MD5, string(rec.Type))
		}
		return "", err
	}
	return dst, nil
}

// downloadTo writes url to a temporary sibling of dst and renames it into
// place once complete.
func (s *Scheduler) downloadTo(ctx context.Context, url, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return common.Wrap(common.KindIo, "download", err)
	}
	tmpName := tmp.Name()
	if err := s.api.Download(ctx, url, tmp); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return common.Wrap(common.KindIo, "download", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return common.Wrap(common.KindIo, "download", err)
	}
	return nil
}
