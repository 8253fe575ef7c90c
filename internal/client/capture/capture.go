// Package capture turns clipboard changes into clip records.
//
// Each event is classified, fingerprinted and checked against the store by
// (type, fingerprint). An active match only moves to the top of the
// history, a tombstoned match is revived in place with its old id, and
// anything else is inserted. The dedup check and the write run inside one
// transaction under a mutex so sort values stay monotonic. Index updates run
// on tracked background goroutines, ordered by a ticket taken at capture
// time; Wait drains them on shutdown.
package capture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/clipboard"
	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/fingerprint"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/clipkeeper/internal/client/searchindex"
	"github.com/dmitrijs2005/clipkeeper/internal/client/syncqueue"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	"github.com/google/uuid"
)

// DefaultFileSizeLimit is the largest single file copied into the
// resources tree and offered for upload.
const DefaultFileSizeLimit int64 = 100 << 20

// Outcome is the terminal state of one capture.
type Outcome int

const (
	Skipped Outcome = iota
	Inserted
	Resurrected
	Reordered
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Inserted:
		return "inserted"
	case Resurrected:
		return "resurrected"
	case Reordered:
		return "reordered"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Indexer takes a ticket on the capturing goroutine and applies the add
// later, so removals issued in between win.
type Indexer interface {
	Reserve() searchindex.Ticket
	AddAt(t searchindex.Ticket, id, content string)
}

type Cleaner interface {
	Clean(ctx context.Context) ([]models.ClipRecord, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, e syncqueue.Event) error
}

// Deps are the collaborators of a Trigger. Index, Queue and Notifier are
// optional.
type Deps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Codec    Encrypter
	Hasher   *fingerprint.Hasher
	Pruner   Cleaner
	Index    Indexer
	Queue    Enqueuer
	Notifier events.Notifier
	Logger   logging.Logger
}

type Options struct {
	Layout        filex.Layout
	DeviceID      string
	FileSizeLimit int64
	// SyncEnabled is consulted after every insert or revival.
	SyncEnabled func() bool
	Now         func() time.Time
}

// Trigger is the capture pipeline.
type Trigger struct {
	d     Deps
	opts  Options
	log   logging.Logger
	mu    sync.Mutex
	tasks sync.WaitGroup
}

func New(d Deps, opts Options) *Trigger {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Hasher == nil {
		d.Hasher = fingerprint.New(d.Logger)
	}
	if d.Notifier == nil {
		d.Notifier = events.Nop{}
	}
	if opts.FileSizeLimit <= 0 {
		opts.FileSizeLimit = DefaultFileSizeLimit
	}
	if opts.SyncEnabled == nil {
		opts.SyncEnabled = func() bool { return false }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Trigger{d: d, opts: opts, log: d.Logger.With("component", "capture")}
}

// draft is a record being built plus what has to happen on disk before it
// may be written.
type draft struct {
	rec models.ClipRecord
	// index is the text fed to the search index, empty when not indexed.
	index string
	// materialize writes the payload and fills in the path fields. It runs
	// only when the record is inserted or revived.
	materialize func(ctx context.Context, rec *models.ClipRecord) (written string, err error)
}

// Run captures every event of src until it closes or ctx is done. Failed
// captures are logged and do not stop the loop.
func (t *Trigger) Run(ctx context.Context, src clipboard.Source) error {
	for ev := range src.Subscribe(ctx) {
		outcome, err := t.Handle(ctx, ev)
		if err != nil {
			t.log.Error(ctx, "capture failed", "kind", ev.Kind.String(), "error", err)
			continue
		}
		t.log.Debug(ctx, "captured", "kind", ev.Kind.String(), "outcome", outcome.String())
	}
	return nil
}

// Wait blocks until detached index updates have finished.
func (t *Trigger) Wait() {
	t.tasks.Wait()
}

// Handle captures one clipboard event. Blank text and empty images are
// Skipped without error.
func (t *Trigger) Handle(ctx context.Context, ev clipboard.Event) (Outcome, error) {
	payload, err := ev.Payload()
	if err != nil {
		return Skipped, common.Wrap(common.KindClipboard, "classify", fmt.Errorf("%w: %v", common.ErrUnsupportedKind, err))
	}

	var dr *draft
	switch p := payload.(type) {
	case models.TextPayload:
		dr, err = t.textDraft(models.ClipTypeText, p.Plain)
	case models.RichTextPayload:
		dr, err = t.textDraft(p.Kind, p.Markup)
	case models.ImagePayload:
		dr, err = t.imageDraft(p.Bytes)
	case models.FilePayload:
		dr, err = t.fileDraft(p.Path)
	case models.MultiFilePayload:
		dr, err = t.multiFileDraft(ctx, p.Paths)
	default:
		err = common.Wrap(common.KindClipboard, "classify", common.ErrUnsupportedKind)
	}
	if errors.Is(err, common.ErrEmptyContent) {
		return Skipped, nil
	}
	if err != nil {
		return Skipped, err
	}

	outcome, rec, err := t.store(ctx, dr)
	if err != nil {
		return Skipped, err
	}
	t.after(ctx, outcome, rec, dr.index)
	return outcome, nil
}

func (t *Trigger) newRecord(typ models.ClipType) models.ClipRecord {
	now := t.opts.Now()
	return models.ClipRecord{
		ID:       uuid.NewString(),
		Type:     typ,
		Created:  now.UnixMilli(),
		DeviceID: t.opts.DeviceID,
		Version:  1,
		SyncFlag: models.NotSynchronized,
	}
}

func (t *Trigger) textDraft(typ models.ClipType, plain string) (*draft, error) {
	if strings.TrimSpace(plain) == "" {
		return nil, common.ErrEmptyContent
	}
	ct, err := t.d.Codec.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypting %s clip: %w", typ, err)
	}
	rec := t.newRecord(typ)
	rec.Content = ct
	rec.MD5 = t.d.Hasher.Text(plain)

	dr := &draft{rec: rec}
	if typ == models.ClipTypeText {
		dr.index = plain
	}
	return dr, nil
}

func (t *Trigger) imageDraft(b []byte) (*draft, error) {
	if len(b) == 0 {
		return nil, common.ErrEmptyContent
	}
	rec := t.newRecord(models.ClipTypeImage)
	rec.MD5 = t.d.Hasher.Bytes(b)

	layout := t.opts.Layout
	return &draft{
		rec: rec,
		materialize: func(_ context.Context, rec *models.ClipRecord) (string, error) {
			path := filepath.Join(layout.ResourcesDir(), filex.GenerateName(t.opts.Now(), "clip.png"))
			if err := filex.WriteFileAtomic(path, b, 0o640); err != nil {
				return "", common.Wrap(common.KindIo, "write image", err)
			}
			rec.Content = layout.Rel(path)
			rec.LocalFilePath = path
			return path, nil
		},
	}, nil
}

func (t *Trigger) fileDraft(path string) (*draft, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, common.Wrap(common.KindIo, "resolve file", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, common.Wrap(common.KindIo, "stat file", err)
	}
	sum, err := t.d.Hasher.File(abs)
	if err != nil {
		return nil, err
	}

	rec := t.newRecord(models.ClipTypeFile)
	rec.MD5 = sum
	rec.Content = filepath.Base(abs)
	rec.LocalFilePath = abs
	dr := &draft{rec: rec, index: rec.Content}

	if info.Size() > t.opts.FileSizeLimit {
		dr.rec.SyncFlag = models.SkipSync
		return dr, nil
	}

	layout := t.opts.Layout
	dr.materialize = func(ctx context.Context, rec *models.ClipRecord) (string, error) {
		dst := filepath.Join(layout.FilesDir(), filex.GenerateName(t.opts.Now(), abs))
		if err := filex.CopyFile(abs, dst); err != nil {
			// keep the clip but pin it to the original location
			t.log.Warn(ctx, "copying file clip", "path", abs, "error", err)
			rec.SyncFlag = models.SkipSync
			rec.LocalFilePath = abs
			return "", nil
		}
		rec.LocalFilePath = dst
		return dst, nil
	}
	return dr, nil
}

func (t *Trigger) multiFileDraft(ctx context.Context, paths []string) (*draft, error) {
	abs := make([]string, 0, len(paths))
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, common.Wrap(common.KindIo, "resolve file", err)
		}
		abs = append(abs, a)
		names = append(names, filepath.Base(a))
	}

	rec := t.newRecord(models.ClipTypeFile)
	rec.MD5 = t.d.Hasher.Files(ctx, abs)
	rec.Content = models.JoinPaths(names)
	rec.LocalFilePath = models.JoinPaths(abs)
	rec.SyncFlag = models.SkipSync
	return &draft{rec: rec, index: strings.Join(names, " ")}, nil
}

// store resolves the draft against existing records and writes it.
func (t *Trigger) store(ctx context.Context, dr *draft) (Outcome, models.ClipRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		outcome Outcome
		written string
	)
	rec := dr.rec
	err := dbx.WithTx(ctx, t.d.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := t.d.Repos.Clips(tx)

		sort, err := repo.NextSort(ctx)
		if err != nil {
			return err
		}
		matches, err := repo.SelectByTypeAndHash(ctx, rec.Type, rec.MD5)
		if err != nil {
			return err
		}

		if len(matches) > 0 && matches[0].Active() {
			outcome = Reordered
			rec = matches[0]
			rec.Sort = sort
			return repo.UpdateSort(ctx, rec.ID, sort)
		}

		rec.Sort = sort
		if dr.materialize != nil {
			if written, err = dr.materialize(ctx, &rec); err != nil {
				return err
			}
		}

		if len(matches) > 0 {
			outcome = Resurrected
			rec.Version = matches[0].Version + 1
			return repo.UpdateDeletedRecordAsNew(ctx, matches[0].ID, &rec)
		}
		outcome = Inserted
		return repo.Insert(ctx, &rec)
	})
	if err != nil {
		if written != "" {
			if rerr := filex.RemoveIfExists(written); rerr != nil {
				t.log.Warn(ctx, "removing orphaned payload", "path", written, "error", rerr)
			}
		}
		return Skipped, models.ClipRecord{}, fmt.Errorf("storing %s clip: %w", rec.Type, err)
	}
	return outcome, rec, nil
}

// after runs the side effects of a stored capture. None of them can fail
// the capture.
func (t *Trigger) after(ctx context.Context, outcome Outcome, rec models.ClipRecord, indexText string) {
	if outcome == Reordered {
		t.d.Notifier.ClipChanged(ctx, rec.ID)
		return
	}

	if t.d.Pruner != nil {
		pruned, err := t.d.Pruner.Clean(ctx)
		if err != nil {
			t.log.Warn(ctx, "retention", "error", err)
		}
		for _, p := range pruned {
			if p.ID == rec.ID {
				return
			}
		}
	}

	if t.d.Index != nil && indexText != "" {
		ticket := t.d.Index.Reserve()
		t.tasks.Add(1)
		go func() {
			defer t.tasks.Done()
			t.d.Index.AddAt(ticket, rec.ID, indexText)
		}()
	}

	t.d.Notifier.ClipChanged(ctx, rec.ID)

	if t.d.Queue != nil && t.opts.SyncEnabled() && rec.SyncEligible() {
		if err := t.d.Queue.Enqueue(ctx, syncqueue.Event{Op: models.SyncOpAdd, Record: rec}); err != nil {
			t.log.Debug(ctx, "sync enqueue", "id", rec.ID, "error", err)
		}
	}
}
