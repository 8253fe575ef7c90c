// Package syncqueue pushes individual clip changes to the sync service soon
// after they happen. Producers never block: when the queue is full the event
// is dropped and the periodic reconciliation picks the record up later.
package syncqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/clips"
	"github.com/dmitrijs2005/clipkeeper/internal/client/synclock"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

const (
	DefaultSize        = 256
	DefaultLockBackoff = 500 * time.Millisecond
)

type Event struct {
	Op     models.SyncOp
	Record models.ClipRecord
}

// Queue is a bounded FIFO with a single consumer.
type Queue struct {
	ch      chan Event
	dropped atomic.Int64
	log     logging.Logger
}

func New(size int, log logging.Logger) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{ch: make(chan Event, size), log: log}
}

// Enqueue adds e without blocking. A full queue drops the event and returns
// common.ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, e Event) error {
	select {
	case q.ch <- e:
		return nil
	default:
		q.dropped.Add(1)
		q.log.Warn(ctx, "sync queue full, dropping event", "id", e.Record.ID, "op", string(e.Op))
		return common.ErrQueueFull
	}
}

func (q *Queue) Len() int { return len(q.ch) }

// Dropped counts events lost to back-pressure.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Pusher is the single-record endpoint.
type Pusher interface {
	SyncSingle(ctx context.Context, req models.SingleSyncRequest) (int64, error)
}

type DrainerOptions struct {
	// Enabled gates pushing; events taken while disabled are discarded.
	Enabled     func() bool
	LockBackoff time.Duration
}

// Drainer consumes a Queue.
type Drainer struct {
	q        *Queue
	lock     *synclock.Lock
	api      Pusher
	repo     clips.Repository
	notifier events.Notifier
	opts     DrainerOptions
	log      logging.Logger
}

func NewDrainer(q *Queue, lock *synclock.Lock, api Pusher, repo clips.Repository, notifier events.Notifier, opts DrainerOptions, log logging.Logger) *Drainer {
	if opts.LockBackoff <= 0 {
		opts.LockBackoff = DefaultLockBackoff
	}
	if opts.Enabled == nil {
		opts.Enabled = func() bool { return true }
	}
	return &Drainer{q: q, lock: lock, api: api, repo: repo, notifier: notifier, opts: opts, log: log.With("component", "syncqueue")}
}

// Run drains the queue until ctx is done.
func (d *Drainer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-d.q.ch:
			if err := d.handle(ctx, e); err != nil && ctx.Err() == nil {
				d.log.Warn(ctx, "single sync failed", "id", e.Record.ID, "op", string(e.Op), "error", err)
			}
		}
	}
}

// handle waits for the sync lock, backing off while a reconciliation round
// holds it, and pushes one event.
func (d *Drainer) handle(ctx context.Context, e Event) error {
	for !d.lock.TryAcquire() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.opts.LockBackoff):
		}
	}
	defer d.lock.Release()

	if !d.opts.Enabled() {
		return nil
	}
	return d.push(ctx, e)
}

func (d *Drainer) push(ctx context.Context, e Event) error {
	rec := e.Record
	current, err := d.repo.GetByID(ctx, rec.ID)
	switch {
	case err == nil:
		rec = *current
	case !errors.Is(err, common.ErrorNotFound):
		return err
	}
	if !rec.SyncEligible() {
		return nil
	}
	// a record deleted after its Add was queued is pushed by its Delete event
	if e.Op == models.SyncOpAdd && rec.Deleted {
		return nil
	}

	ts, err := d.api.SyncSingle(ctx, models.SingleSyncRequest{Type: e.Op, Clip: models.ToCloud(rec)})
	if err != nil {
		return err
	}
	flag := rec.PushedFlag()
	ok, err := d.repo.MarkPushed(ctx, rec, flag, ts)
	if err != nil {
		return err
	}
	if !ok {
		// changed while in flight; the newer state is still pending
		d.log.Debug(ctx, "clip changed during single sync", "id", rec.ID)
		return nil
	}
	d.notifier.SyncStatusChanged(ctx, []string{rec.ID}, flag)
	return nil
}
