// Package synclock is the process-wide guard that allows at most one actor
// to talk to the sync service at a time. It is only ever try-acquired: a
// caller that loses skips or backs off instead of queueing.
package synclock

import (
	"context"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"golang.org/x/sync/semaphore"
)

type Lock struct {
	sem *semaphore.Weighted
}

func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

func (l *Lock) TryAcquire() bool { return l.sem.TryAcquire(1) }

func (l *Lock) Release() { l.sem.Release(1) }

// Do runs fn while holding the lock, or returns common.ErrLockBusy.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !l.TryAcquire() {
		return common.Wrap(common.KindLock, "sync lock", common.ErrLockBusy)
	}
	defer l.Release()
	return fn(ctx)
}
