package synclock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Exclusive(t *testing.T) {
	l := New()
	ctx := context.Background()

	err := l.Do(ctx, func(ctx context.Context) error {
		inner := l.Do(ctx, func(context.Context) error { return nil })
		require.ErrorIs(t, inner, common.ErrLockBusy)
		assert.Equal(t, common.KindLock, common.KindOf(inner))
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	require.ErrorIs(t, l.Do(ctx, func(context.Context) error { return boom }), boom)
	assert.True(t, l.TryAcquire(), "lock is released after an error")
	l.Release()
}

func TestTryAcquire_AtMostOneHolder(t *testing.T) {
	l := New()
	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !l.TryAcquire() {
					continue
				}
				n := holders.Add(1)
				if n > maxHolders.Load() {
					maxHolders.Store(n)
				}
				holders.Add(-1)
				l.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxHolders.Load())
}
