// Package events delivers status notifications to whatever UI is attached.
// Delivery is best effort: a slow subscriber loses notifications instead of
// stalling capture or sync.
package events

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

type Kind int

const (
	ClipChanged Kind = iota
	SyncStatusChanged
	AuthExpired
)

func (k Kind) String() string {
	switch k {
	case ClipChanged:
		return "clip_changed"
	case SyncStatusChanged:
		return "sync_status_changed"
	case AuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

type Notification struct {
	Kind Kind
	IDs  []string
	Flag models.SyncFlag
}

// Notifier is implemented by UI adapters.
type Notifier interface {
	ClipChanged(ctx context.Context, id string)
	SyncStatusChanged(ctx context.Context, ids []string, flag models.SyncFlag)
	AuthExpired(ctx context.Context)
}

// Bus fans notifications out to channel subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Notification]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Notification]struct{})}
}

// Subscribe returns a channel receiving future notifications and a function
// that detaches it.
func (b *Bus) Subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *Bus) publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Close detaches and closes every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

func (b *Bus) ClipChanged(_ context.Context, id string) {
	b.publish(Notification{Kind: ClipChanged, IDs: []string{id}})
}

func (b *Bus) SyncStatusChanged(_ context.Context, ids []string, flag models.SyncFlag) {
	b.publish(Notification{Kind: SyncStatusChanged, IDs: append([]string(nil), ids...), Flag: flag})
}

func (b *Bus) AuthExpired(context.Context) {
	b.publish(Notification{Kind: AuthExpired})
}

// Logging writes notifications to a logger at debug level, auth expiry at warn.
type Logging struct {
	Log logging.Logger
}

func (l Logging) ClipChanged(ctx context.Context, id string) {
	l.Log.Debug(ctx, "clip changed", "id", id)
}

func (l Logging) SyncStatusChanged(ctx context.Context, ids []string, flag models.SyncFlag) {
	l.Log.Debug(ctx, "sync status changed", "count", len(ids), "flag", flag.String())
}

func (l Logging) AuthExpired(ctx context.Context) {
	l.Log.Warn(ctx, "authentication expired, cloud sync disabled")
}

// Multi forwards to several notifiers.
type Multi []Notifier

func (m Multi) ClipChanged(ctx context.Context, id string) {
	for _, n := range m {
		n.ClipChanged(ctx, id)
	}
}

func (m Multi) SyncStatusChanged(ctx context.Context, ids []string, flag models.SyncFlag) {
	for _, n := range m {
		n.SyncStatusChanged(ctx, ids, flag)
	}
}

func (m Multi) AuthExpired(ctx context.Context) {
	for _, n := range m {
		n.AuthExpired(ctx)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) ClipChanged(context.Context, string)                          {}
func (Nop) SyncStatusChanged(context.Context, []string, models.SyncFlag) {}
func (Nop) AuthExpired(context.Context)                                  {}
