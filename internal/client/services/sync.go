package services

import (
	"context"
	"sync/atomic"
)

// SyncGate answers whether cloud sync may run: the setting must be on and
// the user logged in.
type SyncGate struct {
	enabled  atomic.Bool
	loggedIn func() bool
	onChange func(ctx context.Context, enabled bool) error
}

// NewSyncGate starts with the persisted setting. onChange, if set, persists
// later changes.
func NewSyncGate(enabled bool, loggedIn func() bool, onChange func(ctx context.Context, enabled bool) error) *SyncGate {
	g := &SyncGate{loggedIn: loggedIn, onChange: onChange}
	g.enabled.Store(enabled)
	return g
}

func (g *SyncGate) Enabled() bool {
	if !g.enabled.Load() {
		return false
	}
	return g.loggedIn == nil || g.loggedIn()
}

// Setting reports the stored preference regardless of login state.
func (g *SyncGate) Setting() bool { return g.enabled.Load() }

func (g *SyncGate) Set(ctx context.Context, enabled bool) error {
	if g.enabled.Swap(enabled) == enabled || g.onChange == nil {
		return nil
	}
	return g.onChange(ctx, enabled)
}
