// Package searchindex is an in-memory reverse index over clip text with
// bloom-filter gated substring search and debounced on-disk persistence.
package searchindex

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	bloomItems = 1000
	bloomFPR   = 0.01

	DefaultPersistDelay = 2 * time.Second
)

// Options configures an Index.
type Options struct {
	// Path of the persisted index file. Empty disables persistence.
	Path string
	// MaxContentSize skips content longer than this many bytes; 0 is unlimited.
	MaxContentSize int
	// BloomTrustSize: for content longer than this, a filter hit is accepted
	// without the substring check. 0 always checks.
	BloomTrustSize int
	PersistDelay   time.Duration
	Logger         logging.Logger
}

// Document is one indexable record.
type Document struct {
	ID   string
	Text string
}

// Source enumerates indexable records for a rebuild.
type Source interface {
	Count(ctx context.Context) (int, error)
	Documents(ctx context.Context) ([]Document, error)
}

type entry struct {
	content string
	filter  *bloom.BloomFilter
	// gen is the ticket of the mutation that wrote the entry.
	gen uint64
}

// Ticket orders a deferred AddAt against the mutations issued after it was
// taken. Every ticket from Reserve must be passed to exactly one AddAt.
type Ticket uint64

// Index is safe for concurrent use.
type Index struct {
	opts    Options
	log     logging.Logger
	entries cmap.ConcurrentMap[string, *entry]
	version atomic.Uint64
	dirty   atomic.Bool

	// mu orders mutations. removed keeps the ticket of every removal while
	// deferred adds are outstanding so a stale add cannot bring an id back.
	mu          sync.Mutex
	seq         uint64
	outstanding int
	removed     map[string]uint64

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool

	persistMu sync.Mutex
}

// Open creates an index and loads the persisted state at opts.Path, if any.
// An unreadable file is logged and the index starts empty, which makes the
// next RebuildIfNeeded repopulate it.
func Open(opts Options) *Index {
	if opts.PersistDelay <= 0 {
		opts.PersistDelay = DefaultPersistDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	ix := &Index{
		opts:    opts,
		log:     opts.Logger.With("component", "searchindex"),
		entries: cmap.New[*entry](),
		removed: map[string]uint64{},
	}
	if opts.Path != "" {
		if err := ix.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			ix.log.Warn(context.Background(), "discarding unreadable search index", "path", opts.Path, "error", err)
			ix.entries.Clear()
		}
	}
	return ix
}

func newEntry(normalized string) *entry {
	f := bloom.NewWithEstimates(bloomItems, bloomFPR)
	for _, tok := range indexTokens(normalized) {
		f.AddString(tok)
	}
	return &entry{content: normalized, filter: f}
}

// Add indexes content under id, replacing any previous entry. Content above
// MaxContentSize is not indexed.
func (ix *Index) Add(id, content string) {
	ix.AddAt(ix.Reserve(), id, content)
}

// Reserve takes a ticket for an add that will run later, possibly on
// another goroutine.
func (ix *Index) Reserve() Ticket {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.seq++
	ix.outstanding++
	return Ticket(ix.seq)
}

// AddAt is Add ordered at the time t was reserved. It is a no-op when id was
// removed or re-added after that.
func (ix *Index) AddAt(t Ticket, id, content string) {
	gen := uint64(t)
	var e *entry
	if normalized := ix.normalize(content); normalized != "" {
		e = newEntry(normalized)
		e.gen = gen
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	defer ix.release()

	if ix.superseded(id, gen) {
		return
	}
	if e == nil {
		if _, ok := ix.entries.Pop(id); ok {
			ix.removed[id] = gen
			ix.changed()
		}
		return
	}
	delete(ix.removed, id)
	ix.entries.Set(id, e)
	ix.changed()
}

// normalize returns the indexed form of content, or "" when it is not
// indexed.
func (ix *Index) normalize(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	if ix.opts.MaxContentSize > 0 && len(normalized) > ix.opts.MaxContentSize {
		return ""
	}
	return normalized
}

func (ix *Index) superseded(id string, gen uint64) bool {
	if g, ok := ix.removed[id]; ok && g > gen {
		return true
	}
	cur, ok := ix.entries.Get(id)
	return ok && cur.gen > gen
}

// release retires a ticket; mu must be held.
func (ix *Index) release() {
	ix.outstanding--
	if ix.outstanding <= 0 {
		ix.outstanding = 0
		clear(ix.removed)
	}
}

func (ix *Index) Remove(ids ...string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.seq++
	removed := false
	for _, id := range ids {
		if _, ok := ix.entries.Pop(id); ok {
			removed = true
		}
		if ix.outstanding > 0 {
			ix.removed[id] = ix.seq
		}
	}
	if removed {
		ix.changed()
	}
}

func (ix *Index) Len() int { return ix.entries.Count() }

func (ix *Index) Contains(id string) bool { return ix.entries.Has(id) }

// Version is the mutation counter, persisted with the index.
func (ix *Index) Version() uint64 { return ix.version.Load() }

// Search returns the ids whose content contains query, case-insensitively,
// in ascending id order.
func (ix *Index) Search(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	tokens := Tokenize(q)

	var ids []string
	ix.entries.IterCb(func(id string, e *entry) {
		if ix.matches(e, q, tokens) {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

func (ix *Index) matches(e *entry, q string, tokens []string) bool {
	if len(tokens) == 0 {
		return strings.Contains(e.content, q)
	}
	hit := false
	for _, tok := range tokens {
		if e.filter.TestString(tok) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	if ix.opts.BloomTrustSize > 0 && len(e.content) > ix.opts.BloomTrustSize {
		return true
	}
	return strings.Contains(e.content, q)
}

// RebuildIfNeeded repopulates the index from src when it looks stale: empty
// while the store has indexable records, or less than half the store's size.
func (ix *Index) RebuildIfNeeded(ctx context.Context, src Source) (bool, error) {
	n, err := src.Count(ctx)
	if err != nil {
		return false, err
	}
	have := ix.Len()
	if !needsRebuild(have, n) {
		return false, nil
	}
	ix.log.Info(ctx, "rebuilding search index", "indexed", have, "records", n)
	return true, ix.Rebuild(ctx, src)
}

func needsRebuild(indexed, stored int) bool {
	return (indexed == 0 && stored > 0) || stored > 2*indexed
}

// Rebuild discards the index and indexes every document from src, then
// persists immediately.
func (ix *Index) Rebuild(ctx context.Context, src Source) error {
	docs, err := src.Documents(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]*entry, len(docs))
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		normalized := ix.normalize(d.Text)
		if normalized == "" {
			continue
		}
		fresh[d.ID] = newEntry(normalized)
	}

	ix.mu.Lock()
	ix.seq++
	for _, e := range fresh {
		e.gen = ix.seq
	}
	ix.entries.Clear()
	ix.entries.MSet(fresh)
	ix.version.Add(1)
	ix.dirty.Store(true)
	ix.mu.Unlock()
	return ix.Flush()
}

func (ix *Index) changed() {
	ix.version.Add(1)
	ix.dirty.Store(true)
	ix.scheduleSave()
}

// scheduleSave (re)arms the debounce timer. Each call replaces the pending
// write; a write already running finishes first because save holds persistMu.
func (ix *Index) scheduleSave() {
	if ix.opts.Path == "" {
		return
	}
	ix.timerMu.Lock()
	defer ix.timerMu.Unlock()
	if ix.closed {
		return
	}
	if ix.timer != nil {
		ix.timer.Stop()
	}
	ix.timer = time.AfterFunc(ix.opts.PersistDelay, func() {
		if err := ix.save(); err != nil {
			ix.log.Error(context.Background(), "persisting search index", "error", err)
		}
	})
}

func (ix *Index) stopTimer() {
	ix.timerMu.Lock()
	defer ix.timerMu.Unlock()
	if ix.timer != nil {
		ix.timer.Stop()
		ix.timer = nil
	}
}

// Flush cancels any pending debounced write and persists now if there are
// unsaved changes.
func (ix *Index) Flush() error {
	ix.stopTimer()
	return ix.save()
}

// Close flushes and stops further scheduled writes.
func (ix *Index) Close() error {
	ix.timerMu.Lock()
	ix.closed = true
	ix.timerMu.Unlock()
	return ix.Flush()
}
