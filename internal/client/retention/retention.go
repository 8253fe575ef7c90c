// Package retention enforces the maximum history size.
package retention

import (
	"context"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/clips"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

// IndexRemover drops ids from the search index.
type IndexRemover interface {
	Remove(ids ...string)
}

// Pruner tombstones the oldest unpinned records beyond MaxRecords.
type Pruner struct {
	repo       clips.Repository
	index      IndexRemover
	layout     filex.Layout
	maxRecords func() int
	log        logging.Logger
}

// NewPruner builds a Pruner. maxRecords is read on every Clean so settings
// changes apply without a restart; a value <= 0 disables pruning.
func NewPruner(repo clips.Repository, index IndexRemover, layout filex.Layout, maxRecords func() int, log logging.Logger) *Pruner {
	return &Pruner{repo: repo, index: index, layout: layout, maxRecords: maxRecords, log: log}
}

// Clean removes the excess and returns the pruned records. Pinned records
// are never selected and do not count toward the limit, so afterwards at
// most MaxRecords unpinned records remain.
func (p *Pruner) Clean(ctx context.Context) ([]models.ClipRecord, error) {
	limit := p.maxRecords()
	if limit <= 0 {
		return nil, nil
	}
	n, err := p.repo.CountUnpinned(ctx)
	if err != nil {
		return nil, err
	}
	excess := n - limit
	if excess <= 0 {
		return nil, nil
	}

	victims, err := p.repo.SelectPruneCandidates(ctx, excess)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(victims))
	for _, v := range victims {
		ids = append(ids, v.ID)
	}
	if err := p.repo.SoftDeleteByIDs(ctx, ids); err != nil {
		return nil, err
	}

	for _, v := range victims {
		p.removePayload(ctx, v)
	}
	if p.index != nil {
		p.index.Remove(ids...)
	}
	p.log.Info(ctx, "pruned history", "removed", len(ids), "limit", limit)
	return victims, nil
}

// removePayload deletes binaries this installation owns. Originals that were
// never copied are left alone.
func (p *Pruner) removePayload(ctx context.Context, r models.ClipRecord) {
	if !r.Type.HasBinary() || r.IsMultiFile() || r.LocalFilePath == "" {
		return
	}
	if !p.layout.IsManaged(r.LocalFilePath) {
		return
	}
	if err := filex.RemoveIfExists(r.LocalFilePath); err != nil {
		p.log.Warn(ctx, "removing pruned payload", "id", r.ID, "path", r.LocalFilePath, "error", err)
	}
}
