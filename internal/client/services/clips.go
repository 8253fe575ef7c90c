package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/client/events"
	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/clipkeeper/internal/client/syncqueue"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

// ClipService is the user-facing view of the history.
type ClipService interface {
	List(ctx context.Context, limit int) ([]models.ClipView, error)
	Search(ctx context.Context, query string, limit int) ([]models.ClipView, error)
	Get(ctx context.Context, id string) (*models.ClipView, error)
	Delete(ctx context.Context, ids ...string) error
	Pin(ctx context.Context, id string, pinned bool) error
}

// SearchIndex is the part of the index used by the service.
type SearchIndex interface {
	Search(query string) []string
	Remove(ids ...string)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, e syncqueue.Event) error
}

type ClipDeps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Codec    models.Decrypter
	Index    SearchIndex
	Queue    Enqueuer
	Gate     *SyncGate
	Notifier events.Notifier
	Layout   filex.Layout
	Logger   logging.Logger
}

type clipService struct {
	ClipDeps
}

func NewClipService(d ClipDeps) ClipService {
	if d.Notifier == nil {
		d.Notifier = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	return &clipService{ClipDeps: d}
}

func (s *clipService) views(ctx context.Context, recs []models.ClipRecord) []models.ClipView {
	out := make([]models.ClipView, 0, len(recs))
	for _, r := range recs {
		v, err := r.View(s.Codec)
		if err != nil {
			s.Logger.Warn(ctx, "cannot decode clip", "id", r.ID, "error", err)
		}
		out = append(out, v)
	}
	return out
}

func (s *clipService) List(ctx context.Context, limit int) ([]models.ClipView, error) {
	recs, err := s.Repos.Clips(s.DB).SelectOrdered(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing clips: %w", err)
	}
	return s.views(ctx, recs), nil
}

// Search looks the query up in the index and returns the matching active
// clips, newest first. An empty query lists the history.
func (s *clipService) Search(ctx context.Context, query string, limit int) ([]models.ClipView, error) {
	if strings.TrimSpace(query) == "" {
		return s.List(ctx, limit)
	}
	ids := s.Index.Search(query)
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := s.Repos.Clips(s.DB).SelectByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error searching clips: %w", err)
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return s.views(ctx, recs), nil
}

func (s *clipService) Get(ctx context.Context, id string) (*models.ClipView, error) {
	rec, err := s.Repos.Clips(s.DB).GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error retrieving clip: %w", err)
	}
	v, err := rec.View(s.Codec)
	if err != nil {
		return nil, fmt.Errorf("error decoding clip: %w", err)
	}
	return &v, nil
}

// Delete tombstones the clips, marks them for the next push and queues an
// immediate delete when sync is on.
func (s *clipService) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	var deleted []models.ClipRecord
	err := dbx.WithTx(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.Repos.Clips(tx)
		recs, err := repo.SelectByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		live := make([]string, 0, len(recs))
		for _, r := range recs {
			live = append(live, r.ID)
		}
		if err := repo.DeleteForSync(ctx, live); err != nil {
			return err
		}
		// re-read for the tombstoned state the push has to carry
		for _, id := range live {
			r, err := repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			deleted = append(deleted, *r)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error deleting clips: %w", err)
	}

	removed := make([]string, 0, len(deleted))
	for _, r := range deleted {
		removed = append(removed, r.ID)
		if r.Type.HasBinary() && !r.IsMultiFile() && s.Layout.IsManaged(r.LocalFilePath) {
			if err := filex.RemoveIfExists(r.LocalFilePath); err != nil {
				s.Logger.Warn(ctx, "removing payload", "id", r.ID, "error", err)
			}
		}
		s.Notifier.ClipChanged(ctx, r.ID)
		if s.Queue != nil && s.Gate != nil && s.Gate.Enabled() && r.SyncEligible() {
			if err := s.Queue.Enqueue(ctx, syncqueue.Event{Op: models.SyncOpDelete, Record: r}); err != nil {
				s.Logger.Debug(ctx, "sync enqueue", "id", r.ID, "error", err)
			}
		}
	}
	if s.Index != nil {
		s.Index.Remove(removed...)
	}
	return nil
}

func (s *clipService) Pin(ctx context.Context, id string, pinned bool) error {
	if err := s.Repos.Clips(s.DB).SetPinned(ctx, id, pinned); err != nil {
		return fmt.Errorf("error pinning clip: %w", err)
	}
	s.Notifier.ClipChanged(ctx, id)
	return nil
}
