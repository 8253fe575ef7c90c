package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/clipkeeper/internal/client/searchindex"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

var indexedTypes = []models.ClipType{models.ClipTypeText, models.ClipTypeFile}

// IndexSource feeds search index rebuilds from the clip store. Text clips
// are indexed by their decrypted content, File clips by their name.
type IndexSource struct {
	DB     *sql.DB
	Repos  repomanager.RepositoryManager
	Codec  models.Decrypter
	Logger logging.Logger
}

func (s IndexSource) Count(ctx context.Context) (int, error) {
	return s.Repos.Clips(s.DB).Count(ctx, indexedTypes...)
}

func (s IndexSource) Documents(ctx context.Context) ([]searchindex.Document, error) {
	recs, err := s.Repos.Clips(s.DB).SelectActive(ctx, indexedTypes...)
	if err != nil {
		return nil, err
	}
	docs := make([]searchindex.Document, 0, len(recs))
	for _, r := range recs {
		text := r.Content
		if r.Type == models.ClipTypeText {
			sc, err := r.Decode(s.Codec)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Warn(ctx, "skipping undecryptable clip", "id", r.ID, "error", err)
				}
				continue
			}
			text = sc.Text
		}
		docs = append(docs, searchindex.Document{ID: r.ID, Text: text})
	}
	return docs, nil
}
