package clips

import (
	"context"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
)

// Locality filters records by origin.
type Locality int

const (
	AnySource Locality = iota
	LocalOnly
	CloudOnly
)

// SelectOptions narrows SelectBySyncFlag.
type SelectOptions struct {
	Locality Locality
	// Types restricts the result to the given clip types when non-empty.
	Types []models.ClipType
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// Repository describes storage operations on clip records.
type Repository interface {
	// Insert stores a new record. Violating the active (type, md5) uniqueness
	// is an error.
	Insert(ctx context.Context, r *models.ClipRecord) error

	// GetByID returns a record regardless of its deletion state, or
	// common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.ClipRecord, error)

	// SelectByIDs returns the active records among ids, newest first.
	SelectByIDs(ctx context.Context, ids []string) ([]models.ClipRecord, error)

	// SelectByTypeAndHash is the dedup lookup. Active rows come before
	// tombstones.
	SelectByTypeAndHash(ctx context.Context, t models.ClipType, md5 string) ([]models.ClipRecord, error)

	UpdateSort(ctx context.Context, id string, sort int64) error
	UpdateSyncFlag(ctx context.Context, ids []string, flag models.SyncFlag, syncTime int64) error

	// MarkPushed sets flag on the record only while it still matches the
	// pushed snapshot (sync flag, deletion state, version and content). It
	// reports false when the record changed after the snapshot was read,
	// which leaves the newer change pending for the next push.
	MarkPushed(ctx context.Context, pushed models.ClipRecord, flag models.SyncFlag, syncTime int64) (bool, error)
	UpdateLocalFilePath(ctx context.Context, id, path string) error

	// UpdateDeletedRecordAsNew overwrites a tombstone with r's content and
	// state, keeping its id, and clears del_flag.
	UpdateDeletedRecordAsNew(ctx context.Context, id string, r *models.ClipRecord) error

	// SoftDeleteByIDs tombstones records without changing their sync state.
	SoftDeleteByIDs(ctx context.Context, ids []string) error

	// DeleteForSync tombstones records and marks them for the next push.
	DeleteForSync(ctx context.Context, ids []string) error

	// MarkRemoteDeleted applies a remote tombstone to a local record.
	MarkRemoteDeleted(ctx context.Context, id string, syncTime int64) error

	SelectBySyncFlag(ctx context.Context, flag models.SyncFlag, opts SelectOptions) ([]models.ClipRecord, error)

	// SelectOrdered lists active records by sort descending. limit <= 0
	// returns all of them.
	SelectOrdered(ctx context.Context, limit int) ([]models.ClipRecord, error)

	// SelectActive lists every active record of the given types.
	SelectActive(ctx context.Context, types ...models.ClipType) ([]models.ClipRecord, error)

	// SelectPruneCandidates returns up to n of the oldest active unpinned
	// records.
	SelectPruneCandidates(ctx context.Context, n int) ([]models.ClipRecord, error)

	// SelectMissingLocalFiles lists cloud-sourced binaries not yet downloaded.
	SelectMissingLocalFiles(ctx context.Context, limit int) ([]models.ClipRecord, error)

	SetPinned(ctx context.Context, id string, pinned bool) error

	// Count returns the number of active records, restricted to types when
	// any are given.
	Count(ctx context.Context, types ...models.ClipType) (int, error)

	// CountUnpinned returns the number of active records subject to retention.
	CountUnpinned(ctx context.Context) (int, error)

	// NextSort returns max(sort)+1 over all rows, or 0 for an empty table.
	NextSort(ctx context.Context) (int64, error)
}
