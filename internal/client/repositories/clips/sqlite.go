package clips

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/dbx"
)

const columns = `id, type, content, md5_str, created, sort, pinned_flag, sync_flag,
	sync_time, device_id, version, del_flag, local_file_path, cloud_source`

// SQLiteRepository implements Repository over a DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.ClipRecord, error) {
	var (
		r                     models.ClipRecord
		typ                   string
		pinned, deleted, flag int
		source                int
	)
	err := s.Scan(&r.ID, &typ, &r.Content, &r.MD5, &r.Created, &r.Sort, &pinned, &flag,
		&r.SyncTime, &r.DeviceID, &r.Version, &deleted, &r.LocalFilePath, &source)
	if err != nil {
		return r, err
	}
	r.Type = models.ParseClipType(typ)
	r.Pinned = pinned != 0
	r.Deleted = deleted != 0
	r.SyncFlag = models.SyncFlag(flag)
	r.CloudSource = models.CloudSource(source)
	return r, nil
}

func (r *SQLiteRepository) query(ctx context.Context, op, query string, args ...any) ([]models.ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Wrap(common.KindDatabase, op, err)
	}
	defer rows.Close()

	var result []models.ClipRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, common.Wrap(common.KindDatabase, op, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Wrap(common.KindDatabase, op, err)
	}
	return result, nil
}

func (r *SQLiteRepository) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, common.Wrap(common.KindDatabase, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, common.Wrap(common.KindDatabase, op, err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []string, prefix ...any) []any {
	args := append([]any(nil), prefix...)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.ClipRecord) error {
	query := `INSERT INTO clip_record (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.exec(ctx, "insert clip", query,
		rec.ID, string(rec.Type), rec.Content, rec.MD5, rec.Created, rec.Sort,
		boolInt(rec.Pinned), int(rec.SyncFlag), rec.SyncTime, rec.DeviceID, rec.Version,
		boolInt(rec.Deleted), rec.LocalFilePath, int(rec.CloudSource))
	return err
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.ClipRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM clip_record WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, common.Wrap(common.KindDatabase, "get clip", err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) SelectByIDs(ctx context.Context, ids []string) ([]models.ClipRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + columns + ` FROM clip_record
		WHERE del_flag = 0 AND id IN (` + placeholders(len(ids)) + `)
		ORDER BY sort DESC`
	return r.query(ctx, "select clips by ids", query, idArgs(ids)...)
}

func (r *SQLiteRepository) SelectByTypeAndHash(ctx context.Context, t models.ClipType, md5 string) ([]models.ClipRecord, error) {
	query := `SELECT ` + columns + ` FROM clip_record
		WHERE type = ? AND md5_str = ?
		ORDER BY del_flag ASC, sort DESC`
	return r.query(ctx, "select clips by hash", query, string(t), md5)
}

func (r *SQLiteRepository) UpdateSort(ctx context.Context, id string, sort int64) error {
	n, err := r.exec(ctx, "update sort", `UPDATE clip_record SET sort = ? WHERE id = ?`, sort, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) UpdateSyncFlag(ctx context.Context, ids []string, flag models.SyncFlag, syncTime int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE clip_record SET sync_flag = ?, sync_time = ?
		WHERE id IN (` + placeholders(len(ids)) + `)`
	_, err := r.exec(ctx, "update sync flag", query, idArgs(ids, int(flag), syncTime)...)
	return err
}

func (r *SQLiteRepository) MarkPushed(ctx context.Context, pushed models.ClipRecord, flag models.SyncFlag, syncTime int64) (bool, error) {
	query := `UPDATE clip_record SET sync_flag = ?, sync_time = ?
		WHERE id = ? AND sync_flag = ? AND del_flag = ? AND version = ? AND content = ?`
	n, err := r.exec(ctx, "mark pushed", query, int(flag), syncTime,
		pushed.ID, int(pushed.SyncFlag), boolInt(pushed.Deleted), pushed.Version, pushed.Content)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) UpdateLocalFilePath(ctx context.Context, id, path string) error {
	n, err := r.exec(ctx, "update local file path",
		`UPDATE clip_record SET local_file_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) UpdateDeletedRecordAsNew(ctx context.Context, id string, rec *models.ClipRecord) error {
	query := `UPDATE clip_record SET
			content = ?, md5_str = ?, created = ?, sort = ?, pinned_flag = ?, sync_flag = ?,
			sync_time = ?, device_id = ?, version = ?, del_flag = 0, local_file_path = ?,
			cloud_source = ?
		WHERE id = ? AND del_flag = 1`
	n, err := r.exec(ctx, "resurrect clip", query,
		rec.Content, rec.MD5, rec.Created, rec.Sort, boolInt(rec.Pinned), int(rec.SyncFlag),
		rec.SyncTime, rec.DeviceID, rec.Version, rec.LocalFilePath, int(rec.CloudSource), id)
	if err != nil {
		return err
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	rec.ID = id
	rec.Deleted = false
	return nil
}

func (r *SQLiteRepository) SoftDeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE clip_record SET del_flag = 1
		WHERE del_flag = 0 AND id IN (` + placeholders(len(ids)) + `)`
	_, err := r.exec(ctx, "soft delete clips", query, idArgs(ids)...)
	return err
}

func (r *SQLiteRepository) DeleteForSync(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	// skip-sync records never reach the server, so there is nothing to retract
	query := `UPDATE clip_record SET del_flag = 1,
			sync_flag = CASE WHEN sync_flag = ? THEN sync_flag ELSE ? END
		WHERE del_flag = 0 AND id IN (` + placeholders(len(ids)) + `)`
	_, err := r.exec(ctx, "delete clips", query,
		idArgs(ids, int(models.SkipSync), int(models.NotSynchronized))...)
	return err
}

func (r *SQLiteRepository) MarkRemoteDeleted(ctx context.Context, id string, syncTime int64) error {
	query := `UPDATE clip_record SET del_flag = 1, sync_flag = ?, sync_time = ? WHERE id = ?`
	_, err := r.exec(ctx, "apply remote delete", query, int(models.Synchronized), syncTime, id)
	return err
}

func (r *SQLiteRepository) SelectBySyncFlag(ctx context.Context, flag models.SyncFlag, opts SelectOptions) ([]models.ClipRecord, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + columns + ` FROM clip_record WHERE sync_flag = ?`)
	args := []any{int(flag)}

	switch opts.Locality {
	case LocalOnly:
		b.WriteString(` AND cloud_source = ?`)
		args = append(args, int(models.SourceLocal))
	case CloudOnly:
		b.WriteString(` AND cloud_source = ?`)
		args = append(args, int(models.SourceCloud))
	}
	if len(opts.Types) > 0 {
		b.WriteString(` AND type IN (` + placeholders(len(opts.Types)) + `)`)
		for _, t := range opts.Types {
			args = append(args, string(t))
		}
	}
	b.WriteString(` ORDER BY sort ASC`)
	if opts.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}
	return r.query(ctx, "select clips by sync flag", b.String(), args...)
}

func (r *SQLiteRepository) SelectOrdered(ctx context.Context, limit int) ([]models.ClipRecord, error) {
	query := `SELECT ` + columns + ` FROM clip_record WHERE del_flag = 0 ORDER BY sort DESC`
	if limit > 0 {
		return r.query(ctx, "select ordered clips", query+` LIMIT ?`, limit)
	}
	return r.query(ctx, "select ordered clips", query)
}

func (r *SQLiteRepository) SelectActive(ctx context.Context, types ...models.ClipType) ([]models.ClipRecord, error) {
	query := `SELECT ` + columns + ` FROM clip_record WHERE del_flag = 0`
	var args []any
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	return r.query(ctx, "select active clips", query+` ORDER BY sort ASC`, args...)
}

func (r *SQLiteRepository) SelectPruneCandidates(ctx context.Context, n int) ([]models.ClipRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	query := `SELECT ` + columns + ` FROM clip_record
		WHERE del_flag = 0 AND pinned_flag = 0
		ORDER BY sort ASC LIMIT ?`
	return r.query(ctx, "select prune candidates", query, n)
}

func (r *SQLiteRepository) SelectMissingLocalFiles(ctx context.Context, limit int) ([]models.ClipRecord, error) {
	query := `SELECT ` + columns + ` FROM clip_record
		WHERE del_flag = 0 AND cloud_source = ? AND local_file_path = ''
			AND type IN (?, ?)
		ORDER BY sort DESC`
	args := []any{int(models.SourceCloud), string(models.ClipTypeImage), string(models.ClipTypeFile)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, "select missing local files", query, args...)
}

func (r *SQLiteRepository) SetPinned(ctx context.Context, id string, pinned bool) error {
	n, err := r.exec(ctx, "set pinned",
		`UPDATE clip_record SET pinned_flag = ? WHERE id = ? AND del_flag = 0`, boolInt(pinned), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, types ...models.ClipType) (int, error) {
	query := `SELECT COUNT(*) FROM clip_record WHERE del_flag = 0`
	var args []any
	if len(types) > 0 {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	var n int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&n)
	if err != nil {
		return 0, common.Wrap(common.KindDatabase, "count clips", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountUnpinned(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clip_record WHERE del_flag = 0 AND pinned_flag = 0`).Scan(&n)
	if err != nil {
		return 0, common.Wrap(common.KindDatabase, "count unpinned clips", err)
	}
	return n, nil
}

func (r *SQLiteRepository) NextSort(ctx context.Context) (int64, error) {
	var next int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort), -1) + 1 FROM clip_record`).Scan(&next)
	if err != nil {
		return 0, common.Wrap(common.KindDatabase, "next sort", err)
	}
	return next, nil
}
