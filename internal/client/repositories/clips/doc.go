// Package clips persists clip records in the local SQLite database.
//
// Records are never hard-deleted: removal sets del_flag so tombstones can be
// pushed to the sync service and matched against remote deltas. The pair
// (type, md5_str) is unique among active rows; a tombstone with the same
// pair is reused in place by UpdateDeletedRecordAsNew.
//
// SQLiteRepository works over dbx.DBTX, so the same code runs against a
// *sql.DB or inside dbx.WithTx.
package clips
