package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/satchelapp/satchel/internal/record"
)

// ErrNotFound is returned when a document does not exist in the requested
// space.
var ErrNotFound = errors.New("document not found")

// Doc is one row of a document space.
type Doc struct {
	OwnerID    string
	Collection string
	ID         string
	UpdatedAt  int64
	Payload    []byte

	// Dirty means a local change has not been pushed to the remote yet.
	Dirty bool
	// Synced means the remote side has held this row at least once.
	Synced bool
}

// DocMeta is the metadata projection of a row plus its sync flags. The
// reconciler needs the flags to tell "created locally, never uploaded"
// apart from "deleted remotely".
type DocMeta struct {
	ID        string
	UpdatedAt int64
	Dirty     bool
	Synced    bool
}

// Meta returns the plain (id, updatedAt) projection.
func (m DocMeta) Meta() record.Metadata {
	return record.Metadata{ID: m.ID, UpdatedAt: m.UpdatedAt}
}

// UpsertLocal applies a locally originated write to the synced space.
//
// Last-write-wins guard: the write is applied only when the incoming
// updated_at is strictly greater than the stored one, so calling it twice
// with the same (id, updatedAt, payload) is a no-op the second time.
//
// When the write applies, the row is marked dirty and an upsert op is
// queued in the journal (deduplicated per document). Returns true if the
// stored value changed.
func (db *DB) UpsertLocal(ctx context.Context, doc *Doc) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (owner_id, collection, id, updated_at, payload, dirty, synced)
		VALUES (?, ?, ?, ?, ?, 1, 0)
		ON CONFLICT(owner_id, collection, id) DO UPDATE SET
			updated_at = excluded.updated_at,
			payload = excluded.payload,
			dirty = 1
		WHERE excluded.updated_at > documents.updated_at`,
		doc.OwnerID, doc.Collection, doc.ID, doc.UpdatedAt, string(doc.Payload))
	if err != nil {
		return false, fmt.Errorf("failed to upsert document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Stale or identical write; nothing stored, nothing journaled.
		return false, nil
	}

	if err := queueOp(ctx, tx, doc.OwnerID, doc.Collection, doc.ID, opUpsert); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return true, nil
}

// UpsertRemote applies a write that arrived from the remote backend (a
// download or a live-update event) to the synced space.
//
// The guard differs from UpsertLocal on timestamp ties: the remote side is
// canonical once synced, so an equal timestamp with a different payload
// still applies. The row comes out clean (dirty=0, synced=1).
// Returns true if the stored value changed.
func (db *DB) UpsertRemote(ctx context.Context, doc *Doc) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO documents (owner_id, collection, id, updated_at, payload, dirty, synced)
		VALUES (?, ?, ?, ?, ?, 0, 1)
		ON CONFLICT(owner_id, collection, id) DO UPDATE SET
			updated_at = excluded.updated_at,
			payload = excluded.payload,
			dirty = 0,
			synced = 1
		WHERE excluded.updated_at > documents.updated_at
		   OR (excluded.updated_at = documents.updated_at AND excluded.payload <> documents.payload)`,
		doc.OwnerID, doc.Collection, doc.ID, doc.UpdatedAt, string(doc.Payload))
	if err != nil {
		return false, fmt.Errorf("failed to apply remote document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkSynced clears the dirty flag after a successful upload, but only if
// the row has not been modified again since (updated_at must still match).
func (db *DB) MarkSynced(ctx context.Context, ownerID, collection, id string, updatedAt int64) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE documents SET dirty = 0, synced = 1
		WHERE owner_id = ? AND collection = ? AND id = ? AND updated_at = ?`,
		ownerID, collection, id, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to mark document synced: %w", err)
	}
	return nil
}

// Rekey atomically replaces a locally generated id with the backend-assigned
// id after the first successful upload. Exactly one row exists under newID
// afterwards (none if the record was deleted concurrently).
//
// The old row is re-read inside the transaction: seenAt is the timestamp the
// uploader snapshotted, and a local write may have landed since. If the
// stored row advanced past seenAt, the current payload moves to the new id
// as a dirty pending change with its upsert re-queued, so the later edit is
// uploaded instead of being overwritten by the snapshot. If the row is gone,
// the record was deleted while uploading; the delete is queued against the
// new id so the fresh remote copy is removed too.
func (db *DB) Rekey(ctx context.Context, ownerID, collection, oldID, newID string, payload []byte, updatedAt, seenAt int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var curUpdated int64
	var curPayload string
	err = tx.QueryRowContext(ctx,
		`SELECT updated_at, payload FROM documents WHERE owner_id = ? AND collection = ? AND id = ?`,
		ownerID, collection, oldID).Scan(&curUpdated, &curPayload)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read old id %s: %w", oldID, err)
	}
	rowExists := err == nil

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE owner_id = ? AND collection = ? AND id = ?`,
		ownerID, collection, oldID); err != nil {
		return fmt.Errorf("failed to remove old id %s: %w", oldID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM journal WHERE owner_id = ? AND collection = ? AND doc_id = ?`,
		ownerID, collection, oldID); err != nil {
		return fmt.Errorf("failed to drop journal ops for %s: %w", oldID, err)
	}

	switch {
	case !rowExists:
		// Deleted locally while uploading. Remote just stored a copy under
		// newID; queue its removal rather than resurrecting the row.
		if err := queueOp(ctx, tx, ownerID, collection, newID, opDelete); err != nil {
			return err
		}

	case curUpdated > seenAt:
		// Edited while uploading. The edit is the later write; keep it
		// under the new id as a pending change. The stored timestamp never
		// falls below the remote's, so the re-upload wins the comparison.
		ts := curUpdated
		if updatedAt > ts {
			ts = updatedAt
		}
		if err := insertRekeyed(ctx, tx, ownerID, collection, newID,
			ts, rewriteIDField([]byte(curPayload), newID), true); err != nil {
			return err
		}
		if err := queueOp(ctx, tx, ownerID, collection, newID, opUpsert); err != nil {
			return err
		}

	default:
		if err := insertRekeyed(ctx, tx, ownerID, collection, newID,
			updatedAt, payload, false); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rekey: %w", err)
	}
	return nil
}

func insertRekeyed(ctx context.Context, tx *sql.Tx, ownerID, collection, id string, updatedAt int64, payload []byte, dirty bool) error {
	d := 0
	if dirty {
		d = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (owner_id, collection, id, updated_at, payload, dirty, synced)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(owner_id, collection, id) DO UPDATE SET
			updated_at = excluded.updated_at,
			payload = excluded.payload,
			dirty = excluded.dirty,
			synced = 1`,
		ownerID, collection, id, updatedAt, string(payload), d); err != nil {
		return fmt.Errorf("failed to insert rekeyed document %s: %w", id, err)
	}
	return nil
}

// rewriteIDField updates the record's embedded id to match its new storage
// key. A payload that does not decode is stored unchanged.
func rewriteIDField(payload []byte, id string) []byte {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload
	}
	fields["id"] = id
	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}

// GetDoc fetches a single document from the synced space.
// Returns ErrNotFound if no row exists.
func (db *DB) GetDoc(ctx context.Context, ownerID, collection, id string) (*Doc, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT owner_id, collection, id, updated_at, payload, dirty, synced
		FROM documents
		WHERE owner_id = ? AND collection = ? AND id = ?`,
		ownerID, collection, id)
	return scanDoc(row)
}

// GetDocs fetches the documents with the given ids from the synced space.
// Missing ids are skipped, not errors.
func (db *DB) GetDocs(ctx context.Context, ownerID, collection string, ids []string) ([]*Doc, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, ownerID, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT owner_id, collection, id, updated_at, payload, dirty, synced
		FROM documents
		WHERE owner_id = ? AND collection = ? AND id IN (%s)
		ORDER BY updated_at DESC`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return collectDocs(rows)
}

// ListDocs returns all documents of a collection in the synced space,
// newest first.
func (db *DB) ListDocs(ctx context.Context, ownerID, collection string) ([]*Doc, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT owner_id, collection, id, updated_at, payload, dirty, synced
		FROM documents
		WHERE owner_id = ? AND collection = ?
		ORDER BY updated_at DESC`,
		ownerID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return collectDocs(rows)
}

// ListMetadata returns the metadata projection of every document in the
// collection, including the sync flags the reconciler diffs on.
func (db *DB) ListMetadata(ctx context.Context, ownerID, collection string) ([]DocMeta, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, updated_at, dirty, synced
		FROM documents
		WHERE owner_id = ? AND collection = ?`,
		ownerID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	var metas []DocMeta
	for rows.Next() {
		var m DocMeta
		if err := rows.Scan(&m.ID, &m.UpdatedAt, &m.Dirty, &m.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// DeleteLocal removes documents by id and queues delete ops so the removal
// propagates to the remote backend on the next pass. Ids that were never
// uploaded (locally generated, never synced) are removed without journaling.
// Deleting a non-existent id is a no-op.
func (db *DB) DeleteLocal(ctx context.Context, ownerID, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		var synced bool
		err := tx.QueryRowContext(ctx,
			`SELECT synced FROM documents WHERE owner_id = ? AND collection = ? AND id = ?`,
			ownerID, collection, id).Scan(&synced)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up document %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE owner_id = ? AND collection = ? AND id = ?`,
			ownerID, collection, id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}

		// Drop any queued upsert for the id; it no longer has a payload.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM journal WHERE owner_id = ? AND collection = ? AND doc_id = ? AND op = 'upsert'`,
			ownerID, collection, id); err != nil {
			return fmt.Errorf("failed to drop journal upserts for %s: %w", id, err)
		}

		if synced && !record.IsLocalID(id) {
			if err := queueOp(ctx, tx, ownerID, collection, id, opDelete); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// DeleteAllLocal removes every document of the collection, journaling
// deletes for the rows the remote side still holds.
func (db *DB) DeleteAllLocal(ctx context.Context, ownerID, collection string) error {
	metas, err := db.ListMetadata(ctx, ownerID, collection)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	return db.DeleteLocal(ctx, ownerID, collection, ids...)
}

// ApplyRemoteDelete removes a document because the remote side deleted it.
// No journal entry is queued; the remote already lacks the row.
// Returns true if a row was removed.
func (db *DB) ApplyRemoteDelete(ctx context.Context, ownerID, collection, id string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE owner_id = ? AND collection = ? AND id = ?`,
		ownerID, collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to apply remote delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func scanDoc(row *sql.Row) (*Doc, error) {
	var d Doc
	var payload string
	err := row.Scan(&d.OwnerID, &d.Collection, &d.ID, &d.UpdatedAt, &payload, &d.Dirty, &d.Synced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	d.Payload = []byte(payload)
	return &d, nil
}

func collectDocs(rows *sql.Rows) ([]*Doc, error) {
	var docs []*Doc
	for rows.Next() {
		var d Doc
		var payload string
		if err := rows.Scan(&d.OwnerID, &d.Collection, &d.ID, &d.UpdatedAt, &payload, &d.Dirty, &d.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.Payload = []byte(payload)
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// nowMillis is separated for clarity at call sites that stamp journal rows.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
