package localdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/satchelapp/satchel/internal/record"
)

// The offline space mirrors the synced space's CRUD without any sync
// bookkeeping: no dirty flags, no journal, no reconciliation. It backs
// storage for users without sync entitlement. Switching entitlement never
// moves rows between spaces implicitly; see the migrate package for the
// explicit one-time upload.

// OfflineUpsert writes a document to the offline space with the same
// last-write-wins guard as UpsertLocal. Returns true if the stored value
// changed.
func (db *DB) OfflineUpsert(ctx context.Context, doc *Doc) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO offline_documents (owner_id, collection, id, updated_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, collection, id) DO UPDATE SET
			updated_at = excluded.updated_at,
			payload = excluded.payload
		WHERE excluded.updated_at > offline_documents.updated_at`,
		doc.OwnerID, doc.Collection, doc.ID, doc.UpdatedAt, string(doc.Payload))
	if err != nil {
		return false, fmt.Errorf("failed to upsert offline document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// OfflineGet fetches a single document from the offline space.
// Returns ErrNotFound if no row exists.
func (db *DB) OfflineGet(ctx context.Context, ownerID, collection, id string) (*Doc, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT owner_id, collection, id, updated_at, payload
		FROM offline_documents
		WHERE owner_id = ? AND collection = ? AND id = ?`,
		ownerID, collection, id)

	var d Doc
	var payload string
	err := row.Scan(&d.OwnerID, &d.Collection, &d.ID, &d.UpdatedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan offline document: %w", err)
	}
	d.Payload = []byte(payload)
	return &d, nil
}

// OfflineList returns all documents of a collection in the offline space,
// newest first.
func (db *DB) OfflineList(ctx context.Context, ownerID, collection string) ([]*Doc, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT owner_id, collection, id, updated_at, payload
		FROM offline_documents
		WHERE owner_id = ? AND collection = ?
		ORDER BY updated_at DESC`,
		ownerID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query offline documents: %w", err)
	}
	defer rows.Close()

	var docs []*Doc
	for rows.Next() {
		var d Doc
		var payload string
		if err := rows.Scan(&d.OwnerID, &d.Collection, &d.ID, &d.UpdatedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan offline document: %w", err)
		}
		d.Payload = []byte(payload)
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// OfflineListMetadata returns the (id, updatedAt) projection of every
// document in the offline-space collection.
func (db *DB) OfflineListMetadata(ctx context.Context, ownerID, collection string) ([]record.Metadata, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, updated_at FROM offline_documents
		WHERE owner_id = ? AND collection = ?`,
		ownerID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query offline metadata: %w", err)
	}
	defer rows.Close()

	var metas []record.Metadata
	for rows.Next() {
		var m record.Metadata
		if err := rows.Scan(&m.ID, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan offline metadata: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// OfflineDelete removes documents by id from the offline space.
// Deleting a non-existent id is a no-op.
func (db *DB) OfflineDelete(ctx context.Context, ownerID, collection string, ids ...string) error {
	for _, id := range ids {
		if _, err := db.conn.ExecContext(ctx,
			`DELETE FROM offline_documents WHERE owner_id = ? AND collection = ? AND id = ?`,
			ownerID, collection, id); err != nil {
			return fmt.Errorf("failed to delete offline document %s: %w", id, err)
		}
	}
	return nil
}

// OfflineDeleteAll removes every document of the collection from the
// offline space.
func (db *DB) OfflineDeleteAll(ctx context.Context, ownerID, collection string) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM offline_documents WHERE owner_id = ? AND collection = ?`,
		ownerID, collection); err != nil {
		return fmt.Errorf("failed to clear offline collection: %w", err)
	}
	return nil
}
