package localdb

import (
	"context"
	"database/sql"
	"fmt"
)

// Journal op kinds. An upsert op means "push the current payload of doc_id";
// a delete op means "delete doc_id on the remote". Upserts are deduplicated
// per document because the push always reads the latest stored payload.
const (
	opUpsert = "upsert"
	opDelete = "delete"
)

// JournalOp is one pending local mutation waiting to be pushed.
type JournalOp struct {
	Seq        int64
	OwnerID    string
	Collection string
	DocID      string
	Op         string
	QueuedAt   int64
	Attempts   int
	LastError  string
}

// IsUpsert reports whether the op pushes a payload (as opposed to a delete).
func (op JournalOp) IsUpsert() bool { return op.Op == opUpsert }

// queueOp appends a journal entry inside an existing transaction.
// Upsert ops are deduplicated: a second local edit before the push just
// rides along with the already-queued op.
func queueOp(ctx context.Context, tx *sql.Tx, ownerID, collection, docID, op string) error {
	if op == opUpsert {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM journal
				WHERE owner_id = ? AND collection = ? AND doc_id = ? AND op = 'upsert')`,
			ownerID, collection, docID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check journal: %w", err)
		}
		if exists {
			return nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO journal (owner_id, collection, doc_id, op, queued_at)
		VALUES (?, ?, ?, ?, ?)`,
		ownerID, collection, docID, op, nowMillis()); err != nil {
		return fmt.Errorf("failed to queue journal op: %w", err)
	}
	return nil
}

// PendingOps returns the queued ops for one collection in queue order.
func (db *DB) PendingOps(ctx context.Context, ownerID, collection string) ([]JournalOp, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, owner_id, collection, doc_id, op, queued_at, attempts, last_error
		FROM journal
		WHERE owner_id = ? AND collection = ?
		ORDER BY seq`,
		ownerID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var ops []JournalOp
	for rows.Next() {
		var op JournalOp
		if err := rows.Scan(&op.Seq, &op.OwnerID, &op.Collection, &op.DocID,
			&op.Op, &op.QueuedAt, &op.Attempts, &op.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan journal op: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// PendingCount returns the number of queued ops for one owner across all
// collections.
func (db *DB) PendingCount(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM journal WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count journal ops: %w", err)
	}
	return n, nil
}

// ResolveOp removes a journal entry after a successful push.
func (db *DB) ResolveOp(ctx context.Context, seq int64) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM journal WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to resolve journal op: %w", err)
	}
	return nil
}

// FailOp records a failed push attempt, keeping the op queued for retry.
func (db *DB) FailOp(ctx context.Context, seq int64, msg string) error {
	if _, err := db.conn.ExecContext(ctx,
		`UPDATE journal SET attempts = attempts + 1, last_error = ? WHERE seq = ?`,
		msg, seq); err != nil {
		return fmt.Errorf("failed to record journal failure: %w", err)
	}
	return nil
}
