package localdb

import (
	"context"
	"fmt"
)

// SyncState is the per-collection reconciliation bookkeeping row.
type SyncState struct {
	OwnerID       string
	Collection    string
	LastPassAt    int64
	LastSuccessAt int64
	LastError     string
}

// RecordPass stores the outcome of one reconciliation pass. A nil passErr
// also advances last_success_at and clears the stored error.
func (db *DB) RecordPass(ctx context.Context, ownerID, collection string, passErr error) error {
	now := nowMillis()

	msg := ""
	success := now
	if passErr != nil {
		msg = passErr.Error()
		success = 0
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_state (owner_id, collection, last_pass_at, last_success_at, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, collection) DO UPDATE SET
			last_pass_at = excluded.last_pass_at,
			last_success_at = CASE WHEN excluded.last_success_at > 0
				THEN excluded.last_success_at ELSE sync_state.last_success_at END,
			last_error = excluded.last_error`,
		ownerID, collection, now, success, msg)
	if err != nil {
		return fmt.Errorf("failed to record sync pass: %w", err)
	}
	return nil
}

// SyncStates returns the bookkeeping rows for one owner, ordered by
// collection name.
func (db *DB) SyncStates(ctx context.Context, ownerID string) ([]SyncState, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT owner_id, collection, last_pass_at, last_success_at, last_error
		FROM sync_state
		WHERE owner_id = ?
		ORDER BY collection`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync state: %w", err)
	}
	defer rows.Close()

	var states []SyncState
	for rows.Next() {
		var s SyncState
		if err := rows.Scan(&s.OwnerID, &s.Collection, &s.LastPassAt, &s.LastSuccessAt, &s.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
