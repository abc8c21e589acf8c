// Package migrate provides the explicit one-time data movements the sync
// core deliberately never performs implicitly: promoting an owner's
// offline-only records into the synced space after an entitlement upgrade,
// and JSONL export/import of an owner's records for backup and transfer.
package migrate

import (
	"context"
	"fmt"

	"github.com/satchelapp/satchel/internal/localdb"
)

// UploadOptions contains configuration for the offline-to-synced
// promotion.
type UploadOptions struct {
	// Collections to promote.
	Collections []string

	// DryRun previews without writing.
	DryRun bool

	// PurgeOffline removes the offline-space rows after queueing. The
	// default keeps them, so a failed promotion can be re-run safely.
	PurgeOffline bool
}

// UploadResult contains statistics about the promotion.
type UploadResult struct {
	RecordsQueued int
	Skipped       int
	Errors        []string
}

// UploadAll copies every offline-space record of the owner into the synced
// space, where the journal queues it for upload on the next reconciliation
// pass. Records already present in the synced space with an equal or newer
// timestamp are skipped, so re-running after a partial failure is safe.
//
// This is the one-time operation run when a free user upgrades; it is
// never triggered by an entitlement flip on its own.
func UploadAll(ctx context.Context, db *localdb.DB, ownerID string, opts *UploadOptions) (*UploadResult, error) {
	if opts == nil || len(opts.Collections) == 0 {
		return nil, fmt.Errorf("no collections to promote")
	}

	result := &UploadResult{}

	for _, collection := range opts.Collections {
		docs, err := db.OfflineList(ctx, ownerID, collection)
		if err != nil {
			return result, fmt.Errorf("failed to list offline %s: %w", collection, err)
		}

		for _, doc := range docs {
			if opts.DryRun {
				result.RecordsQueued++
				continue
			}

			changed, err := db.UpsertLocal(ctx, &localdb.Doc{
				OwnerID:    ownerID,
				Collection: collection,
				ID:         doc.ID,
				UpdatedAt:  doc.UpdatedAt,
				Payload:    doc.Payload,
			})
			if err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s/%s: %v", collection, doc.ID, err))
				continue
			}
			if changed {
				result.RecordsQueued++
			} else {
				result.Skipped++
			}
		}

		if opts.PurgeOffline && !opts.DryRun {
			if err := db.OfflineDeleteAll(ctx, ownerID, collection); err != nil {
				return result, fmt.Errorf("failed to purge offline %s: %w", collection, err)
			}
		}
	}

	return result, nil
}
