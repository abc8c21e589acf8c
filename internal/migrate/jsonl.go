package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/satchelapp/satchel/internal/localdb"
)

// ExportLine is one record in a JSONL export file.
type ExportLine struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	UpdatedAt  int64           `json:"updated_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ExportOptions contains configuration for a JSONL export.
type ExportOptions struct {
	// Collections to export.
	Collections []string

	// FromOffline exports the offline space instead of the synced space.
	FromOffline bool
}

// ExportJSONL writes every record of the owner to path, one JSON object
// per line.
func ExportJSONL(ctx context.Context, db *localdb.DB, ownerID, path string, opts *ExportOptions) (int, error) {
	if opts == nil || len(opts.Collections) == 0 {
		return 0, fmt.Errorf("no collections to export")
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	written := 0

	for _, collection := range opts.Collections {
		var docs []*localdb.Doc
		if opts.FromOffline {
			docs, err = db.OfflineList(ctx, ownerID, collection)
		} else {
			docs, err = db.ListDocs(ctx, ownerID, collection)
		}
		if err != nil {
			return written, fmt.Errorf("failed to list %s: %w", collection, err)
		}

		for _, doc := range docs {
			line := ExportLine{
				Collection: collection,
				ID:         doc.ID,
				UpdatedAt:  doc.UpdatedAt,
				Payload:    json.RawMessage(doc.Payload),
			}
			if err := encoder.Encode(&line); err != nil {
				return written, fmt.Errorf("failed to write export line: %w", err)
			}
			written++
		}
	}

	return written, nil
}

// ImportOptions contains configuration for a JSONL import.
type ImportOptions struct {
	// ToOffline imports into the offline space instead of the synced
	// space.
	ToOffline bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// ImportJSONL reads a JSONL export and upserts the records for the owner.
// Existing records with an equal or newer timestamp are skipped
// (last-write-wins), so importing the same file twice is harmless.
// Individual bad lines are collected, not fatal.
func ImportJSONL(ctx context.Context, db *localdb.DB, ownerID, path string, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	result := &ImportResult{}
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var line ExportLine
		if err := decoder.Decode(&line); err != nil {
			if err == io.EOF {
				break
			}
			return result, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if line.Collection == "" || line.ID == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: missing collection or id", lineNum))
			continue
		}

		doc := &localdb.Doc{
			OwnerID:    ownerID,
			Collection: line.Collection,
			ID:         line.ID,
			UpdatedAt:  line.UpdatedAt,
			Payload:    line.Payload,
		}

		var changed bool
		if opts.ToOffline {
			changed, err = db.OfflineUpsert(ctx, doc)
		} else {
			changed, err = db.UpsertLocal(ctx, doc)
		}
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d (%s/%s): %v", lineNum, line.Collection, line.ID, err))
			continue
		}

		if changed {
			result.Imported++
		} else {
			result.Skipped++
		}
	}

	return result, nil
}
