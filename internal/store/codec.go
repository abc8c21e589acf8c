package store

import (
	"encoding/json"
	"fmt"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
)

// encodeDoc turns a record into a document row for its owner.
func encodeDoc[T record.Synced](ownerID string, item T) (*localdb.Doc, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", item.Collection(), err)
	}
	return &localdb.Doc{
		OwnerID:    ownerID,
		Collection: item.Collection(),
		ID:         item.RecordID(),
		UpdatedAt:  item.ModifiedAt(),
		Payload:    payload,
	}, nil
}

// decodeDoc turns a document row back into a record.
func decodeDoc[T record.Synced](doc *localdb.Doc) (*T, error) {
	var item T
	if err := json.Unmarshal(doc.Payload, &item); err != nil {
		return nil, fmt.Errorf("failed to decode %s record %s: %w", doc.Collection, doc.ID, err)
	}
	return &item, nil
}

// decodeDocs decodes a slice of rows, skipping none: a corrupt payload is a
// structural local-storage error and fails the whole read.
func decodeDocs[T record.Synced](docs []*localdb.Doc) ([]T, error) {
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := decodeDoc[T](doc)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}
