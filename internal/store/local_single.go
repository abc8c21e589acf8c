package store

import (
	"context"
	"fmt"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
)

// localSingle is the SQLite-backed SingleDocument store. The collection
// holds at most one row per owner; writes under a new id replace the
// previous document wholesale.
type localSingle[T record.Synced] struct {
	db         *localdb.DB
	hub        *Hub
	ownerID    string
	collection string
}

// NewLocalSingleDocument creates the synced single-document store for one
// entity type and owner.
func NewLocalSingleDocument[T record.Synced](db *localdb.DB, hub *Hub, ownerID, collection string) SingleDocument[T] {
	return &localSingle[T]{db: db, hub: hub, ownerID: ownerID, collection: collection}
}

func (s *localSingle[T]) AddOrUpdateItem(ctx context.Context, item T) error {
	doc, err := encodeDoc(s.ownerID, item)
	if err != nil {
		return err
	}

	// A write under a new id supersedes the current document; the old row
	// is deleted first so the single-instance invariant holds.
	current, err := s.currentMeta(ctx)
	if err != nil {
		return err
	}
	if current != nil && current.ID != doc.ID {
		if err := s.db.DeleteLocal(ctx, s.ownerID, s.collection, current.ID); err != nil {
			return fmt.Errorf("failed to supersede document %s: %w", current.ID, err)
		}
	}

	changed, err := s.db.UpsertLocal(ctx, doc)
	if err != nil {
		return err
	}
	if changed || (current != nil && current.ID != doc.ID) {
		s.hub.Notify(s.ownerID, s.collection)
	}
	return nil
}

func (s *localSingle[T]) FetchItem(ctx context.Context) (*Subscription[*T], error) {
	load := func(ctx context.Context) (*T, error) {
		docs, err := s.db.ListDocs(ctx, s.ownerID, s.collection)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return decodeDoc[T](docs[0])
	}
	return watch(ctx, s.hub, s.ownerID, s.collection, load)
}

func (s *localSingle[T]) FetchMetadata(ctx context.Context) (*record.Metadata, error) {
	m, err := s.currentMeta(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	meta := m.Meta()
	return &meta, nil
}

func (s *localSingle[T]) DeleteItem(ctx context.Context) error {
	current, err := s.currentMeta(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if err := s.db.DeleteLocal(ctx, s.ownerID, s.collection, current.ID); err != nil {
		return err
	}
	s.hub.Notify(s.ownerID, s.collection)
	return nil
}

// currentMeta returns the metadata of the sole document, or nil when the
// owner has none. If stale rows ever leave more than one, the newest wins.
func (s *localSingle[T]) currentMeta(ctx context.Context) (*localdb.DocMeta, error) {
	metas, err := s.db.ListMetadata(ctx, s.ownerID, s.collection)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}
	newest := metas[0]
	for _, m := range metas[1:] {
		if m.UpdatedAt > newest.UpdatedAt {
			newest = m
		}
	}
	return &newest, nil
}
