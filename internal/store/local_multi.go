package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
)

// localMulti is the SQLite-backed MultipleDocuments store. Writes go to the
// synced document space with the last-write-wins guard; applied changes are
// journaled for upload and fanned out to live subscriptions.
type localMulti[T record.Synced] struct {
	db         *localdb.DB
	hub        *Hub
	ownerID    string
	collection string
}

// NewLocalMultipleDocuments creates the synced multiple-documents store for
// one entity type and owner.
func NewLocalMultipleDocuments[T record.Synced](db *localdb.DB, hub *Hub, ownerID, collection string) MultipleDocuments[T] {
	return &localMulti[T]{db: db, hub: hub, ownerID: ownerID, collection: collection}
}

func (s *localMulti[T]) AddOrUpdateItem(ctx context.Context, item T) error {
	doc, err := encodeDoc(s.ownerID, item)
	if err != nil {
		return err
	}
	changed, err := s.db.UpsertLocal(ctx, doc)
	if err != nil {
		return err
	}
	if changed {
		s.hub.Notify(s.ownerID, s.collection)
	}
	return nil
}

func (s *localMulti[T]) AddOrUpdateItems(ctx context.Context, items []T) error {
	anyChanged := false
	for _, item := range items {
		doc, err := encodeDoc(s.ownerID, item)
		if err != nil {
			return err
		}
		changed, err := s.db.UpsertLocal(ctx, doc)
		if err != nil {
			return fmt.Errorf("batch upsert failed at %s: %w", item.RecordID(), err)
		}
		anyChanged = anyChanged || changed
	}
	if anyChanged {
		s.hub.Notify(s.ownerID, s.collection)
	}
	return nil
}

func (s *localMulti[T]) FetchItemByID(ctx context.Context, id string) (*Subscription[*T], error) {
	load := func(ctx context.Context) (*T, error) {
		doc, err := s.db.GetDoc(ctx, s.ownerID, s.collection, id)
		if errors.Is(err, localdb.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return decodeDoc[T](doc)
	}
	return watch(ctx, s.hub, s.ownerID, s.collection, load)
}

func (s *localMulti[T]) FetchItemsByID(ctx context.Context, ids []string) (*Subscription[[]T], error) {
	load := func(ctx context.Context) ([]T, error) {
		docs, err := s.db.GetDocs(ctx, s.ownerID, s.collection, ids)
		if err != nil {
			return nil, err
		}
		return decodeDocs[T](docs)
	}
	return watch(ctx, s.hub, s.ownerID, s.collection, load)
}

func (s *localMulti[T]) FetchAllMetadata(ctx context.Context) ([]record.Metadata, error) {
	docMetas, err := s.db.ListMetadata(ctx, s.ownerID, s.collection)
	if err != nil {
		return nil, err
	}
	metas := make([]record.Metadata, 0, len(docMetas))
	for _, m := range docMetas {
		metas = append(metas, m.Meta())
	}
	return metas, nil
}

func (s *localMulti[T]) DeleteItemsByID(ctx context.Context, ids []string) error {
	if err := s.db.DeleteLocal(ctx, s.ownerID, s.collection, ids...); err != nil {
		return err
	}
	s.hub.Notify(s.ownerID, s.collection)
	return nil
}

func (s *localMulti[T]) DeleteAllItems(ctx context.Context) error {
	if err := s.db.DeleteAllLocal(ctx, s.ownerID, s.collection); err != nil {
		return err
	}
	s.hub.Notify(s.ownerID, s.collection)
	return nil
}
