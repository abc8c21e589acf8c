package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
)

// localOffline is the SQLite-backed OnlyOffline store. It writes to the
// offline document space: no dirty flags, no journal, no reconciliation.
type localOffline[T record.Synced] struct {
	db         *localdb.DB
	hub        *Hub
	ownerID    string
	collection string
}

// NewLocalOffline creates the offline-only store for one entity type and
// owner.
func NewLocalOffline[T record.Synced](db *localdb.DB, hub *Hub, ownerID, collection string) OnlyOffline[T] {
	return &localOffline[T]{db: db, hub: hub, ownerID: ownerID, collection: collection}
}

// offlineKey separates offline-space notifications from synced-space ones
// so an offline write never wakes a synced subscription and vice versa.
func (s *localOffline[T]) offlineKey() string {
	return "offline:" + s.collection
}

func (s *localOffline[T]) AddOrUpdateItem(ctx context.Context, item T) error {
	doc, err := encodeDoc(s.ownerID, item)
	if err != nil {
		return err
	}
	changed, err := s.db.OfflineUpsert(ctx, doc)
	if err != nil {
		return err
	}
	if changed {
		s.hub.Notify(s.ownerID, s.offlineKey())
	}
	return nil
}

func (s *localOffline[T]) AddOrUpdateItems(ctx context.Context, items []T) error {
	anyChanged := false
	for _, item := range items {
		doc, err := encodeDoc(s.ownerID, item)
		if err != nil {
			return err
		}
		changed, err := s.db.OfflineUpsert(ctx, doc)
		if err != nil {
			return fmt.Errorf("batch upsert failed at %s: %w", item.RecordID(), err)
		}
		anyChanged = anyChanged || changed
	}
	if anyChanged {
		s.hub.Notify(s.ownerID, s.offlineKey())
	}
	return nil
}

func (s *localOffline[T]) FetchItemByID(ctx context.Context, id string) (*Subscription[*T], error) {
	load := func(ctx context.Context) (*T, error) {
		doc, err := s.db.OfflineGet(ctx, s.ownerID, s.collection, id)
		if errors.Is(err, localdb.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return decodeDoc[T](doc)
	}
	return watch(ctx, s.hub, s.ownerID, s.offlineKey(), load)
}

func (s *localOffline[T]) FetchAllItems(ctx context.Context) (*Subscription[[]T], error) {
	load := func(ctx context.Context) ([]T, error) {
		docs, err := s.db.OfflineList(ctx, s.ownerID, s.collection)
		if err != nil {
			return nil, err
		}
		return decodeDocs[T](docs)
	}
	return watch(ctx, s.hub, s.ownerID, s.offlineKey(), load)
}

func (s *localOffline[T]) DeleteItemsByID(ctx context.Context, ids []string) error {
	if err := s.db.OfflineDelete(ctx, s.ownerID, s.collection, ids...); err != nil {
		return err
	}
	s.hub.Notify(s.ownerID, s.offlineKey())
	return nil
}

func (s *localOffline[T]) DeleteAllItems(ctx context.Context) error {
	if err := s.db.OfflineDeleteAll(ctx, s.ownerID, s.collection); err != nil {
		return err
	}
	s.hub.Notify(s.ownerID, s.offlineKey())
	return nil
}
