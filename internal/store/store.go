// Package store defines the local storage contracts consumed by Satchel's
// feature layer, and their SQLite-backed implementations.
//
// Two mutually exclusive capability sets exist, selected at construction
// time rather than by runtime flags:
//
//   - OnlyOffline: plain per-owner CRUD with no sync concepts. Backs
//     storage for users without sync entitlement.
//   - FullSynced: storage that participates in reconciliation, in one of
//     two topologies. SingleDocument holds exactly one live record per
//     owner (e.g. settings); MultipleDocuments holds zero-or-more (e.g.
//     homework).
//
// Every Fetch* operation returns a live subscription that re-emits the
// current value on attach and again whenever the underlying rows change,
// whether from a direct local write or a sync-driven one. Callers never
// re-poll.
//
// AddOrUpdate* is idempotent by id: a write carrying a lower-or-equal
// updatedAt than the stored row is a no-op on the stored value.
package store

import (
	"context"

	"github.com/satchelapp/satchel/internal/record"
)

// OnlyOffline is the always-available, non-networked store for one entity
// type. It participates in no reconciliation.
type OnlyOffline[T record.Synced] interface {
	// AddOrUpdateItem upserts a single record (last-write-wins by id).
	AddOrUpdateItem(ctx context.Context, item T) error

	// AddOrUpdateItems upserts a batch of records.
	AddOrUpdateItems(ctx context.Context, items []T) error

	// FetchItemByID returns a live subscription to one record.
	// The subscription emits nil while the record does not exist.
	FetchItemByID(ctx context.Context, id string) (*Subscription[*T], error)

	// FetchAllItems returns a live subscription to the full collection,
	// newest first.
	FetchAllItems(ctx context.Context) (*Subscription[[]T], error)

	// DeleteItemsByID removes records by id. Unknown ids are no-ops.
	DeleteItemsByID(ctx context.Context, ids []string) error

	// DeleteAllItems clears the collection for this owner.
	DeleteAllItems(ctx context.Context) error
}

// SingleDocument is the fully-synced store for an entity type with exactly
// one live instance per owner.
type SingleDocument[T record.Synced] interface {
	// AddOrUpdateItem upserts the owner's document. If a document already
	// exists under a different id, it is replaced wholesale.
	AddOrUpdateItem(ctx context.Context, item T) error

	// FetchItem returns a live subscription to the document.
	// The subscription emits nil while no document exists.
	FetchItem(ctx context.Context) (*Subscription[*T], error)

	// FetchMetadata returns the (id, updatedAt) projection of the
	// document, or nil if no document exists.
	FetchMetadata(ctx context.Context) (*record.Metadata, error)

	// DeleteItem removes the owner's document. A missing document is a
	// no-op.
	DeleteItem(ctx context.Context) error
}

// MultipleDocuments is the fully-synced store for an entity type with
// zero-or-more instances per owner.
type MultipleDocuments[T record.Synced] interface {
	// AddOrUpdateItem upserts a single record (last-write-wins by id).
	AddOrUpdateItem(ctx context.Context, item T) error

	// AddOrUpdateItems upserts a batch of records.
	AddOrUpdateItems(ctx context.Context, items []T) error

	// FetchItemByID returns a live subscription to one record.
	// The subscription emits nil while the record does not exist.
	FetchItemByID(ctx context.Context, id string) (*Subscription[*T], error)

	// FetchItemsByID returns a live subscription to the listed records.
	// Missing ids are skipped, not errors.
	FetchItemsByID(ctx context.Context, ids []string) (*Subscription[[]T], error)

	// FetchAllMetadata returns the (id, updatedAt) projections of every
	// record in the collection.
	FetchAllMetadata(ctx context.Context) ([]record.Metadata, error)

	// DeleteItemsByID removes records by id and propagates the deletes to
	// the remote backend on the next reconciliation pass.
	DeleteItemsByID(ctx context.Context, ids []string) error

	// DeleteAllItems clears the collection for this owner, propagating
	// the deletes.
	DeleteAllItems(ctx context.Context) error
}

// Topology tags the FullSynced variant.
type Topology int

const (
	// TopologySingleDocument marks a one-record-per-owner store.
	TopologySingleDocument Topology = iota
	// TopologyMultipleDocuments marks a collection-per-owner store.
	TopologyMultipleDocuments
)

// String returns a human-readable representation of the topology.
func (t Topology) String() string {
	switch t {
	case TopologySingleDocument:
		return "single-document"
	case TopologyMultipleDocuments:
		return "multiple-documents"
	default:
		return "unknown"
	}
}

// FullSynced is the tagged union of the two synced store shapes. Exactly
// one variant is set, chosen when the store is constructed.
type FullSynced[T record.Synced] struct {
	topology Topology
	single   SingleDocument[T]
	multi    MultipleDocuments[T]
}

// NewSingleDocumentStore wraps a single-document store.
func NewSingleDocumentStore[T record.Synced](s SingleDocument[T]) FullSynced[T] {
	return FullSynced[T]{topology: TopologySingleDocument, single: s}
}

// NewMultipleDocumentsStore wraps a multiple-documents store.
func NewMultipleDocumentsStore[T record.Synced](m MultipleDocuments[T]) FullSynced[T] {
	return FullSynced[T]{topology: TopologyMultipleDocuments, multi: m}
}

// Topology returns which variant is set.
func (f FullSynced[T]) Topology() Topology { return f.topology }

// Single returns the single-document variant, or false if this store was
// constructed with the multiple-documents topology.
func (f FullSynced[T]) Single() (SingleDocument[T], bool) {
	return f.single, f.topology == TopologySingleDocument && f.single != nil
}

// Multi returns the multiple-documents variant, or false if this store was
// constructed with the single-document topology.
func (f FullSynced[T]) Multi() (MultipleDocuments[T], bool) {
	return f.multi, f.topology == TopologyMultipleDocuments && f.multi != nil
}
