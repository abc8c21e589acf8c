package store

import "github.com/satchelapp/satchel/internal/record"

// Combined is the per-entity-type façade handed to call sites. It exposes
// either the offline-only or the fully-synced store for the current owner;
// the caller picks by entitlement and never branches on storage concerns
// beyond that.
//
// Combined holds no business logic. Switching entitlement at runtime does
// not migrate rows between the two stores; that one-time upload is the
// migrate package's job.
type Combined[T record.Synced] struct {
	offline OnlyOffline[T]
	synced  FullSynced[T]
}

// NewCombined builds the façade from the two concrete stores for one entity
// type.
func NewCombined[T record.Synced](offline OnlyOffline[T], synced FullSynced[T]) Combined[T] {
	return Combined[T]{offline: offline, synced: synced}
}

// Offline returns the always-available, non-networked store.
func (c Combined[T]) Offline() OnlyOffline[T] {
	return c.offline
}

// Sync returns the store that participates in reconciliation.
func (c Combined[T]) Sync() FullSynced[T] {
	return c.synced
}
