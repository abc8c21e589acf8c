// Package record defines the data structures synchronized between the
// local planner database and the remote document backend.
//
// Every synchronizable type satisfies the Synced contract: a stable id plus
// a last-modification timestamp in epoch milliseconds. The timestamp is the
// single source of truth for conflict resolution - the copy with the greater
// UpdatedAt wins wholesale, and a write that would lower the stored
// timestamp is dropped as stale.
package record

import "time"

// Synced is the contract every synchronizable record satisfies.
//
// RecordID returns the stable identifier. When the record has been synced it
// equals the remote document id; a record created offline carries a locally
// generated id (see NewLocalID) until its first upload.
//
// ModifiedAt returns the last-modification time in epoch milliseconds. It
// only ever advances; the storage layer rejects writes that would decrease
// it.
type Synced interface {
	RecordID() string
	ModifiedAt() int64
	Collection() string
}

// Metadata is the lightweight (id, updatedAt) projection of a Synced
// record, enough to decide changed/new/removed during reconciliation
// without transferring the full payload.
type Metadata struct {
	ID        string `json:"id"`
	UpdatedAt int64  `json:"updated_at"`
}

// MetaOf returns the metadata projection of a record.
func MetaOf(r Synced) Metadata {
	return Metadata{ID: r.RecordID(), UpdatedAt: r.ModifiedAt()}
}

// NowMillis returns the current wall-clock time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Collection names on the remote backend. Local storage scopes rows by the
// same names so that metadata diffs line up id-for-id.
const (
	CollectionHomework = "homework"
	CollectionLessons  = "lessons"
	CollectionGrades   = "grades"
	CollectionSettings = "settings"
)

// AllCollections returns every known collection name.
func AllCollections() []string {
	return []string{CollectionHomework, CollectionLessons, CollectionGrades, CollectionSettings}
}
