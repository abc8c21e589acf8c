// Package remote provides the client for Satchel's multi-tenant document
// backend.
//
// The backend addresses every record as a database/collection/document
// triple, scopes collections per owner, assigns document ids on first
// create, enforces per-record permission lists, and pushes mutation events
// over a realtime WebSocket channel.
//
// Network-dependent operations fail fast and distinguishably when
// connectivity is unavailable: callers receive ErrOffline instead of a
// hang, and the sync layer treats that as an expected condition rather
// than an error to surface.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satchelapp/satchel/internal/record"
)

// Error taxonomy. ErrOffline is expected and absorbed by the sync layer;
// the others are structural and propagate to the calling feature.
var (
	// ErrOffline means the backend is unreachable. Local operations
	// continue unaffected; remote operations resume on reconnect.
	ErrOffline = errors.New("remote backend unreachable")

	// ErrNotFound means the document does not exist remotely.
	ErrNotFound = errors.New("remote document not found")

	// ErrPermission means the backend rejected the caller's credentials
	// or the record's permission list forbids the operation.
	ErrPermission = errors.New("remote permission denied")

	// ErrValidation means the backend rejected the record itself. The
	// local copy is retained as the pending, unsynced version.
	ErrValidation = errors.New("remote validation rejected record")
)

// Document is the wire form of a record on the backend.
type Document struct {
	ID          string          `json:"id"`
	Collection  string          `json:"collection"`
	OwnerID     string          `json:"owner_id"`
	UpdatedAt   int64           `json:"updated_at"`
	Payload     json.RawMessage `json:"payload"`
	Permissions []string        `json:"permissions,omitempty"`
}

// Meta returns the (id, updatedAt) projection of the document.
func (d *Document) Meta() record.Metadata {
	return record.Metadata{ID: d.ID, UpdatedAt: d.UpdatedAt}
}

// Permission grants. Records carry a capability list, not a single owner
// check: a mediated schedule can be readable by a second user.
func PermissionRead(userID string) string   { return fmt.Sprintf("read(\"user:%s\")", userID) }
func PermissionUpdate(userID string) string { return fmt.Sprintf("update(\"user:%s\")", userID) }
func PermissionDelete(userID string) string { return fmt.Sprintf("delete(\"user:%s\")", userID) }

// OwnerPermissions is the default capability list for a user-owned record:
// full control for the owner, nobody else.
func OwnerPermissions(userID string) []string {
	return []string{
		PermissionRead(userID),
		PermissionUpdate(userID),
		PermissionDelete(userID),
	}
}

// EventKind classifies a realtime mutation event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event is one remote mutation pushed over the realtime channel. Deleted
// events carry no payload.
type Event struct {
	Kind       EventKind       `json:"kind"`
	Collection string          `json:"collection"`
	DocumentID string          `json:"document_id"`
	OwnerID    string          `json:"owner_id"`
	UpdatedAt  int64           `json:"updated_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Store is the backend capability surface the sync layer depends on. The
// concrete implementation is Client; tests substitute fakes.
type Store interface {
	// CreateDocument stores a new document. If the document carries a
	// locally generated id the backend assigns the permanent id; the
	// returned document holds it.
	CreateDocument(ctx context.Context, doc *Document) (*Document, error)

	// UpsertDocument stores a document under its existing backend id,
	// last-write-wins by updated_at.
	UpsertDocument(ctx context.Context, doc *Document) (*Document, error)

	// GetDocument fetches one document. Returns ErrNotFound if absent.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// ListMetadata returns the (id, updatedAt) projections of an owner's
	// collection without transferring payloads.
	ListMetadata(ctx context.Context, collection, ownerID string) ([]record.Metadata, error)

	// ListDocuments returns an owner's full documents for a collection.
	ListDocuments(ctx context.Context, collection, ownerID string) ([]*Document, error)

	// DeleteDocument removes one document. Deleting an absent document is
	// a no-op.
	DeleteDocument(ctx context.Context, collection, id string) error

	// Subscribe opens the realtime channel for an owner's collections.
	// The feed runs until ctx is cancelled, reconnecting with backoff.
	Subscribe(ctx context.Context, ownerID string, collections []string) (*LiveFeed, error)
}
