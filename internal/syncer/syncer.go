// Package syncer reconciles the local document store with the remote
// backend.
//
// One Reconciler serves one owner. Each collection is reconciled
// independently: pull both metadata sets, diff by id and updatedAt, resolve
// conflicts by last-write-wins (timestamp ties favor the remote), then
// apply per-record upserts and deletes. Live-update events from the
// realtime channel take the same per-record path, bypassing the full diff.
//
// The reconciler is designed to be resilient: a network failure aborts the
// current pass for that collection only and leaves local state untouched;
// every per-record apply is independently safe to retry. A record the
// backend keeps rejecting is surfaced in the pass result, never silently
// dropped - its local copy remains the pending, unsynced version.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
	"github.com/satchelapp/satchel/internal/remote"
	"github.com/satchelapp/satchel/internal/store"
)

// State is the reconciliation phase of one collection.
type State int

const (
	StateIdle State = iota
	StatePulling
	StateDiffing
	StateApplying
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePulling:
		return "pulling"
	case StateDiffing:
		return "diffing"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// RecordError is a per-record failure surfaced to the owning feature.
type RecordError struct {
	Collection string
	ID         string
	Err        error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Collection, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e RecordError) Unwrap() error { return e.Err }

// Result collects the outcome of one reconciliation pass.
type Result struct {
	Downloaded    int
	Uploaded      int
	DeletedLocal  int
	DeletedRemote int

	// Failed holds per-record structural failures (validation, permission,
	// corrupt payloads). Connectivity failures abort the pass instead.
	Failed []RecordError

	Duration time.Duration
}

// Merge folds another result into this one.
func (r *Result) Merge(other *Result) {
	r.Downloaded += other.Downloaded
	r.Uploaded += other.Uploaded
	r.DeletedLocal += other.DeletedLocal
	r.DeletedRemote += other.DeletedRemote
	r.Failed = append(r.Failed, other.Failed...)
}

// Reconciler keeps one owner's local and remote stores consistent.
type Reconciler struct {
	db      *localdb.DB
	backend remote.Store
	hub     *store.Hub
	ownerID string
	logger  *log.Logger

	locks *keyMutex

	mu     sync.Mutex
	states map[string]State
}

// New creates a Reconciler for one owner.
//
// The database must be initialized (localdb.InitSchema) before use.
// If logger is nil, a default logger writing to stderr is used.
func New(db *localdb.DB, backend remote.Store, hub *store.Hub, ownerID string, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Reconciler{
		db:      db,
		backend: backend,
		hub:     hub,
		ownerID: ownerID,
		logger:  logger,
		locks:   newKeyMutex(),
		states:  make(map[string]State),
	}
}

// State returns the current reconciliation phase of a collection.
func (r *Reconciler) State(collection string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[collection]
}

func (r *Reconciler) setState(collection string, s State) {
	r.mu.Lock()
	r.states[collection] = s
	r.mu.Unlock()
}

// SyncCollection runs one full reconciliation pass for a collection.
//
// A connectivity failure aborts the pass and is returned wrapped around
// remote.ErrOffline; local state stays valid and the pass is retried on
// the next trigger. Structural per-record failures do not abort the pass;
// they are collected in the result.
func (r *Reconciler) SyncCollection(ctx context.Context, collection string) (*Result, error) {
	unlock := r.locks.Lock(r.ownerID + "/" + collection)
	defer unlock()
	defer r.setState(collection, StateIdle)

	start := time.Now()
	result := &Result{}

	err := r.pass(ctx, collection, result)
	result.Duration = time.Since(start)

	if stateErr := r.db.RecordPass(ctx, r.ownerID, collection, err); stateErr != nil {
		r.logger.Printf("WARNING: failed to record pass state for %s: %v", collection, stateErr)
	}

	if err != nil {
		return result, err
	}

	r.logger.Printf("Pass complete: collection=%s downloaded=%d uploaded=%d deleted_local=%d deleted_remote=%d failed=%d (%v)",
		collection, result.Downloaded, result.Uploaded, result.DeletedLocal,
		result.DeletedRemote, len(result.Failed), result.Duration.Round(time.Millisecond))
	return result, nil
}

// SyncAll reconciles the given collections in order. Collections whose
// passes abort on connectivity keep the others running; the first abort
// error is returned after all collections are attempted.
func (r *Reconciler) SyncAll(ctx context.Context, collections []string) (*Result, error) {
	total := &Result{}
	var firstErr error

	for _, collection := range collections {
		res, err := r.SyncCollection(ctx, collection)
		if res != nil {
			total.Merge(res)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	return total, firstErr
}

// pass runs the pull-diff-apply sequence for one collection.
func (r *Reconciler) pass(ctx context.Context, collection string, result *Result) error {
	r.setState(collection, StatePulling)

	localMetas, err := r.db.ListMetadata(ctx, r.ownerID, collection)
	if err != nil {
		return fmt.Errorf("failed to read local metadata: %w", err)
	}
	remoteMetas, err := r.backend.ListMetadata(ctx, collection, r.ownerID)
	if err != nil {
		return fmt.Errorf("failed to pull remote metadata: %w", err)
	}

	r.setState(collection, StateDiffing)
	d := computeDiff(localMetas, remoteMetas)

	r.setState(collection, StateApplying)

	ops, err := r.db.PendingOps(ctx, r.ownerID, collection)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	pendingDelete := make(map[string]bool)
	for _, op := range ops {
		if !op.IsUpsert() {
			pendingDelete[op.DocID] = true
		}
	}

	// Downloads first: anything the remote has newer wins before local
	// pushes re-evaluate against it. Records with a queued local delete
	// are skipped so the delete is not resurrected before it pushes.
	for _, id := range d.Download {
		if pendingDelete[id] {
			continue
		}
		if err := r.downloadRecord(ctx, collection, id, result); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	// Push journaled local mutations (edits and deletes).
	pushed, err := r.flushJournal(ctx, collection, ops, result)
	if err != nil {
		return err
	}

	// Upload candidates the journal did not cover (e.g. a dirty row whose
	// journal entry was lost). Harmless overlap: pushes are LWW-safe.
	for _, id := range d.Upload {
		if pushed[id] {
			continue
		}
		if err := r.uploadRecord(ctx, collection, id, result); err != nil {
			return err
		}
	}

	// Remove rows the remote deleted.
	for _, id := range d.DeleteLocal {
		removed, err := r.db.ApplyRemoteDelete(ctx, r.ownerID, collection, id)
		if err != nil {
			return fmt.Errorf("failed to apply remote delete of %s: %w", id, err)
		}
		if removed {
			result.DeletedLocal++
			r.hub.Notify(r.ownerID, collection)
		}
	}

	return nil
}

// downloadRecord fetches one remote document in full and upserts it
// locally under the remote-origin last-write-wins guard.
func (r *Reconciler) downloadRecord(ctx context.Context, collection, id string, result *Result) error {
	doc, err := r.backend.GetDocument(ctx, collection, id)
	if errors.Is(err, remote.ErrNotFound) {
		// Deleted remotely between metadata pull and fetch; the next pass
		// handles the removal.
		return nil
	}
	if errors.Is(err, remote.ErrOffline) {
		return err
	}
	if err != nil {
		result.Failed = append(result.Failed, RecordError{Collection: collection, ID: id, Err: err})
		return nil
	}

	changed, err := r.db.UpsertRemote(ctx, &localdb.Doc{
		OwnerID:    r.ownerID,
		Collection: collection,
		ID:         doc.ID,
		UpdatedAt:  doc.UpdatedAt,
		Payload:    doc.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to store downloaded %s: %w", id, err)
	}
	if changed {
		result.Downloaded++
		r.hub.Notify(r.ownerID, collection)
	}
	return nil
}

// flushJournal pushes every queued local mutation for the collection.
// Returns the set of document ids whose upserts were pushed.
func (r *Reconciler) flushJournal(ctx context.Context, collection string, ops []localdb.JournalOp, result *Result) (map[string]bool, error) {
	pushed := make(map[string]bool)

	for _, op := range ops {
		if ctx.Err() != nil {
			return pushed, ctx.Err()
		}

		if op.IsUpsert() {
			if err := r.pushOp(ctx, op, result); err != nil {
				return pushed, err
			}
			pushed[op.DocID] = true
			continue
		}

		// Delete op.
		err := r.backend.DeleteDocument(ctx, collection, op.DocID)
		if errors.Is(err, remote.ErrOffline) {
			return pushed, err
		}
		if err != nil {
			r.recordPushFailure(ctx, op, err, result)
			continue
		}
		if err := r.db.ResolveOp(ctx, op.Seq); err != nil {
			return pushed, err
		}
		result.DeletedRemote++
	}

	return pushed, nil
}

// pushOp pushes one journaled upsert: the current stored payload of the
// document, creating it remotely (and rekeying locally) on first upload.
func (r *Reconciler) pushOp(ctx context.Context, op localdb.JournalOp, result *Result) error {
	doc, err := r.db.GetDoc(ctx, r.ownerID, op.Collection, op.DocID)
	if errors.Is(err, localdb.ErrNotFound) {
		// Deleted locally after the edit was queued; nothing to push.
		return r.db.ResolveOp(ctx, op.Seq)
	}
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", op.DocID, err)
	}

	pushErr := r.pushDoc(ctx, doc, result)
	if errors.Is(pushErr, remote.ErrOffline) {
		return pushErr
	}
	if pushErr != nil {
		r.recordPushFailure(ctx, op, pushErr, result)
		return nil
	}
	return r.db.ResolveOp(ctx, op.Seq)
}

// uploadRecord pushes a document that has no journal entry.
func (r *Reconciler) uploadRecord(ctx context.Context, collection, id string, result *Result) error {
	doc, err := r.db.GetDoc(ctx, r.ownerID, collection, id)
	if errors.Is(err, localdb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", id, err)
	}

	pushErr := r.pushDoc(ctx, doc, result)
	if errors.Is(pushErr, remote.ErrOffline) {
		return pushErr
	}
	if pushErr != nil {
		result.Failed = append(result.Failed, RecordError{Collection: collection, ID: id, Err: pushErr})
	}
	return nil
}

// pushDoc uploads one document in full. Records created offline go through
// CreateDocument so the backend assigns the permanent id; the local row is
// rekeyed to it so exactly one copy remains.
func (r *Reconciler) pushDoc(ctx context.Context, doc *localdb.Doc, result *Result) error {
	out := &remote.Document{
		ID:          doc.ID,
		Collection:  doc.Collection,
		OwnerID:     r.ownerID,
		UpdatedAt:   doc.UpdatedAt,
		Payload:     json.RawMessage(doc.Payload),
		Permissions: remote.OwnerPermissions(r.ownerID),
	}

	if record.IsLocalID(doc.ID) {
		created, err := r.backend.CreateDocument(ctx, out)
		if err != nil {
			return err
		}

		payload, err := rewritePayloadID(doc.Payload, created.ID)
		if err != nil {
			return err
		}
		updatedAt := doc.UpdatedAt
		if created.UpdatedAt > updatedAt {
			updatedAt = created.UpdatedAt
		}

		if err := r.db.Rekey(ctx, r.ownerID, doc.Collection, doc.ID, created.ID, payload, updatedAt, doc.UpdatedAt); err != nil {
			return err
		}
		result.Uploaded++
		r.hub.Notify(r.ownerID, doc.Collection)
		return nil
	}

	if _, err := r.backend.UpsertDocument(ctx, out); err != nil {
		return err
	}
	if err := r.db.MarkSynced(ctx, r.ownerID, doc.Collection, doc.ID, doc.UpdatedAt); err != nil {
		return err
	}
	result.Uploaded++
	return nil
}

// recordPushFailure keeps a rejected op queued for retry and surfaces the
// failure in the pass result.
func (r *Reconciler) recordPushFailure(ctx context.Context, op localdb.JournalOp, pushErr error, result *Result) {
	if err := r.db.FailOp(ctx, op.Seq, pushErr.Error()); err != nil {
		r.logger.Printf("WARNING: failed to record journal failure for %s: %v", op.DocID, err)
	}
	result.Failed = append(result.Failed, RecordError{Collection: op.Collection, ID: op.DocID, Err: pushErr})
	r.logger.Printf("WARNING: push rejected for %s/%s (attempt %d): %v",
		op.Collection, op.DocID, op.Attempts+1, pushErr)
}

// ApplyEvent applies one realtime mutation event directly to local
// storage, equivalent to a single-record reconciliation step. Events for
// other owners are ignored.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev remote.Event) error {
	if ev.OwnerID != "" && ev.OwnerID != r.ownerID {
		return nil
	}

	unlock := r.locks.Lock(r.ownerID + "/" + ev.Collection)
	defer unlock()

	switch ev.Kind {
	case remote.EventDeleted:
		// A dirty row holds a local edit the remote has not seen. Keep it;
		// the next reconciliation pass re-uploads a dirty record that is
		// absent remotely.
		doc, err := r.db.GetDoc(ctx, r.ownerID, ev.Collection, ev.DocumentID)
		if err != nil && !errors.Is(err, localdb.ErrNotFound) {
			return err
		}
		if doc != nil && doc.Dirty {
			return nil
		}
		removed, err := r.db.ApplyRemoteDelete(ctx, r.ownerID, ev.Collection, ev.DocumentID)
		if err != nil {
			return err
		}
		if removed {
			r.hub.Notify(r.ownerID, ev.Collection)
		}
		return nil

	case remote.EventCreated, remote.EventUpdated:
		payload := ev.Payload
		updatedAt := ev.UpdatedAt

		if len(payload) == 0 {
			doc, err := r.backend.GetDocument(ctx, ev.Collection, ev.DocumentID)
			if errors.Is(err, remote.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			payload = doc.Payload
			updatedAt = doc.UpdatedAt
		}

		changed, err := r.db.UpsertRemote(ctx, &localdb.Doc{
			OwnerID:    r.ownerID,
			Collection: ev.Collection,
			ID:         ev.DocumentID,
			UpdatedAt:  updatedAt,
			Payload:    payload,
		})
		if err != nil {
			return err
		}
		if changed {
			r.hub.Notify(r.ownerID, ev.Collection)
		}
		return nil

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// rewritePayloadID rewrites the record's embedded id after the backend
// assigns the permanent one.
func rewritePayloadID(payload []byte, newID string) ([]byte, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload for rekey: %w", err)
	}
	fields["id"] = newID
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rekeyed payload: %w", err)
	}
	return out, nil
}
