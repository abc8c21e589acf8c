package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
	"github.com/satchelapp/satchel/internal/remote"
	"github.com/satchelapp/satchel/internal/store"
)

const testOwner = "user-1"

// fakeStore is an in-memory remote.Store for reconciler tests.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]map[string]*remote.Document // collection -> id -> doc
	offline bool
	nextID  int

	// rejectIDs makes upserts/creates of these ids fail with ErrValidation.
	rejectIDs map[string]bool

	// events feeds the fake realtime channel.
	events chan remote.Event

	// createHook, when set, runs inside CreateDocument before it returns.
	createHook func()

	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:      make(map[string]map[string]*remote.Document),
		rejectIDs: make(map[string]bool),
		events:    make(chan remote.Event, 16),
	}
}

// seed stores a document directly, bypassing the API surface.
func (f *fakeStore) seed(collection, id string, updatedAt int64, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string]*remote.Document)
	}
	f.docs[collection][id] = &remote.Document{
		ID:         id,
		Collection: collection,
		OwnerID:    testOwner,
		UpdatedAt:  updatedAt,
		Payload:    json.RawMessage(payload),
	}
}

func (f *fakeStore) get(collection, id string) *remote.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[collection][id]
}

func (f *fakeStore) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeStore) checkOnline() error {
	if f.offline {
		return remote.ErrOffline
	}
	return nil
}

func (f *fakeStore) CreateDocument(ctx context.Context, doc *remote.Document) (*remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOnline(); err != nil {
		return nil, err
	}
	if f.rejectIDs[doc.ID] {
		return nil, fmt.Errorf("%w: rejected by test", remote.ErrValidation)
	}

	f.nextID++
	stored := *doc
	stored.ID = fmt.Sprintf("srv-%d", f.nextID)
	if f.docs[doc.Collection] == nil {
		f.docs[doc.Collection] = make(map[string]*remote.Document)
	}
	f.docs[doc.Collection][stored.ID] = &stored
	if f.createHook != nil {
		f.createHook()
	}
	return &stored, nil
}

func (f *fakeStore) UpsertDocument(ctx context.Context, doc *remote.Document) (*remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOnline(); err != nil {
		return nil, err
	}
	if f.rejectIDs[doc.ID] {
		return nil, fmt.Errorf("%w: rejected by test", remote.ErrValidation)
	}

	if f.docs[doc.Collection] == nil {
		f.docs[doc.Collection] = make(map[string]*remote.Document)
	}
	existing := f.docs[doc.Collection][doc.ID]
	if existing == nil || doc.UpdatedAt >= existing.UpdatedAt {
		stored := *doc
		f.docs[doc.Collection][doc.ID] = &stored
	}
	return f.docs[doc.Collection][doc.ID], nil
}

func (f *fakeStore) GetDocument(ctx context.Context, collection, id string) (*remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOnline(); err != nil {
		return nil, err
	}
	doc := f.docs[collection][id]
	if doc == nil {
		return nil, remote.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) ListMetadata(ctx context.Context, collection, ownerID string) ([]record.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOnline(); err != nil {
		return nil, err
	}
	var metas []record.Metadata
	for _, doc := range f.docs[collection] {
		if doc.OwnerID == ownerID {
			metas = append(metas, doc.Meta())
		}
	}
	return metas, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, collection, ownerID string) ([]*remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOnline(); err != nil {
		return nil, err
	}
	var docs []*remote.Document
	for _, doc := range f.docs[collection] {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOnline(); err != nil {
		return err
	}
	delete(f.docs[collection], id)
	f.deletes++
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, ownerID string, collections []string) (*remote.LiveFeed, error) {
	return remote.NewLiveFeed(ctx, f.events), nil
}

// setupReconciler builds a reconciler over a temp database and fake backend.
func setupReconciler(t *testing.T) (*Reconciler, *localdb.DB, *fakeStore) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := localdb.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	backend := newFakeStore()
	logger := log.New(io.Discard, "", 0)
	r := New(db, backend, store.NewHub(), testOwner, logger)
	return r, db, backend
}

// localWrite applies a local edit the way the stores do.
func localWrite(t *testing.T, db *localdb.DB, collection, id string, updatedAt int64, payload string) {
	t.Helper()

	_, err := db.UpsertLocal(context.Background(), &localdb.Doc{
		OwnerID:    testOwner,
		Collection: collection,
		ID:         id,
		UpdatedAt:  updatedAt,
		Payload:    []byte(payload),
	})
	if err != nil {
		t.Fatalf("failed to write local doc: %v", err)
	}
}

func TestSyncDownloadsNewerRemote(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	localWrite(t, db, "homework", "hw-1", 100, `{"title":"draft"}`)
	backend.seed("homework", "hw-1", 200, `{"title":"final"}`)

	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Downloaded != 1 {
		t.Errorf("downloaded = %d, want 1", result.Downloaded)
	}

	doc, err := db.GetDoc(ctx, testOwner, "homework", "hw-1")
	if err != nil {
		t.Fatalf("failed to read doc: %v", err)
	}
	if string(doc.Payload) != `{"title":"final"}` {
		t.Errorf("local payload = %s, want the remote version", doc.Payload)
	}
	if doc.UpdatedAt != 200 {
		t.Errorf("local updated_at = %d, want 200", doc.UpdatedAt)
	}
}

func TestSyncUploadsNewerLocal(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	backend.seed("homework", "hw-1", 100, `{"title":"old"}`)
	localWrite(t, db, "homework", "hw-1", 200, `{"title":"edited"}`)

	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Uploaded != 1 {
		t.Errorf("uploaded = %d, want 1", result.Uploaded)
	}

	remoteDoc := backend.get("homework", "hw-1")
	if string(remoteDoc.Payload) != `{"title":"edited"}` {
		t.Errorf("remote payload = %s, want the local version", remoteDoc.Payload)
	}

	// Journal drained, row clean.
	count, err := db.PendingCount(ctx, testOwner)
	if err != nil {
		t.Fatalf("failed to count pending ops: %v", err)
	}
	if count != 0 {
		t.Errorf("pending ops = %d, want 0", count)
	}
	doc, err := db.GetDoc(ctx, testOwner, "homework", "hw-1")
	if err != nil {
		t.Fatalf("failed to read doc: %v", err)
	}
	if doc.Dirty {
		t.Error("row should be clean after upload")
	}
}

func TestSyncRekeysOfflineCreatedRecord(t *testing.T) {
	r, db, _ := setupReconciler(t)
	ctx := context.Background()

	localID := record.NewLocalID()
	localWrite(t, db, "homework", localID, 100, fmt.Sprintf(`{"id":"%s","title":"new"}`, localID))

	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Uploaded != 1 {
		t.Errorf("uploaded = %d, want 1", result.Uploaded)
	}

	// The local id is gone; exactly one row remains under the backend id.
	if _, err := db.GetDoc(ctx, testOwner, "homework", localID); !errors.Is(err, localdb.ErrNotFound) {
		t.Errorf("local id should be gone, got err=%v", err)
	}
	doc, err := db.GetDoc(ctx, testOwner, "homework", "srv-1")
	if err != nil {
		t.Fatalf("failed to read rekeyed doc: %v", err)
	}

	// The embedded id was rewritten to match.
	var fields map[string]interface{}
	if err := json.Unmarshal(doc.Payload, &fields); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if fields["id"] != "srv-1" {
		t.Errorf("payload id = %v, want srv-1", fields["id"])
	}

	// Re-syncing does not duplicate anything.
	result, err = r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if result.Uploaded != 0 || result.Downloaded != 0 {
		t.Errorf("second pass should be a no-op, got %+v", result)
	}
}

func TestSyncKeepsEditMadeDuringFirstUpload(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	localID := record.NewLocalID()
	localWrite(t, db, "homework", localID, 100, fmt.Sprintf(`{"id":"%s","title":"v1"}`, localID))

	// A second local write lands while the first upload is in flight.
	backend.createHook = func() {
		localWrite(t, db, "homework", localID, 200, fmt.Sprintf(`{"id":"%s","title":"v2"}`, localID))
	}

	if _, err := r.SyncCollection(ctx, "homework"); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	backend.createHook = nil

	doc, err := db.GetDoc(ctx, testOwner, "homework", "srv-1")
	if err != nil {
		t.Fatalf("failed to read rekeyed doc: %v", err)
	}
	if doc.UpdatedAt != 200 {
		t.Errorf("updated_at = %d, want the in-flight edit's 200", doc.UpdatedAt)
	}
	if !doc.Dirty {
		t.Error("in-flight edit should stay pending")
	}

	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if result.Uploaded != 1 {
		t.Errorf("second pass uploads = %d, want 1", result.Uploaded)
	}
	stored := backend.get("homework", "srv-1")
	if stored == nil || !strings.Contains(string(stored.Payload), `"title":"v2"`) {
		t.Errorf("remote should hold the in-flight edit, got %v", stored)
	}
}

func TestSyncPropagatesLocalDelete(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	// A record both sides hold.
	backend.seed("homework", "hw-1", 100, `{}`)
	if _, err := db.UpsertRemote(ctx, &localdb.Doc{
		OwnerID: testOwner, Collection: "homework", ID: "hw-1", UpdatedAt: 100, Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("failed to seed local doc: %v", err)
	}

	if err := db.DeleteLocal(ctx, testOwner, "homework", "hw-1"); err != nil {
		t.Fatalf("failed to delete locally: %v", err)
	}

	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.DeletedRemote != 1 {
		t.Errorf("deleted remote = %d, want 1", result.DeletedRemote)
	}
	if backend.get("homework", "hw-1") != nil {
		t.Error("remote copy should be gone")
	}

	// The download phase must not have resurrected the deleted record.
	if _, err := db.GetDoc(ctx, testOwner, "homework", "hw-1"); !errors.Is(err, localdb.ErrNotFound) {
		t.Errorf("deleted record should stay gone locally, got err=%v", err)
	}
}

func TestSyncAppliesRemoteDelete(t *testing.T) {
	r, db, _ := setupReconciler(t)
	ctx := context.Background()

	// Local holds a clean synced copy; the remote no longer has it.
	if _, err := db.UpsertRemote(ctx, &localdb.Doc{
		OwnerID: testOwner, Collection: "homework", ID: "hw-1", UpdatedAt: 100, Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("failed to seed local doc: %v", err)
	}

	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.DeletedLocal != 1 {
		t.Errorf("deleted local = %d, want 1", result.DeletedLocal)
	}
	if _, err := db.GetDoc(ctx, testOwner, "homework", "hw-1"); !errors.Is(err, localdb.ErrNotFound) {
		t.Errorf("local row should be gone, got err=%v", err)
	}
}

func TestSyncOfflineAbortsAndRetries(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	localWrite(t, db, "homework", "hw-1", 100, `{"title":"pending"}`)
	backend.setOffline(true)

	_, err := r.SyncCollection(ctx, "homework")
	if !errors.Is(err, remote.ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}

	// Local state untouched, journal intact.
	count, err := db.PendingCount(ctx, testOwner)
	if err != nil {
		t.Fatalf("failed to count pending ops: %v", err)
	}
	if count != 1 {
		t.Errorf("pending ops = %d, want 1", count)
	}

	// Reconnect and retry: the pass completes.
	backend.setOffline(false)
	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.Uploaded != 1 {
		t.Errorf("uploaded = %d, want 1", result.Uploaded)
	}
}

func TestSyncSurfacesRejectedRecord(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	backend.seed("homework", "hw-1", 50, `{}`)
	localWrite(t, db, "homework", "hw-1", 100, `{"bad":"payload"}`)
	backend.rejectIDs["hw-1"] = true

	// Another record in the same pass still goes through.
	localWrite(t, db, "homework", "hw-2", 100, `{"title":"fine"}`)

	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("sync should not abort on a structural failure: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(result.Failed))
	}
	if result.Failed[0].ID != "hw-1" {
		t.Errorf("failed id = %q, want hw-1", result.Failed[0].ID)
	}
	if !errors.Is(result.Failed[0].Err, remote.ErrValidation) {
		t.Errorf("failure should unwrap to ErrValidation, got %v", result.Failed[0].Err)
	}

	// The rejected record stays queued as the pending local version.
	ops, err := db.PendingOps(ctx, testOwner, "homework")
	if err != nil {
		t.Fatalf("failed to read journal: %v", err)
	}
	if len(ops) != 1 || ops[0].DocID != "hw-1" {
		t.Fatalf("rejected op should stay queued, got %+v", ops)
	}
	if ops[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", ops[0].Attempts)
	}

	doc, err := db.GetDoc(ctx, testOwner, "homework", "hw-1")
	if err != nil {
		t.Fatalf("failed to read doc: %v", err)
	}
	if string(doc.Payload) != `{"bad":"payload"}` {
		t.Errorf("local copy should be retained, got %s", doc.Payload)
	}
}

func TestSyncAllContinuesPastOfflineCollection(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	localWrite(t, db, "homework", "hw-1", 100, `{}`)
	backend.setOffline(true)

	result, err := r.SyncAll(ctx, []string{"homework", "lessons"})
	if !errors.Is(err, remote.ErrOffline) {
		t.Errorf("expected ErrOffline, got %v", err)
	}
	if result == nil {
		t.Fatal("expected a merged result even on abort")
	}
}

func TestApplyEventUpdate(t *testing.T) {
	r, db, _ := setupReconciler(t)
	ctx := context.Background()

	err := r.ApplyEvent(ctx, remote.Event{
		Kind:       remote.EventUpdated,
		Collection: "homework",
		DocumentID: "hw-1",
		OwnerID:    testOwner,
		UpdatedAt:  200,
		Payload:    json.RawMessage(`{"title":"pushed"}`),
	})
	if err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	doc, err := db.GetDoc(ctx, testOwner, "homework", "hw-1")
	if err != nil {
		t.Fatalf("failed to read doc: %v", err)
	}
	if string(doc.Payload) != `{"title":"pushed"}` {
		t.Errorf("payload = %s", doc.Payload)
	}
}

func TestApplyEventFetchesMissingPayload(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	backend.seed("homework", "hw-1", 200, `{"title":"fetched"}`)

	err := r.ApplyEvent(ctx, remote.Event{
		Kind:       remote.EventCreated,
		Collection: "homework",
		DocumentID: "hw-1",
		OwnerID:    testOwner,
		UpdatedAt:  200,
	})
	if err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	doc, err := db.GetDoc(ctx, testOwner, "homework", "hw-1")
	if err != nil {
		t.Fatalf("failed to read doc: %v", err)
	}
	if string(doc.Payload) != `{"title":"fetched"}` {
		t.Errorf("payload = %s", doc.Payload)
	}
}

func TestApplyEventDelete(t *testing.T) {
	r, db, _ := setupReconciler(t)
	ctx := context.Background()

	if _, err := db.UpsertRemote(ctx, &localdb.Doc{
		OwnerID: testOwner, Collection: "homework", ID: "hw-1", UpdatedAt: 100, Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("failed to seed doc: %v", err)
	}

	err := r.ApplyEvent(ctx, remote.Event{
		Kind:       remote.EventDeleted,
		Collection: "homework",
		DocumentID: "hw-1",
		OwnerID:    testOwner,
	})
	if err != nil {
		t.Fatalf("failed to apply delete event: %v", err)
	}
	if _, err := db.GetDoc(ctx, testOwner, "homework", "hw-1"); !errors.Is(err, localdb.ErrNotFound) {
		t.Errorf("row should be gone, got err=%v", err)
	}
}

func TestApplyEventIgnoresOtherOwners(t *testing.T) {
	r, db, _ := setupReconciler(t)
	ctx := context.Background()

	err := r.ApplyEvent(ctx, remote.Event{
		Kind:       remote.EventUpdated,
		Collection: "homework",
		DocumentID: "hw-1",
		OwnerID:    "someone-else",
		UpdatedAt:  200,
		Payload:    json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("event for another owner should be a silent no-op: %v", err)
	}
	if _, err := db.GetDoc(ctx, testOwner, "homework", "hw-1"); !errors.Is(err, localdb.ErrNotFound) {
		t.Errorf("nothing should be stored, got err=%v", err)
	}
}

func TestApplyEventStaleUpdateIgnored(t *testing.T) {
	r, db, _ := setupReconciler(t)
	ctx := context.Background()

	localWrite(t, db, "homework", "hw-1", 300, `{"title":"newer local"}`)

	err := r.ApplyEvent(ctx, remote.Event{
		Kind:       remote.EventUpdated,
		Collection: "homework",
		DocumentID: "hw-1",
		OwnerID:    testOwner,
		UpdatedAt:  100,
		Payload:    json.RawMessage(`{"title":"stale"}`),
	})
	if err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	doc, err := db.GetDoc(ctx, testOwner, "homework", "hw-1")
	if err != nil {
		t.Fatalf("failed to read doc: %v", err)
	}
	if string(doc.Payload) != `{"title":"newer local"}` {
		t.Errorf("stale event should not overwrite, got %s", doc.Payload)
	}
}

func TestApplyEventDeleteKeepsDirtyLocalEdit(t *testing.T) {
	r, db, backend := setupReconciler(t)
	ctx := context.Background()

	localWrite(t, db, "homework", "hw-1", 300, `{"id":"hw-1","title":"unsent edit"}`)

	err := r.ApplyEvent(ctx, remote.Event{
		Kind:       remote.EventDeleted,
		Collection: "homework",
		DocumentID: "hw-1",
		OwnerID:    testOwner,
	})
	if err != nil {
		t.Fatalf("failed to apply event: %v", err)
	}

	doc, err := db.GetDoc(ctx, testOwner, "homework", "hw-1")
	if err != nil {
		t.Fatalf("pending local edit should survive a remote delete: %v", err)
	}
	if !doc.Dirty {
		t.Error("surviving row should stay dirty")
	}

	// The next pass re-uploads the edit instead of treating it as deleted.
	result, err := r.SyncCollection(ctx, "homework")
	if err != nil {
		t.Fatalf("failed to sync: %v", err)
	}
	if result.Uploaded != 1 {
		t.Errorf("expected 1 upload, got %d", result.Uploaded)
	}
	if backend.get("homework", "hw-1") == nil {
		t.Error("edit should be back on the remote")
	}
}
