package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/satchelapp/satchel/internal/localdb"
	"github.com/satchelapp/satchel/internal/record"
)

const testOwner = "user-1"

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *localdb.DB {
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
	return db
}

// testHomework builds a homework record with a fixed timestamp.
func testHomework(id, title string, updatedAt int64) record.Homework {
	return record.Homework{
		ID:        id,
		Title:     title,
		Subject:   "Math",
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

// recvValue waits for the next emission on a subscription.
func recvValue[V any](t *testing.T, sub *Subscription[V]) V {
	t.Helper()

	select {
	case v, ok := <-sub.Updates():
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription emission")
	}
	panic("unreachable")
}

func TestMultipleDocumentsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewLocalMultipleDocuments[record.Homework](db, NewHub(), testOwner, record.CollectionHomework)

	hw := testHomework("hw-1", "Read chapter 4", 100)
	if err := s.AddOrUpdateItem(ctx, hw); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	sub, err := s.FetchItemByID(ctx, "hw-1")
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	defer sub.Cancel()

	got := recvValue(t, sub)
	if got == nil {
		t.Fatal("expected an item, got nil")
	}
	if got.Title != "Read chapter 4" {
		t.Errorf("title = %q, want %q", got.Title, "Read chapter 4")
	}

	metas, err := s.FetchAllMetadata(ctx)
	if err != nil {
		t.Fatalf("failed to fetch metadata: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != "hw-1" || metas[0].UpdatedAt != 100 {
		t.Errorf("unexpected metadata: %+v", metas)
	}
}

func TestSubscriptionEmitsOnChange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewLocalMultipleDocuments[record.Homework](db, NewHub(), testOwner, record.CollectionHomework)

	if err := s.AddOrUpdateItem(ctx, testHomework("hw-1", "draft", 100)); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	sub, err := s.FetchItemByID(ctx, "hw-1")
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	defer sub.Cancel()

	first := recvValue(t, sub)
	if first.Title != "draft" {
		t.Errorf("initial emission title = %q, want draft", first.Title)
	}

	if err := s.AddOrUpdateItem(ctx, testHomework("hw-1", "final", 200)); err != nil {
		t.Fatalf("failed to update item: %v", err)
	}

	second := recvValue(t, sub)
	if second.Title != "final" {
		t.Errorf("emission after update title = %q, want final", second.Title)
	}
}

func TestSubscriptionEmitsNilAfterDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewLocalMultipleDocuments[record.Homework](db, NewHub(), testOwner, record.CollectionHomework)

	if err := s.AddOrUpdateItem(ctx, testHomework("hw-1", "draft", 100)); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	sub, err := s.FetchItemByID(ctx, "hw-1")
	if err != nil {
		t.Fatalf("failed to fetch item: %v", err)
	}
	defer sub.Cancel()
	recvValue(t, sub)

	if err := s.DeleteItemsByID(ctx, []string{"hw-1"}); err != nil {
		t.Fatalf("failed to delete item: %v", err)
	}

	got := recvValue(t, sub)
	if got != nil {
		t.Errorf("expected nil emission after delete, got %+v", got)
	}
}

func TestSubscriptionCancelClosesChannel(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewLocalMultipleDocuments[record.Homework](db, NewHub(), testOwner, record.CollectionHomework)

	sub, err := s.FetchItemsByID(ctx, []string{"hw-1"})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	recvValue(t, sub)
	sub.Cancel()

	select {
	case _, ok := <-sub.Updates():
		if ok {
			// Drain any in-flight value; the channel must close after.
			if _, ok := <-sub.Updates(); ok {
				t.Error("channel should be closed after Cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestSingleDocumentSupersedes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewLocalSingleDocument[record.Settings](db, NewHub(), testOwner, record.CollectionSettings)

	first := record.Settings{ID: "s-1", Theme: "light", PeriodsPerDay: 8, CreatedAt: 100, UpdatedAt: 100}
	if err := s.AddOrUpdateItem(ctx, first); err != nil {
		t.Fatalf("failed to add settings: %v", err)
	}

	// A write under a different id replaces the current document.
	second := record.Settings{ID: "s-2", Theme: "dark", PeriodsPerDay: 8, CreatedAt: 200, UpdatedAt: 200}
	if err := s.AddOrUpdateItem(ctx, second); err != nil {
		t.Fatalf("failed to replace settings: %v", err)
	}

	meta, err := s.FetchMetadata(ctx)
	if err != nil {
		t.Fatalf("failed to fetch metadata: %v", err)
	}
	if meta == nil || meta.ID != "s-2" {
		t.Fatalf("metadata = %+v, want id s-2", meta)
	}

	docs, err := db.ListDocs(ctx, testOwner, record.CollectionSettings)
	if err != nil {
		t.Fatalf("failed to list docs: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("single-document collection holds %d rows, want 1", len(docs))
	}

	if err := s.DeleteItem(ctx); err != nil {
		t.Fatalf("failed to delete settings: %v", err)
	}
	meta, err = s.FetchMetadata(ctx)
	if err != nil {
		t.Fatalf("failed to fetch metadata: %v", err)
	}
	if meta != nil {
		t.Errorf("metadata after delete = %+v, want nil", meta)
	}
}

func TestSingleDocumentFetchItemEmpty(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewLocalSingleDocument[record.Settings](db, NewHub(), testOwner, record.CollectionSettings)

	sub, err := s.FetchItem(ctx)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Cancel()

	if got := recvValue(t, sub); got != nil {
		t.Errorf("empty collection should emit nil, got %+v", got)
	}
}

func TestOfflineStoreIsolatedFromSynced(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	hub := NewHub()

	offline := NewLocalOffline[record.Homework](db, hub, testOwner, record.CollectionHomework)
	synced := NewLocalMultipleDocuments[record.Homework](db, hub, testOwner, record.CollectionHomework)

	if err := offline.AddOrUpdateItem(ctx, testHomework("hw-1", "offline only", 100)); err != nil {
		t.Fatalf("failed to add offline item: %v", err)
	}

	// The synced store does not see offline-space rows.
	metas, err := synced.FetchAllMetadata(ctx)
	if err != nil {
		t.Fatalf("failed to fetch synced metadata: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("synced store should not see offline rows, got %d", len(metas))
	}

	sub, err := offline.FetchAllItems(ctx)
	if err != nil {
		t.Fatalf("failed to subscribe to offline items: %v", err)
	}
	defer sub.Cancel()

	items := recvValue(t, sub)
	if len(items) != 1 || items[0].Title != "offline only" {
		t.Errorf("unexpected offline items: %+v", items)
	}

	if err := offline.DeleteAllItems(ctx); err != nil {
		t.Fatalf("failed to clear offline store: %v", err)
	}
	items = recvValue(t, sub)
	if len(items) != 0 {
		t.Errorf("offline store should be empty after clear, got %+v", items)
	}
}

func TestFullSyncedTopology(t *testing.T) {
	db := setupTestDB(t)
	hub := NewHub()

	single := NewSingleDocumentStore(NewLocalSingleDocument[record.Settings](db, hub, testOwner, record.CollectionSettings))
	if single.Topology() != TopologySingleDocument {
		t.Errorf("topology = %v, want single document", single.Topology())
	}
	if _, ok := single.Single(); !ok {
		t.Error("Single() should succeed on a single-document store")
	}
	if _, ok := single.Multi(); ok {
		t.Error("Multi() should fail on a single-document store")
	}

	multi := NewMultipleDocumentsStore(NewLocalMultipleDocuments[record.Homework](db, hub, testOwner, record.CollectionHomework))
	if multi.Topology() != TopologyMultipleDocuments {
		t.Errorf("topology = %v, want multiple documents", multi.Topology())
	}
	if _, ok := multi.Multi(); !ok {
		t.Error("Multi() should succeed on a multiple-documents store")
	}
}

func TestCombinedSelectsByEntitlement(t *testing.T) {
	db := setupTestDB(t)
	hub := NewHub()

	offline := NewLocalOffline[record.Homework](db, hub, testOwner, record.CollectionHomework)
	synced := NewMultipleDocumentsStore(NewLocalMultipleDocuments[record.Homework](db, hub, testOwner, record.CollectionHomework))

	c := NewCombined(offline, synced)
	if c.Offline() == nil {
		t.Error("Offline() should return the offline store")
	}
	if c.Sync().Topology() != TopologyMultipleDocuments {
		t.Error("Sync() should return the synced store")
	}
}

func TestHubNotifyDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ch := hub.register(testOwner, "homework")
	defer hub.unregister(testOwner, "homework", ch)

	// Nobody drains ch; repeated notifications must still return.
	for i := 0; i < 10; i++ {
		hub.Notify(testOwner, "homework")
	}

	select {
	case <-ch:
	default:
		t.Error("expected a pending signal")
	}
}
