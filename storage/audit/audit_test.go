package audit

import (
	"path/filepath"
	"testing"

	"fusiond/core/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	store.SetNowFunc(func() int64 { return 1_700_000_000 })
	return store
}

func TestEmitAndRecent(t *testing.T) {
	store := openTestStore(t)
	store.Emit(&events.Event{Type: "order.created", Attributes: map[string]string{"id": "1"}})
	store.Emit(&events.Event{Type: "order.filled", Attributes: map[string]string{"id": "1"}})

	recent, err := store.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("records = %d, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Type != "order.filled" || recent[1].Type != "order.created" {
		t.Fatalf("unexpected order: %s, %s", recent[0].Type, recent[1].Type)
	}
	if recent[0].Attributes["id"] != "1" {
		t.Fatalf("attributes lost: %+v", recent[0].Attributes)
	}
	if recent[0].RecordedAt != 1_700_000_000 {
		t.Fatalf("recordedAt = %d", recent[0].RecordedAt)
	}
	if store.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", store.Dropped())
	}
}

func TestCountByType(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 3; i++ {
		store.Emit(&events.Event{Type: "escrow.created", Attributes: map[string]string{}})
	}
	store.Emit(&events.Event{Type: "escrow.claimed", Attributes: map[string]string{}})

	counts, err := store.CountByType()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["escrow.created"] != 3 || counts["escrow.claimed"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
