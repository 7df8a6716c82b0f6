package tracker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/storage"
)

func TestLedgerMarkAndCheck(t *testing.T) {
	clock := newFakeClock()
	ledger := NewLedger(storage.NewMemoryStore(), LedgerOptions{Now: clock.Now})

	if ledger.IsDismissed(5) {
		t.Error("Expected 5 not dismissed initially")
	}
	ledger.MarkDismissed(5)
	if !ledger.IsDismissed(5) {
		t.Error("Expected 5 dismissed after MarkDismissed")
	}
	if ledger.IsDismissed(6) {
		t.Error("Expected 6 not dismissed")
	}
}

func TestLedgerExpiryPurgesOnRead(t *testing.T) {
	clock := newFakeClock()
	store := storage.NewMemoryStore()
	ledger := NewLedger(store, LedgerOptions{Now: clock.Now, Retention: time.Hour})

	ledger.MarkDismissed(1)
	clock.Advance(30 * time.Minute)
	ledger.MarkDismissed(2)

	clock.Advance(31 * time.Minute)
	if ledger.IsDismissed(1) {
		t.Error("Entry older than retention should no longer suppress")
	}
	if !ledger.IsDismissed(2) {
		t.Error("Entry within retention should still suppress")
	}

	raw, _, _ := store.Get(constants.StorageKeyDismissed)
	var entries map[string]int64
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("Persisted ledger is not valid JSON: %v", err)
	}
	if _, ok := entries["1"]; ok {
		t.Error("Expired entry should be purged from storage")
	}
	if _, ok := entries["2"]; !ok {
		t.Error("Live entry should remain in storage")
	}
}

func TestLedgerMarkRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	ledger := NewLedger(storage.NewMemoryStore(), LedgerOptions{Now: clock.Now})

	ledger.MarkDismissed(1)
	clock.Advance(50 * time.Minute)
	ledger.MarkDismissed(1)
	clock.Advance(50 * time.Minute)

	if !ledger.IsDismissed(1) {
		t.Error("Refreshed entry should still suppress")
	}
}

func TestLedgerPersistedFormat(t *testing.T) {
	clock := newFakeClock()
	store := storage.NewMemoryStore()
	ledger := NewLedger(store, LedgerOptions{Now: clock.Now})

	ledger.MarkDismissed(42)

	raw, ok, _ := store.Get(constants.StorageKeyDismissed)
	if !ok {
		t.Fatal("Expected ledger to be persisted")
	}
	var entries map[string]int64
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("Expected JSON object, got %q: %v", raw, err)
	}
	if entries["42"] != clock.Now().UnixMilli() {
		t.Errorf("Expected epoch ms %d, got %d", clock.Now().UnixMilli(), entries["42"])
	}
}

func TestLedgerUnreadableStorage(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Set(constants.StorageKeyDismissed, "not json")
	ledger := NewLedger(store, LedgerOptions{})

	if ledger.IsDismissed(1) {
		t.Error("Unreadable ledger should be treated as empty")
	}
	ledger.MarkDismissed(1)
	if !ledger.IsDismissed(1) {
		t.Error("MarkDismissed should replace an unreadable ledger")
	}
}

func TestLedgerDismissed(t *testing.T) {
	ledger := NewLedger(storage.NewMemoryStore(), LedgerOptions{})
	ledger.MarkDismissed(9)
	ledger.MarkDismissed(3)

	ids := ledger.Dismissed()
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 9 {
		t.Errorf("Expected [3 9], got %v", ids)
	}
}
