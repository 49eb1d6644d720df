package dedup

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/internal/stores"
	"property-reconciliation-service/pkg/errors"
)

func createTestUndoManager(t *testing.T, store *stores.MemoryStore, clock *testClock) *UndoManager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Now = clock.Now

	manager, err := NewUndoManager(store, store, cfg)
	if err != nil {
		t.Fatalf("NewUndoManager failed: %v", err)
	}
	return manager
}

func mergeTestGroup(t *testing.T, merger *Merger) *MergeOutcome {
	t.Helper()
	outcome, err := merger.Merge(context.Background(), MergeRequest{
		OrganizationID: testOrg,
		GroupKey:       testGroupKey(),
		CanonicalID:    "line-2",
		Policy:         models.PolicySumAmounts,
		Comment:        "same rent booked three times",
		ActorID:        "alice",
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	return outcome
}

func TestUndo_RoundTrip(t *testing.T) {
	store := createTestGroupStore(t)
	clock := &testClock{now: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)}
	merger := createTestMerger(t, store, clock)
	manager := createTestUndoManager(t, store, clock)

	before := map[string]models.InvoiceLine{}
	for _, id := range []string{"line-1", "line-2", "line-3"} {
		before[id] = store.GetLine(id).Clone()
	}

	merged := mergeTestGroup(t, merger)

	clock.now = clock.now.Add(30 * time.Minute)
	outcome, err := manager.Undo(context.Background(), merged.TombstoneID, "bob")
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	if outcome.RestoredCount != 2 {
		t.Errorf("Expected 2 restored lines, got %d", outcome.RestoredCount)
	}
	if outcome.CanonicalID != "line-2" {
		t.Errorf("Expected canonical line-2, got %s", outcome.CanonicalID)
	}

	// Every row must come back exactly as it was before the merge.
	for id, want := range before {
		got := store.GetLine(id)
		if got == nil {
			t.Fatalf("Expected %s to exist after undo", id)
		}
		if !got.Equals(&want) {
			t.Errorf("Line %s differs from pre-merge state: got %+v want %+v", id, got, want)
		}
	}

	// The group is a duplicate group again.
	grouper := NewGrouper(store)
	groups, err := grouper.ListGroups(context.Background(), testOrg)
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Size() != 3 {
		t.Errorf("Expected the 3-member group back after undo, got %v", groups)
	}
}

func TestUndo_AuditReferencesMerge(t *testing.T) {
	store := createTestGroupStore(t)
	clock := &testClock{now: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)}
	merger := createTestMerger(t, store, clock)
	manager := createTestUndoManager(t, store, clock)

	merged := mergeTestGroup(t, merger)
	outcome, err := manager.Undo(context.Background(), merged.TombstoneID, "bob")
	if err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	audits := store.Audits()
	if len(audits) != 2 {
		t.Fatalf("Expected merge and undo audit records, got %d", len(audits))
	}
	undoAudit := audits[1]
	if undoAudit.Action != models.ActionUndo {
		t.Errorf("Expected undo action, got %s", undoAudit.Action)
	}
	if undoAudit.ID != outcome.AuditLogID {
		t.Error("Expected outcome to reference the undo audit record")
	}
	if undoAudit.Actor != "bob" {
		t.Errorf("Expected actor bob, got %s", undoAudit.Actor)
	}

	var state undoAuditState
	if err := json.Unmarshal(undoAudit.NewState, &state); err != nil {
		t.Fatalf("Failed to decode undo audit state: %v", err)
	}
	if state.MergeAuditLogID != merged.AuditLogID {
		t.Errorf("Expected undo audit to reference merge audit %s, got %s",
			merged.AuditLogID, state.MergeAuditLogID)
	}
	if len(state.RestoredLineIDs) != 2 {
		t.Errorf("Expected 2 restored ids in audit state, got %v", state.RestoredLineIDs)
	}
}

func TestUndo_WindowLapsed(t *testing.T) {
	store := createTestGroupStore(t)
	clock := &testClock{now: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)}
	merger := createTestMerger(t, store, clock)
	manager := createTestUndoManager(t, store, clock)

	merged := mergeTestGroup(t, merger)

	// The window boundary itself is already too late.
	clock.now = merged.TombstoneExpiresAt
	_, err := manager.Undo(context.Background(), merged.TombstoneID, "bob")
	if err == nil {
		t.Fatal("Expected undo to fail after the window")
	}
	if !errors.IsExpired(err) {
		t.Errorf("Expected expired kind, got %v", err)
	}

	// Nothing was touched.
	if store.GetLine("line-1").IsLive() {
		t.Error("Expected line-1 to stay soft-deleted after failed undo")
	}
	if len(store.Audits()) != 1 {
		t.Error("Expected no undo audit record after failed undo")
	}
}

func TestUndo_OnlyOnce(t *testing.T) {
	store := createTestGroupStore(t)
	clock := &testClock{now: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)}
	merger := createTestMerger(t, store, clock)
	manager := createTestUndoManager(t, store, clock)

	merged := mergeTestGroup(t, merger)
	if _, err := manager.Undo(context.Background(), merged.TombstoneID, "bob"); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	_, err := manager.Undo(context.Background(), merged.TombstoneID, "bob")
	if err == nil {
		t.Fatal("Expected second undo to fail")
	}
	if !errors.IsNotFound(err) {
		t.Errorf("Expected not-found kind for a used tombstone, got %v", err)
	}
}

func TestUndo_UnknownTombstone(t *testing.T) {
	store := createTestGroupStore(t)
	clock := &testClock{now: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)}
	manager := createTestUndoManager(t, store, clock)

	_, err := manager.Undo(context.Background(), "no-such-tombstone", "bob")
	if err == nil {
		t.Fatal("Expected undo of unknown tombstone to fail")
	}
	if !errors.IsNotFound(err) {
		t.Errorf("Expected not-found kind, got %v", err)
	}
}

func TestListPendingUndos(t *testing.T) {
	store := createTestGroupStore(t)
	clock := &testClock{now: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)}
	merger := createTestMerger(t, store, clock)
	manager := createTestUndoManager(t, store, clock)

	pending, err := manager.ListPendingUndos(context.Background(), testOrg)
	if err != nil {
		t.Fatalf("ListPendingUndos failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("Expected no pending undos before merging, got %d", len(pending))
	}

	merged := mergeTestGroup(t, merger)

	pending, err = manager.ListPendingUndos(context.Background(), testOrg)
	if err != nil {
		t.Fatalf("ListPendingUndos failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected one pending undo, got %d", len(pending))
	}
	entry := pending[0]
	if entry.TombstoneID != merged.TombstoneID {
		t.Errorf("Expected tombstone %s, got %s", merged.TombstoneID, entry.TombstoneID)
	}
	if entry.MergedCount != 2 {
		t.Errorf("Expected merged count 2, got %d", entry.MergedCount)
	}
	if entry.Policy != models.PolicySumAmounts {
		t.Errorf("Expected policy sum_amounts, got %s", entry.Policy)
	}

	// Other organizations never see it.
	other, err := manager.ListPendingUndos(context.Background(), "org-2")
	if err != nil {
		t.Fatalf("ListPendingUndos failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no pending undos for another organization, got %d", len(other))
	}

	if _, err := manager.Undo(context.Background(), merged.TombstoneID, "bob"); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	pending, err = manager.ListPendingUndos(context.Background(), testOrg)
	if err != nil {
		t.Fatalf("ListPendingUndos failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending undos after undo, got %d", len(pending))
	}
}
