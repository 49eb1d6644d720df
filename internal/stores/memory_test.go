package stores

import (
	"context"
	"testing"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func createTestTransaction(accountID, reference string, bookingDate time.Time, amount string) models.Transaction {
	return models.Transaction{
		ID:          "tx-" + reference,
		AccountID:   accountID,
		Reference:   reference,
		BookingDate: bookingDate,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "EUR",
		MatchMethod: models.MethodNone,
		CreatedAt:   bookingDate,
	}
}

func TestHasDuplicate(t *testing.T) {
	store := NewMemoryStore()
	booked := time.Date(2025, 5, 2, 8, 30, 0, 0, time.UTC)

	err := store.InsertTransaction(context.Background(), createTestTransaction("acct-1", "REF-001", booked, "850.00"))
	if err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	tests := []struct {
		name      string
		accountID string
		date      time.Time
		amount    string
		reference string
		want      bool
	}{
		{"exact tuple", "acct-1", booked, "850.00", "REF-001", true},
		{"same day different time", "acct-1", booked.Add(7 * time.Hour), "850.00", "REF-001", true},
		{"reference case folded", "acct-1", booked, "850.00", "ref-001", true},
		{"empty reference matches on date and amount", "acct-1", booked, "850.00", "", true},
		{"different account", "acct-2", booked, "850.00", "REF-001", false},
		{"different day", "acct-1", booked.AddDate(0, 0, 1), "850.00", "REF-001", false},
		{"different amount", "acct-1", booked, "850.01", "REF-001", false},
		{"different reference", "acct-1", booked, "850.00", "REF-002", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.HasDuplicate(context.Background(), tt.accountID, tt.date, decimal.RequireFromString(tt.amount), tt.reference)
			if err != nil {
				t.Fatalf("HasDuplicate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestUpsertPattern(t *testing.T) {
	store := NewMemoryStore()
	pattern := models.LearnedPattern{
		OrganizationID: "org-1",
		Pattern:        "dauerauftrag miete huber",
		TenantID:       "ten-huber",
		UnitID:         "unit-12",
	}

	first, err := store.UpsertPattern(context.Background(), pattern)
	if err != nil {
		t.Fatalf("UpsertPattern failed: %v", err)
	}
	if first.ID == "" {
		t.Error("Expected an id to be assigned")
	}
	if first.UseCount != 1 {
		t.Errorf("Expected use count 1, got %d", first.UseCount)
	}

	// Same text again counts up and can reassign.
	pattern.UnitID = "unit-3"
	second, err := store.UpsertPattern(context.Background(), pattern)
	if err != nil {
		t.Fatalf("Second UpsertPattern failed: %v", err)
	}
	if second.UseCount != 2 {
		t.Errorf("Expected use count 2, got %d", second.UseCount)
	}
	if second.UnitID != "unit-3" {
		t.Errorf("Expected reassigned unit, got %s", second.UnitID)
	}
	if second.ID != first.ID {
		t.Error("Expected the same pattern record")
	}

	listed, err := store.ListPatterns(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListPatterns failed: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("Expected one stored pattern, got %d", len(listed))
	}

	// Pattern text is scoped per organization.
	other := pattern
	other.OrganizationID = "org-2"
	if _, err := store.UpsertPattern(context.Background(), other); err != nil {
		t.Fatalf("UpsertPattern for org-2 failed: %v", err)
	}
	listed, err = store.ListPatterns(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListPatterns failed: %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("Expected org-1 listing unchanged, got %d", len(listed))
	}
}

func TestUpsertPattern_RejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.UpsertPattern(context.Background(), models.LearnedPattern{OrganizationID: "org-1"}); err == nil {
		t.Fatal("Expected pattern without text to be rejected")
	}
}

func TestLineLifecycle(t *testing.T) {
	store := NewMemoryStore()
	created := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	store.SeedLines("org-1", []models.InvoiceLine{
		{ID: "line-1", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: created},
		{ID: "line-2", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: created},
	})

	deletedAt := created.Add(time.Hour)
	if err := store.SoftDeleteLines(context.Background(), []string{"line-2"}, deletedAt); err != nil {
		t.Fatalf("SoftDeleteLines failed: %v", err)
	}

	live, err := store.ListLive(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListLive failed: %v", err)
	}
	if len(live) != 1 || live[0].ID != "line-1" {
		t.Errorf("Expected only line-1 live, got %v", live)
	}

	// Soft-deleted rows stay retrievable with their deletion marker.
	deleted := store.GetLine("line-2")
	if deleted == nil || deleted.DeletedAt == nil || !deleted.DeletedAt.Equal(deletedAt) {
		t.Errorf("Expected line-2 soft-deleted at %s, got %v", deletedAt, deleted)
	}

	if err := store.RestoreLines(context.Background(), []string{"line-2"}); err != nil {
		t.Fatalf("RestoreLines failed: %v", err)
	}
	live, err = store.ListLive(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListLive failed: %v", err)
	}
	if len(live) != 2 {
		t.Errorf("Expected both lines live after restore, got %d", len(live))
	}

	err = store.SoftDeleteLines(context.Background(), []string{"line-9"}, deletedAt)
	if !errors.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown line, got %v", err)
	}
	err = store.UpdateLine(context.Background(), models.InvoiceLine{ID: "line-9"})
	if !errors.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown line, got %v", err)
	}
}

func TestListLive_ReturnsClones(t *testing.T) {
	store := NewMemoryStore()
	store.SeedLines("org-1", []models.InvoiceLine{
		{ID: "line-1", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Metadata: models.Metadata{"source": "import"},
			CreatedAt: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)},
	})

	live, _ := store.ListLive(context.Background(), "org-1")
	live[0].Metadata["source"] = "tampered"

	if store.GetLine("line-1").Metadata["source"] != "import" {
		t.Error("Expected stored metadata to be isolated from returned copies")
	}
}

func createTestMergeMutation(now time.Time) MergeMutation {
	return MergeMutation{
		Canonical: models.InvoiceLine{
			ID: "line-1", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("20.00"),
			Metadata:  models.Metadata{"merged": true},
			CreatedAt: now.Add(-time.Hour),
		},
		DeleteIDs: []string{"line-2"},
		DeletedAt: now,
		Audit: models.AuditRecord{
			ID: "audit-1", Actor: "alice", Table: "invoice_lines",
			RecordID: "line-1", Action: models.ActionMerge, CreatedAt: now,
		},
		Tombstone: models.MergeTombstone{
			ID: "ts-1", OrganizationID: "org-1", AuditLogID: "audit-1",
			GroupKey: "inv-1|unit-5|rent|miete mai", CanonicalID: "line-1",
			DeletedLineIDs: []string{"line-2"}, Policy: models.PolicySumAmounts,
			MergedBy: "alice", CreatedAt: now, ExpiresAt: now.Add(2 * time.Hour),
		},
	}
}

func TestApplyMerge(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	store.SeedLines("org-1", []models.InvoiceLine{
		{ID: "line-1", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: now.Add(-time.Hour)},
		{ID: "line-2", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: now.Add(-time.Hour)},
	})

	if err := store.ApplyMerge(context.Background(), createTestMergeMutation(now)); err != nil {
		t.Fatalf("ApplyMerge failed: %v", err)
	}

	if !store.GetLine("line-1").Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("Expected rewritten canonical, got %s", store.GetLine("line-1").Amount)
	}
	if store.GetLine("line-2").IsLive() {
		t.Error("Expected line-2 soft-deleted")
	}
	if len(store.Audits()) != 1 {
		t.Errorf("Expected one audit record, got %d", len(store.Audits()))
	}
	if got, _ := store.Get(context.Background(), "ts-1"); got == nil {
		t.Error("Expected the tombstone to exist")
	}
}

func TestApplyMerge_DeletedTargetLeavesNoTrace(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	store.SeedLines("org-1", []models.InvoiceLine{
		{ID: "line-1", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: now.Add(-time.Hour)},
		{ID: "line-2", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: now.Add(-time.Hour)},
	})
	if err := store.SoftDeleteLines(context.Background(), []string{"line-2"}, now); err != nil {
		t.Fatalf("SoftDeleteLines failed: %v", err)
	}

	// line-2 was deleted between planning and apply; the whole merge fails
	// and the canonical keeps its values.
	if err := store.ApplyMerge(context.Background(), createTestMergeMutation(now)); err == nil {
		t.Fatal("Expected merge against a deleted target to fail")
	}
	if !store.GetLine("line-1").Amount.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("Expected canonical untouched, got %s", store.GetLine("line-1").Amount)
	}
	if len(store.Audits()) != 0 {
		t.Error("Expected no audit record after failed merge")
	}
	if got, _ := store.Get(context.Background(), "ts-1"); got != nil {
		t.Error("Expected no tombstone after failed merge")
	}
}

func TestApplyUndo_OnlyOnce(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	store.SeedLines("org-1", []models.InvoiceLine{
		{ID: "line-1", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: now.Add(-time.Hour)},
		{ID: "line-2", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"), CreatedAt: now.Add(-time.Hour)},
	})
	merge := createTestMergeMutation(now)
	if err := store.ApplyMerge(context.Background(), merge); err != nil {
		t.Fatalf("ApplyMerge failed: %v", err)
	}

	undo := UndoMutation{
		TombstoneID: "ts-1",
		UndoneAt:    now.Add(time.Minute),
		Canonical: models.InvoiceLine{
			ID: "line-1", InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent",
			NormalizedDescription: "miete mai", Amount: decimal.RequireFromString("10.00"),
			CreatedAt: now.Add(-time.Hour),
		},
		RestoreIDs: []string{"line-2"},
		Audit: models.AuditRecord{
			ID: "audit-2", Actor: "alice", Table: "invoice_lines",
			RecordID: "line-1", Action: models.ActionUndo, CreatedAt: now.Add(time.Minute),
		},
	}
	if err := store.ApplyUndo(context.Background(), undo); err != nil {
		t.Fatalf("ApplyUndo failed: %v", err)
	}
	if !store.GetLine("line-2").IsLive() {
		t.Error("Expected line-2 restored")
	}
	if len(store.Audits()) != 2 {
		t.Errorf("Expected merge and undo audit records, got %d", len(store.Audits()))
	}

	// A consumed tombstone cannot be undone again, and the second attempt
	// changes nothing.
	if err := store.ApplyUndo(context.Background(), undo); err == nil {
		t.Fatal("Expected second undo to fail")
	}
	if len(store.Audits()) != 2 {
		t.Errorf("Expected no further audit records, got %d", len(store.Audits()))
	}
}

func TestListActive_OrdersBySoonestExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	base := models.MergeTombstone{
		OrganizationID: "org-1", CanonicalID: "line-1",
		Policy: models.PolicyKeepLatest, MergedBy: "alice",
	}

	early := base
	early.ID = "ts-early"
	early.GroupKey = "inv-1|unit-5|rent|miete mai"
	early.CreatedAt = now
	early.ExpiresAt = now.Add(30 * time.Minute)

	late := base
	late.ID = "ts-late"
	late.GroupKey = "inv-2|unit-5|rent|miete mai"
	late.CreatedAt = now.Add(-time.Hour)
	late.ExpiresAt = now.Add(2 * time.Hour)

	// Inserted with the later expiry first, and created earlier too.
	if err := store.Insert(context.Background(), late); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(context.Background(), early); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	listed, err := store.ListActive(context.Background(), "org-1", now)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected both tombstones active, got %d", len(listed))
	}
	if listed[0].ID != "ts-early" || listed[1].ID != "ts-late" {
		t.Errorf("Expected soonest expiry first, got %s then %s", listed[0].ID, listed[1].ID)
	}
}

func TestTombstoneLifecycle(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	tombstone := models.MergeTombstone{
		ID:             "ts-1",
		OrganizationID: "org-1",
		GroupKey:       "inv-1|unit-5|rent|miete mai",
		CanonicalID:    "line-2",
		DeletedLineIDs: []string{"line-1", "line-3"},
		Policy:         models.PolicyKeepLatest,
		MergedBy:       "alice",
		CreatedAt:      now,
		ExpiresAt:      now.Add(2 * time.Hour),
	}

	if err := store.Insert(context.Background(), tombstone); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(context.Background(), tombstone); err == nil {
		t.Fatal("Expected duplicate insert to fail")
	}

	got, err := store.Get(context.Background(), "ts-1")
	if err != nil || got == nil {
		t.Fatalf("Expected tombstone, got %v/%v", got, err)
	}

	missing, err := store.Get(context.Background(), "ts-9")
	if err != nil || missing != nil {
		t.Errorf("Expected nil without error for unknown id, got %v/%v", missing, err)
	}

	active, err := store.FindActiveByGroup(context.Background(), tombstone.GroupKey, now)
	if err != nil || active == nil || active.ID != "ts-1" {
		t.Fatalf("Expected active tombstone for the group, got %v/%v", active, err)
	}

	// Past expiry the group is free again.
	expired, err := store.FindActiveByGroup(context.Background(), tombstone.GroupKey, tombstone.ExpiresAt)
	if err != nil || expired != nil {
		t.Errorf("Expected no active tombstone at expiry, got %v/%v", expired, err)
	}

	listed, err := store.ListActive(context.Background(), "org-1", now)
	if err != nil || len(listed) != 1 {
		t.Fatalf("Expected one active tombstone, got %d/%v", len(listed), err)
	}
	listed, err = store.ListActive(context.Background(), "org-2", now)
	if err != nil || len(listed) != 0 {
		t.Errorf("Expected no tombstones for another organization, got %d/%v", len(listed), err)
	}

	if err := store.MarkUndone(context.Background(), "ts-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkUndone failed: %v", err)
	}
	if err := store.MarkUndone(context.Background(), "ts-1", now.Add(2*time.Minute)); err == nil {
		t.Fatal("Expected second MarkUndone to fail")
	}
	if err := store.MarkUndone(context.Background(), "ts-9", now); !errors.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown tombstone, got %v", err)
	}

	active, err = store.FindActiveByGroup(context.Background(), tombstone.GroupKey, now.Add(2*time.Minute))
	if err != nil || active != nil {
		t.Errorf("Expected no active tombstone after undo, got %v/%v", active, err)
	}
}
