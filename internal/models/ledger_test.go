package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Miete Mai", "miete mai"},
		{"  Miete   Mai  ", "miete mai"},
		{"Miete, Mai (Top 12)", "miete mai top 12"},
		{"BETRIEBSKOSTEN-2025", "betriebskosten 2025"},
		{"...", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeDescription(tt.input); got != tt.want {
			t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeIBAN(t *testing.T) {
	if got := NormalizeIBAN("at48 3200 0000 1234 5864"); got != "AT483200000012345864" {
		t.Errorf("Expected normalized IBAN, got %q", got)
	}
}

func TestGroupKeyRoundTrip(t *testing.T) {
	key := GroupKey{
		InvoiceID:             "inv-1",
		UnitID:                "unit-5",
		LineType:              "rent",
		NormalizedDescription: "miete mai top 12",
	}

	parsed, err := ParseGroupKey(key.String())
	if err != nil {
		t.Fatalf("ParseGroupKey failed: %v", err)
	}
	if parsed != key {
		t.Errorf("Round trip changed the key: %+v", parsed)
	}

	// Pipes inside the description survive because only the first three
	// separators split.
	withPipe := GroupKey{InvoiceID: "inv-1", UnitID: "unit-5", LineType: "rent", NormalizedDescription: "a|b"}
	parsed, err = ParseGroupKey(withPipe.String())
	if err != nil {
		t.Fatalf("ParseGroupKey failed: %v", err)
	}
	if parsed.NormalizedDescription != "a|b" {
		t.Errorf("Expected description a|b, got %q", parsed.NormalizedDescription)
	}

	if _, err := ParseGroupKey("inv-1|unit-5|rent"); err == nil {
		t.Error("Expected short key to be rejected")
	}
}

func TestInvoiceLineClone(t *testing.T) {
	deleted := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	line := InvoiceLine{
		ID:        "line-1",
		InvoiceID: "inv-1",
		Amount:    decimal.RequireFromString("10.00"),
		Metadata:  Metadata{"source": "import"},
		DeletedAt: &deleted,
	}

	clone := line.Clone()
	clone.Metadata["source"] = "tampered"
	*clone.DeletedAt = deleted.Add(time.Hour)

	if line.Metadata["source"] != "import" {
		t.Error("Expected metadata to be copied")
	}
	if !line.DeletedAt.Equal(deleted) {
		t.Error("Expected deletion marker to be copied")
	}
}

func TestInvoiceLineEquals(t *testing.T) {
	base := InvoiceLine{
		ID:        "line-1",
		InvoiceID: "inv-1",
		Amount:    decimal.RequireFromString("10.00"),
		TaxRate:   decimal.RequireFromString("10"),
		Metadata:  Metadata{"source": "import"},
		CreatedAt: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	same := base.Clone()
	if !base.Equals(&same) {
		t.Error("Expected clone to equal the original")
	}

	// Decimal comparison is by value, not representation.
	scaled := base.Clone()
	scaled.Amount = decimal.RequireFromString("10.000")
	if !base.Equals(&scaled) {
		t.Error("Expected 10.00 to equal 10.000")
	}

	changed := base.Clone()
	changed.Metadata["source"] = "manual"
	if base.Equals(&changed) {
		t.Error("Expected metadata change to break equality")
	}

	deleted := base.Clone()
	at := base.CreatedAt.Add(time.Hour)
	deleted.DeletedAt = &at
	if base.Equals(&deleted) {
		t.Error("Expected deletion marker to break equality")
	}

	if base.Equals(nil) {
		t.Error("Expected nil to never be equal")
	}
}

func TestMergePolicyIsValid(t *testing.T) {
	for _, p := range []MergePolicy{PolicyKeepLatest, PolicySumAmounts, PolicyManual} {
		if !p.IsValid() {
			t.Errorf("Expected %s to be valid", p)
		}
	}
	if MergePolicy("smash_together").IsValid() {
		t.Error("Expected unknown policy to be invalid")
	}
}

func TestTombstoneIsActive(t *testing.T) {
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	tombstone := MergeTombstone{ExpiresAt: now.Add(time.Hour)}

	if !tombstone.IsActive(now) {
		t.Error("Expected tombstone inside its window to be active")
	}
	if tombstone.IsActive(tombstone.ExpiresAt) {
		t.Error("Expected tombstone to be inactive at expiry")
	}

	undone := tombstone
	undone.UndoneAt = &now
	if undone.IsActive(now) {
		t.Error("Expected undone tombstone to be inactive")
	}

	purged := tombstone
	purged.PurgedAt = &now
	if purged.IsActive(now) {
		t.Error("Expected purged tombstone to be inactive")
	}
}

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		ID:          "tx-1",
		AccountID:   "acct-1",
		BookingDate: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("850.00"),
		Confidence:  90,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid transaction, got %v", err)
	}

	missingAccount := valid
	missingAccount.AccountID = ""
	if err := missingAccount.Validate(); err == nil {
		t.Error("Expected missing account to be rejected")
	}

	noDate := valid
	noDate.BookingDate = time.Time{}
	if err := noDate.Validate(); err == nil {
		t.Error("Expected zero booking date to be rejected")
	}

	badConfidence := valid
	badConfidence.Confidence = 101
	if err := badConfidence.Validate(); err == nil {
		t.Error("Expected out-of-range confidence to be rejected")
	}
}
