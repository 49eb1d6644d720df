package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a persisted, matched statement entry. The import
// orchestrator is the only writer; confidence is stored as a 0-100 integer.
type Transaction struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	AccountID        string          `json:"account_id"`
	BookingDate      time.Time       `json:"booking_date"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Reference        string          `json:"reference"`
	CounterpartyName string          `json:"counterparty_name"`
	UnitID           string          `json:"unit_id,omitempty"`
	TenantID         string          `json:"tenant_id,omitempty"`
	MatchMethod      MatchMethod     `json:"match_method"`
	Confidence       int             `json:"confidence"` // 0-100
	CreatedAt        time.Time       `json:"created_at"`
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return fmt.Errorf("transaction account cannot be empty")
	}
	if t.BookingDate.IsZero() {
		return fmt.Errorf("transaction booking date cannot be zero")
	}
	if t.Confidence < 0 || t.Confidence > 100 {
		return fmt.Errorf("transaction confidence must be between 0 and 100: %d", t.Confidence)
	}
	return nil
}

// Metadata is the free-form metadata map attached to an invoice line.
// Values survive JSON round trips, so only JSON-representable types belong
// here.
type Metadata map[string]interface{}

// Clone returns a shallow copy of the metadata map
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// InvoiceLine is a billing line subject to duplicate grouping and merging.
// A live line has DeletedAt == nil; soft-deleted lines are excluded from
// business queries but retained for undo.
type InvoiceLine struct {
	ID                    string          `json:"id"`
	InvoiceID             string          `json:"invoice_id"`
	UnitID                string          `json:"unit_id"`
	LineType              string          `json:"line_type"`
	Description           string          `json:"description"`
	NormalizedDescription string          `json:"normalized_description"`
	Amount                decimal.Decimal `json:"amount"`
	TaxRate               decimal.Decimal `json:"tax_rate"`
	Metadata              Metadata        `json:"metadata,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	DeletedAt             *time.Time      `json:"deleted_at,omitempty"`
}

// IsLive reports whether the line has not been soft-deleted
func (l *InvoiceLine) IsLive() bool {
	return l.DeletedAt == nil
}

// MetadataRichness counts the metadata keys; richer lines are preferred as
// merge canonicals
func (l *InvoiceLine) MetadataRichness() int {
	return len(l.Metadata)
}

// GroupKey returns the duplicate grouping key of the line
func (l *InvoiceLine) GroupKey() GroupKey {
	return GroupKey{
		InvoiceID:             l.InvoiceID,
		UnitID:                l.UnitID,
		LineType:              l.LineType,
		NormalizedDescription: l.NormalizedDescription,
	}
}

// Clone returns a deep enough copy for snapshotting: all scalar fields,
// a copied metadata map, and a copied deletion marker
func (l *InvoiceLine) Clone() InvoiceLine {
	out := *l
	out.Metadata = l.Metadata.Clone()
	if l.DeletedAt != nil {
		t := *l.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// Equals compares two InvoiceLine values field by field, including
// metadata and timestamps. Used by the undo round-trip guarantees.
func (l *InvoiceLine) Equals(other *InvoiceLine) bool {
	if other == nil {
		return false
	}
	if l.ID != other.ID ||
		l.InvoiceID != other.InvoiceID ||
		l.UnitID != other.UnitID ||
		l.LineType != other.LineType ||
		l.Description != other.Description ||
		l.NormalizedDescription != other.NormalizedDescription ||
		!l.Amount.Equal(other.Amount) ||
		!l.TaxRate.Equal(other.TaxRate) ||
		!l.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	if (l.DeletedAt == nil) != (other.DeletedAt == nil) {
		return false
	}
	if l.DeletedAt != nil && !l.DeletedAt.Equal(*other.DeletedAt) {
		return false
	}
	if len(l.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range l.Metadata {
		if ov, ok := other.Metadata[k]; !ok || fmt.Sprint(ov) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// GroupKey is the composite key duplicate candidates are partitioned by.
// The key deliberately omits amount and tax rate, mirroring the existing
// grouping behavior: lines re-imported with corrected amounts still group
// together. Whether that over-groups is an open product question; do not
// narrow the key without clarification.
type GroupKey struct {
	InvoiceID             string `json:"invoice_id"`
	UnitID                string `json:"unit_id"`
	LineType              string `json:"line_type"`
	NormalizedDescription string `json:"normalized_description"`
}

// String renders the key in its stable wire form
func (k GroupKey) String() string {
	return strings.Join([]string{k.InvoiceID, k.UnitID, k.LineType, k.NormalizedDescription}, "|")
}

// ParseGroupKey parses the wire form produced by String
func ParseGroupKey(s string) (GroupKey, error) {
	parts := strings.SplitN(s, "|", 4)
	if len(parts) != 4 {
		return GroupKey{}, fmt.Errorf("invalid group key %q: expected 4 segments", s)
	}
	return GroupKey{
		InvoiceID:             parts[0],
		UnitID:                parts[1],
		LineType:              parts[2],
		NormalizedDescription: parts[3],
	}, nil
}

// MergePolicy selects how the canonical row's values are derived in a merge
type MergePolicy string

const (
	// PolicyKeepLatest keeps the canonical row's own amount/tax/metadata
	PolicyKeepLatest MergePolicy = "keep_latest"
	// PolicySumAmounts sums all member amounts and shallow-merges metadata
	PolicySumAmounts MergePolicy = "sum_amounts"
	// PolicyManual applies caller-supplied overrides verbatim
	PolicyManual MergePolicy = "manual"
)

// IsValid checks if the policy is one of the known merge policies
func (p MergePolicy) IsValid() bool {
	return p == PolicyKeepLatest || p == PolicySumAmounts || p == PolicyManual
}

// String returns the string representation of MergePolicy
func (p MergePolicy) String() string {
	return string(p)
}

// MergeTombstone is the sole recovery record for a merge. At most one
// active tombstone (not undone, not expired, not purged) may exist per
// duplicate group at a time.
type MergeTombstone struct {
	ID              string        `json:"id"`
	OrganizationID  string        `json:"organization_id"`
	AuditLogID      string        `json:"audit_log_id"`
	GroupKey        string        `json:"group_key"`
	CanonicalID     string        `json:"canonical_id"`
	DeletedLineIDs  []string      `json:"deleted_line_ids"`
	DeletedLines    []InvoiceLine `json:"deleted_lines"`
	CanonicalBefore InvoiceLine   `json:"canonical_before"`
	Policy          MergePolicy   `json:"policy"`
	MergedBy        string        `json:"merged_by"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	UndoneAt        *time.Time    `json:"undone_at,omitempty"`
	PurgedAt        *time.Time    `json:"purged_at,omitempty"`
}

// IsActive reports whether the tombstone can still back an undo at the
// given instant
func (t *MergeTombstone) IsActive(now time.Time) bool {
	return t.UndoneAt == nil && t.PurgedAt == nil && now.Before(t.ExpiresAt)
}

// AuditAction tags the action recorded in an audit log entry
type AuditAction string

const (
	ActionMerge AuditAction = "merge_duplicates"
	ActionUndo  AuditAction = "undo_merge"
)

// AuditRecord is an append-only entry for the audit log sink
type AuditRecord struct {
	ID        string      `json:"id"`
	Actor     string      `json:"actor"`
	Table     string      `json:"table"`
	RecordID  string      `json:"record_id"`
	Action    AuditAction `json:"action"`
	OldState  []byte      `json:"old_state,omitempty"`
	NewState  []byte      `json:"new_state,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
