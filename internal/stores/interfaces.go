// Package stores declares the narrow contracts the reconciliation core
// consumes its collaborators through, plus an in-memory implementation
// used by tests and the CLI's offline mode.
//
// The relational store and its schema are outside this core; everything
// here is an interface the host application satisfies. The postgres
// implementation lives in internal/storage/postgres.
package stores

import (
	"context"
	"time"

	"property-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// ReferenceStore provides read-only tenant and unit reference data scoped
// to an organization
type ReferenceStore interface {
	ListUnits(ctx context.Context, organizationID string) ([]models.Unit, error)
	ListTenants(ctx context.Context, organizationID string) ([]models.Tenant, error)
}

// PatternStore reads and upserts learned patterns scoped to an
// organization. Upsert increments the usage counter when the pattern text
// already exists for the organization.
type PatternStore interface {
	ListPatterns(ctx context.Context, organizationID string) ([]models.LearnedPattern, error)
	UpsertPattern(ctx context.Context, pattern models.LearnedPattern) (models.LearnedPattern, error)
}

// TransactionStore persists matched transactions and answers the
// duplicate-suppression point lookup
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx models.Transaction) error

	// HasDuplicate reports whether a transaction with the same account,
	// booking date, amount, and (when non-empty) reference already exists.
	HasDuplicate(ctx context.Context, accountID string, bookingDate time.Time, amount decimal.Decimal, reference string) (bool, error)
}

// InvoiceLineStore reads and mutates invoice lines. Reads exclude
// soft-deleted lines; mutations address lines by id.
type InvoiceLineStore interface {
	ListLive(ctx context.Context, organizationID string) ([]models.InvoiceLine, error)

	// UpdateLine rewrites a single row's amount, tax rate, metadata, and
	// creation timestamp.
	UpdateLine(ctx context.Context, line models.InvoiceLine) error

	// SoftDeleteLines sets the deletion timestamp on every id. Rows are
	// never physically removed.
	SoftDeleteLines(ctx context.Context, ids []string, deletedAt time.Time) error

	// RestoreLines clears the deletion timestamp on every id.
	RestoreLines(ctx context.Context, ids []string) error
}

// AuditStore is the append-only audit log sink
type AuditStore interface {
	Append(ctx context.Context, record models.AuditRecord) error
}

// MergeMutation is the full effect of one merge: the rewritten canonical
// line, the members to soft-delete, the audit record, and the tombstone.
type MergeMutation struct {
	Canonical models.InvoiceLine
	DeleteIDs []string
	DeletedAt time.Time
	Audit     models.AuditRecord
	Tombstone models.MergeTombstone
}

// UndoMutation is the full effect of one undo: the canonical line rolled
// back to its pre-merge state, the members to restore, the tombstone to
// consume, and the audit record.
type UndoMutation struct {
	TombstoneID string
	UndoneAt    time.Time
	Canonical   models.InvoiceLine
	RestoreIDs  []string
	Audit       models.AuditRecord
}

// MergeStore applies merge and undo effects as single atomic units.
//
// ApplyMerge fails without any effect when the canonical line or any
// delete target is no longer live. ApplyUndo fails without any effect
// when the tombstone has already been undone or any restore target is
// unknown.
type MergeStore interface {
	ApplyMerge(ctx context.Context, mutation MergeMutation) error
	ApplyUndo(ctx context.Context, mutation UndoMutation) error
}

// TombstoneStore persists merge tombstones. Liveness (not undone, not
// purged, not expired) is evaluated against the caller-supplied instant so
// the core controls the clock.
type TombstoneStore interface {
	Insert(ctx context.Context, tombstone models.MergeTombstone) error

	// Get returns the tombstone regardless of liveness, or nil when the id
	// is unknown.
	Get(ctx context.Context, id string) (*models.MergeTombstone, error)

	// FindActiveByGroup returns the live tombstone for a group key, or nil.
	FindActiveByGroup(ctx context.Context, groupKey string, now time.Time) (*models.MergeTombstone, error)

	// ListActive returns the organization's currently-valid tombstones.
	ListActive(ctx context.Context, organizationID string, now time.Time) ([]models.MergeTombstone, error)

	// MarkUndone transitions the tombstone to undone exactly once.
	MarkUndone(ctx context.Context, id string, undoneAt time.Time) error
}
