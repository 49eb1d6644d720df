package dedup

import (
	"context"
	"encoding/json"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/internal/stores"
	"property-reconciliation-service/pkg/errors"
	"property-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// UndoOutcome reports a completed undo
type UndoOutcome struct {
	RestoredCount int    `json:"restored_count"`
	CanonicalID   string `json:"canonical_id"`
	GroupKey      string `json:"group_key"`
	AuditLogID    string `json:"audit_log_id"`
}

// PendingUndo is one tombstone still inside its undo window
type PendingUndo struct {
	TombstoneID string             `json:"tombstone_id"`
	GroupKey    string             `json:"group_key"`
	CanonicalID string             `json:"canonical_id"`
	Policy      models.MergePolicy `json:"policy"`
	MergedBy    string             `json:"merged_by"`
	MergedAt    time.Time          `json:"merged_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	MergedCount int                `json:"merged_count"`
}

// UndoManager reverts merges from their tombstone snapshots
type UndoManager struct {
	tombstones stores.TombstoneStore
	mutations  stores.MergeStore
	config     *Config
	logger     logger.Logger
}

// NewUndoManager creates an undo manager over the given stores. All of an
// undo's effects go through the mutation store as one atomic unit.
func NewUndoManager(tombstones stores.TombstoneStore, mutations stores.MergeStore, config *Config) (*UndoManager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &UndoManager{
		tombstones: tombstones,
		mutations:  mutations,
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("undo"),
	}, nil
}

// undoAuditState is the snapshot serialized into undo audit records
type undoAuditState struct {
	MergeAuditLogID string              `json:"merge_audit_log_id"`
	CanonicalAfter  *models.InvoiceLine `json:"canonical_after,omitempty"`
	RestoredLineIDs []string            `json:"restored_line_ids,omitempty"`
}

// Undo reverts the merge recorded by a tombstone. The canonical row is
// restored to its exact pre-merge snapshot and every soft-deleted member
// comes back live. A tombstone can be undone at most once; after the undo
// window it only yields an expired error.
func (u *UndoManager) Undo(ctx context.Context, tombstoneID, actorID string) (*UndoOutcome, error) {
	if tombstoneID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "tombstone_id", "required")
	}
	if actorID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "actor_id", "required")
	}

	tombstone, err := u.tombstones.Get(ctx, tombstoneID)
	if err != nil {
		return nil, errors.StoreError("tombstone lookup", err)
	}
	if tombstone == nil {
		return nil, errors.NotFoundError(errors.CodeTombstoneNotFound, "tombstone", tombstoneID)
	}
	if tombstone.UndoneAt != nil {
		return nil, errors.NotFoundError(errors.CodeTombstoneUsed, "tombstone", tombstoneID)
	}
	if tombstone.PurgedAt != nil {
		return nil, errors.NotFoundError(errors.CodeTombstoneNotFound, "tombstone", tombstoneID)
	}

	now := u.config.Now().UTC()
	if !now.Before(tombstone.ExpiresAt) {
		return nil, errors.ExpiredError(tombstoneID)
	}

	newState, _ := json.Marshal(undoAuditState{
		MergeAuditLogID: tombstone.AuditLogID,
		CanonicalAfter:  &tombstone.CanonicalBefore,
		RestoredLineIDs: tombstone.DeletedLineIDs,
	})
	audit := models.AuditRecord{
		ID:        uuid.NewString(),
		Actor:     actorID,
		Table:     "invoice_lines",
		RecordID:  tombstone.CanonicalID,
		Action:    models.ActionUndo,
		NewState:  newState,
		CreatedAt: now,
	}

	// Restore from the snapshots, not from the current rows
	mutation := stores.UndoMutation{
		TombstoneID: tombstoneID,
		UndoneAt:    now,
		Canonical:   tombstone.CanonicalBefore.Clone(),
		RestoreIDs:  tombstone.DeletedLineIDs,
		Audit:       audit,
	}
	if err := u.mutations.ApplyUndo(ctx, mutation); err != nil {
		return nil, errors.StoreError("undo apply", err)
	}

	u.logger.WithFields(logger.Fields{
		"tombstone_id": tombstoneID,
		"group_key":    tombstone.GroupKey,
		"restored":     len(tombstone.DeletedLineIDs),
	}).Info("Merge undone")

	return &UndoOutcome{
		RestoredCount: len(tombstone.DeletedLineIDs),
		CanonicalID:   tombstone.CanonicalID,
		GroupKey:      tombstone.GroupKey,
		AuditLogID:    audit.ID,
	}, nil
}

// ListPendingUndos returns the organization's merges still inside their
// undo window, soonest expiry first
func (u *UndoManager) ListPendingUndos(ctx context.Context, organizationID string) ([]PendingUndo, error) {
	now := u.config.Now().UTC()
	active, err := u.tombstones.ListActive(ctx, organizationID, now)
	if err != nil {
		return nil, errors.StoreError("tombstone listing", err)
	}

	out := make([]PendingUndo, 0, len(active))
	for _, t := range active {
		out = append(out, PendingUndo{
			TombstoneID: t.ID,
			GroupKey:    t.GroupKey,
			CanonicalID: t.CanonicalID,
			Policy:      t.Policy,
			MergedBy:    t.MergedBy,
			MergedAt:    t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
			MergedCount: len(t.DeletedLineIDs),
		})
	}
	return out, nil
}
