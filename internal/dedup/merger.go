package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/internal/stores"
	"property-reconciliation-service/pkg/errors"
	"property-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ManualValues are the caller-supplied replacements applied by the manual
// merge policy
type ManualValues struct {
	Amount   decimal.Decimal `json:"amount"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
	Metadata models.Metadata `json:"metadata,omitempty"`
}

// MergeRequest describes one merge operation
type MergeRequest struct {
	OrganizationID string             `json:"organization_id"`
	GroupKey       models.GroupKey    `json:"group_key"`
	CanonicalID    string             `json:"canonical_id"`
	Policy         models.MergePolicy `json:"policy"`
	Overrides      *ManualValues      `json:"overrides,omitempty"`
	Comment        string             `json:"comment"`
	ActorID        string             `json:"actor_id"`
}

// MergeOutcome reports a completed merge
type MergeOutcome struct {
	CanonicalID        string    `json:"canonical_id"`
	MergedIDs          []string  `json:"merged_ids"`
	TombstoneID        string    `json:"tombstone_id"`
	TombstoneExpiresAt time.Time `json:"tombstone_expires_at"`
	AuditLogID         string    `json:"audit_log_id"`
}

// BulkRequest applies one policy and comment across many groups. The
// canonical of each group is chosen by SuggestedCanonical.
type BulkRequest struct {
	OrganizationID string             `json:"organization_id"`
	GroupKeys      []models.GroupKey  `json:"group_keys"`
	Policy         models.MergePolicy `json:"policy"`
	Comment        string             `json:"comment"`
	ActorID        string             `json:"actor_id"`
}

// BulkFailure records one group that could not be merged
type BulkFailure struct {
	GroupKey models.GroupKey `json:"group_key"`
	Reason   string          `json:"reason"`
}

// BulkOutcome reports a bulk resolution run
type BulkOutcome struct {
	Processed int           `json:"processed"`
	Failures  []BulkFailure `json:"failures,omitempty"`
}

// Merger applies merge policies to duplicate groups
type Merger struct {
	grouper    *Grouper
	tombstones stores.TombstoneStore
	mutations  stores.MergeStore
	config     *Config
	logger     logger.Logger
}

// NewMerger creates a merge engine over the given stores. All of a
// merge's effects go through the mutation store as one atomic unit.
func NewMerger(lines stores.InvoiceLineStore, tombstones stores.TombstoneStore, mutations stores.MergeStore, config *Config) (*Merger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Merger{
		grouper:    NewGrouper(lines),
		tombstones: tombstones,
		mutations:  mutations,
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("merger"),
	}, nil
}

// mergeAuditState is the snapshot serialized into merge audit records
type mergeAuditState struct {
	CanonicalBefore models.InvoiceLine   `json:"canonical_before,omitempty"`
	DeletedLines    []models.InvoiceLine `json:"deleted_lines,omitempty"`
	CanonicalAfter  *models.InvoiceLine  `json:"canonical_after,omitempty"`
	Policy          models.MergePolicy   `json:"policy,omitempty"`
	Comment         string               `json:"comment,omitempty"`
}

// Merge resolves one duplicate group. All preconditions are checked
// before any store mutation, and the effects themselves are applied as
// one atomic unit, so a rejected or failed merge leaves no trace.
func (m *Merger) Merge(ctx context.Context, request MergeRequest) (*MergeOutcome, error) {
	if err := m.validateRequest(&request); err != nil {
		return nil, err
	}

	group, err := m.grouper.GetGroup(ctx, request.OrganizationID, request.GroupKey)
	if err != nil {
		return nil, err
	}

	canonical := group.Member(request.CanonicalID)
	if canonical == nil {
		return nil, errors.ValidationError(errors.CodeNotInGroup, "canonical_id",
			"canonical must be a live member of the group").
			WithContext("group_key", request.GroupKey.String())
	}

	now := m.config.Now().UTC()

	existing, err := m.tombstones.FindActiveByGroup(ctx, request.GroupKey.String(), now)
	if err != nil {
		return nil, errors.StoreError("tombstone lookup", err)
	}
	if existing != nil {
		return nil, errors.ConflictError(errors.CodeActiveTombstone, request.GroupKey.String()).
			WithContext("tombstone_id", existing.ID)
	}

	canonicalBefore := canonical.Clone()
	var deleted []models.InvoiceLine
	var deletedIDs []string
	for _, member := range group.Members {
		if member.ID == canonical.ID {
			continue
		}
		deleted = append(deleted, member.Clone())
		deletedIDs = append(deletedIDs, member.ID)
	}

	merged := applyPolicy(group, canonical, request.Policy, request.Overrides)

	oldState, _ := json.Marshal(mergeAuditState{
		CanonicalBefore: canonicalBefore,
		DeletedLines:    deleted,
	})
	newState, _ := json.Marshal(mergeAuditState{
		CanonicalAfter: &merged,
		Policy:         request.Policy,
		Comment:        request.Comment,
	})
	audit := models.AuditRecord{
		ID:        uuid.NewString(),
		Actor:     request.ActorID,
		Table:     "invoice_lines",
		RecordID:  canonical.ID,
		Action:    models.ActionMerge,
		OldState:  oldState,
		NewState:  newState,
		CreatedAt: now,
	}

	tombstone := models.MergeTombstone{
		ID:              uuid.NewString(),
		OrganizationID:  request.OrganizationID,
		AuditLogID:      audit.ID,
		GroupKey:        request.GroupKey.String(),
		CanonicalID:     canonical.ID,
		DeletedLineIDs:  deletedIDs,
		DeletedLines:    deleted,
		CanonicalBefore: canonicalBefore,
		Policy:          request.Policy,
		MergedBy:        request.ActorID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.config.UndoWindow),
	}

	mutation := stores.MergeMutation{
		Canonical: merged,
		DeleteIDs: deletedIDs,
		DeletedAt: now,
		Audit:     audit,
		Tombstone: tombstone,
	}
	if err := m.mutations.ApplyMerge(ctx, mutation); err != nil {
		return nil, errors.StoreError("merge apply", err)
	}

	m.logger.WithFields(logger.Fields{
		"group_key":    tombstone.GroupKey,
		"canonical_id": canonical.ID,
		"merged":       len(deletedIDs),
		"policy":       request.Policy.String(),
		"expires_at":   tombstone.ExpiresAt.Format(time.RFC3339),
	}).Info("Duplicate group merged")

	return &MergeOutcome{
		CanonicalID:        canonical.ID,
		MergedIDs:          deletedIDs,
		TombstoneID:        tombstone.ID,
		TombstoneExpiresAt: tombstone.ExpiresAt,
		AuditLogID:         audit.ID,
	}, nil
}

// BulkResolve merges each listed group under one shared policy and
// comment, continuing past per-group failures
func (m *Merger) BulkResolve(ctx context.Context, request BulkRequest) (*BulkOutcome, error) {
	outcome := &BulkOutcome{}
	for _, key := range request.GroupKeys {
		group, err := m.grouper.GetGroup(ctx, request.OrganizationID, key)
		if err != nil {
			outcome.Failures = append(outcome.Failures, BulkFailure{GroupKey: key, Reason: err.Error()})
			continue
		}
		canonical := SuggestedCanonical(group)

		_, err = m.Merge(ctx, MergeRequest{
			OrganizationID: request.OrganizationID,
			GroupKey:       key,
			CanonicalID:    canonical.ID,
			Policy:         request.Policy,
			Comment:        request.Comment,
			ActorID:        request.ActorID,
		})
		if err != nil {
			outcome.Failures = append(outcome.Failures, BulkFailure{GroupKey: key, Reason: err.Error()})
			continue
		}
		outcome.Processed++
	}
	return outcome, nil
}

func (m *Merger) validateRequest(request *MergeRequest) error {
	var violations [][2]string

	if !request.Policy.IsValid() {
		violations = append(violations, [2]string{"policy", "must be one of keep_latest, sum_amounts, manual"})
	}
	if request.Policy == models.PolicyManual && request.Overrides == nil {
		violations = append(violations, [2]string{"overrides", "manual policy requires explicit values"})
	}
	if len(request.Comment) < m.config.MinCommentLength {
		violations = append(violations, [2]string{"comment", fmt.Sprintf("must be at least %d characters", m.config.MinCommentLength)})
	}
	if request.CanonicalID == "" {
		violations = append(violations, [2]string{"canonical_id", "required"})
	}
	if request.ActorID == "" {
		violations = append(violations, [2]string{"actor_id", "required"})
	}

	if len(violations) == 0 {
		return nil
	}
	verr := errors.New(errors.CategoryValidation, errors.CodeInvalidValue, "merge request rejected")
	for _, v := range violations {
		verr = verr.WithViolation(v[0], v[1])
	}
	return verr
}

// applyPolicy derives the post-merge canonical row. The input group and
// canonical are not modified.
func applyPolicy(group *DuplicateGroup, canonical *models.InvoiceLine, policy models.MergePolicy, overrides *ManualValues) models.InvoiceLine {
	merged := canonical.Clone()

	switch policy {
	case models.PolicySumAmounts:
		sum := decimal.Zero
		metadata := models.Metadata{}
		for _, member := range group.Members {
			sum = sum.Add(member.Amount)
			for k, v := range member.Metadata {
				metadata[k] = v
			}
		}
		merged.Amount = sum
		merged.Metadata = metadata
	case models.PolicyManual:
		merged.Amount = overrides.Amount
		merged.TaxRate = overrides.TaxRate
		merged.Metadata = overrides.Metadata.Clone()
	case models.PolicyKeepLatest:
		// canonical keeps its own values
	}

	earliest := canonical.CreatedAt
	for _, member := range group.Members {
		if member.CreatedAt.Before(earliest) {
			earliest = member.CreatedAt
		}
	}
	merged.CreatedAt = earliest

	if merged.Metadata == nil {
		merged.Metadata = models.Metadata{}
	}
	merged.Metadata["merged"] = true
	merged.Metadata["merge_policy"] = policy.String()

	return merged
}
