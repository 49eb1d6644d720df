package dedup

import (
	"context"
	"sort"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/internal/stores"
	"property-reconciliation-service/pkg/errors"
)

// DuplicateGroup is a set of live invoice lines sharing one group key
type DuplicateGroup struct {
	Key     models.GroupKey      `json:"key"`
	Members []models.InvoiceLine `json:"members"`
}

// Size returns the member count
func (g *DuplicateGroup) Size() int {
	return len(g.Members)
}

// Member returns the member with the given id, or nil
func (g *DuplicateGroup) Member(id string) *models.InvoiceLine {
	for i := range g.Members {
		if g.Members[i].ID == id {
			return &g.Members[i]
		}
	}
	return nil
}

// Grouper partitions live invoice lines into duplicate groups
type Grouper struct {
	lines stores.InvoiceLineStore
}

// NewGrouper creates a grouper over the given line store
func NewGrouper(lines stores.InvoiceLineStore) *Grouper {
	return &Grouper{lines: lines}
}

// ListGroups returns every group with two or more live members, ordered by
// key for stable output. Soft-deleted lines never appear, so a fully
// merged group drops out of the listing.
func (g *Grouper) ListGroups(ctx context.Context, organizationID string) ([]DuplicateGroup, error) {
	live, err := g.lines.ListLive(ctx, organizationID)
	if err != nil {
		return nil, errors.StoreError("invoice line listing", err)
	}

	byKey := make(map[string][]models.InvoiceLine)
	for _, line := range live {
		key := line.GroupKey().String()
		byKey[key] = append(byKey[key], line)
	}

	var groups []DuplicateGroup
	for _, members := range byKey {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
				return members[i].CreatedAt.Before(members[j].CreatedAt)
			}
			return members[i].ID < members[j].ID
		})
		groups = append(groups, DuplicateGroup{Key: members[0].GroupKey(), Members: members})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key.String() < groups[j].Key.String()
	})
	return groups, nil
}

// GetGroup returns the group for one key. A key with fewer than two live
// members yields a not-found error: the group either never existed or has
// already been resolved.
func (g *Grouper) GetGroup(ctx context.Context, organizationID string, key models.GroupKey) (*DuplicateGroup, error) {
	live, err := g.lines.ListLive(ctx, organizationID)
	if err != nil {
		return nil, errors.StoreError("invoice line listing", err)
	}

	want := key.String()
	var members []models.InvoiceLine
	for _, line := range live {
		if line.GroupKey().String() == want {
			members = append(members, line)
		}
	}
	if len(members) < 2 {
		return nil, errors.NotFoundError(errors.CodeGroupNotFound, "duplicate group", want)
	}

	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].ID < members[j].ID
	})
	return &DuplicateGroup{Key: key, Members: members}, nil
}

// SuggestedCanonical picks the merge survivor a reviewer most likely
// wants: the member with the richest metadata, ties broken by earliest
// creation.
func SuggestedCanonical(group *DuplicateGroup) *models.InvoiceLine {
	if group == nil || len(group.Members) == 0 {
		return nil
	}

	best := &group.Members[0]
	for i := 1; i < len(group.Members); i++ {
		candidate := &group.Members[i]
		if candidate.MetadataRichness() > best.MetadataRichness() {
			best = candidate
			continue
		}
		if candidate.MetadataRichness() == best.MetadataRichness() &&
			candidate.CreatedAt.Before(best.CreatedAt) {
			best = candidate
		}
	}
	return best
}
