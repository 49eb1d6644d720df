package stores

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore holds all reconciliation state in process memory. It
// implements every store interface in this package and is safe for
// concurrent use. Tests and the CLI's file-backed mode build on it.
type MemoryStore struct {
	mu sync.RWMutex

	units        []models.Unit
	tenants      []models.Tenant
	patterns     map[string]models.LearnedPattern
	transactions []models.Transaction
	lines        map[string]models.InvoiceLine
	lineOrg      map[string]string
	audits       []models.AuditRecord
	tombstones   map[string]models.MergeTombstone
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns:   make(map[string]models.LearnedPattern),
		lines:      make(map[string]models.InvoiceLine),
		lineOrg:    make(map[string]string),
		tombstones: make(map[string]models.MergeTombstone),
	}
}

// SeedUnits replaces the unit reference data
func (s *MemoryStore) SeedUnits(units []models.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = append([]models.Unit(nil), units...)
}

// SeedTenants replaces the tenant reference data
func (s *MemoryStore) SeedTenants(tenants []models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append([]models.Tenant(nil), tenants...)
}

// SeedLines loads invoice lines for an organization, overwriting any with
// the same id
func (s *MemoryStore) SeedLines(organizationID string, lines []models.InvoiceLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		s.lines[line.ID] = line.Clone()
		s.lineOrg[line.ID] = organizationID
	}
}

func (s *MemoryStore) ListUnits(_ context.Context, organizationID string) ([]models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Unit
	for _, u := range s.units {
		if u.OrganizationID == organizationID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTenants(_ context.Context, organizationID string) ([]models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Tenant
	for _, t := range s.tenants {
		if t.OrganizationID == organizationID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPatterns(_ context.Context, organizationID string) ([]models.LearnedPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LearnedPattern
	for _, p := range s.patterns {
		if p.OrganizationID == organizationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out, nil
}

func (s *MemoryStore) UpsertPattern(_ context.Context, pattern models.LearnedPattern) (models.LearnedPattern, error) {
	if err := pattern.Validate(); err != nil {
		return models.LearnedPattern{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pattern.OrganizationID + "\x00" + pattern.Pattern
	if existing, ok := s.patterns[key]; ok {
		existing.UseCount++
		existing.TenantID = pattern.TenantID
		existing.UnitID = pattern.UnitID
		s.patterns[key] = existing
		return existing, nil
	}

	if pattern.ID == "" {
		pattern.ID = uuid.NewString()
	}
	pattern.UseCount = 1
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = time.Now().UTC()
	}
	s.patterns[key] = pattern
	return pattern, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx models.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, tx)
	return nil
}

func (s *MemoryStore) HasDuplicate(_ context.Context, accountID string, bookingDate time.Time, amount decimal.Decimal, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions {
		if tx.AccountID != accountID {
			continue
		}
		if !sameDay(tx.BookingDate, bookingDate) {
			continue
		}
		if !tx.Amount.Equal(amount) {
			continue
		}
		if reference != "" && !strings.EqualFold(tx.Reference, reference) {
			continue
		}
		return true, nil
	}
	return false, nil
}

// Transactions returns a snapshot of all persisted transactions
func (s *MemoryStore) Transactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Transaction(nil), s.transactions...)
}

func (s *MemoryStore) ListLive(_ context.Context, organizationID string) ([]models.InvoiceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.InvoiceLine
	for id, line := range s.lines {
		if line.IsLive() && s.lineOrg[id] == organizationID {
			out = append(out, line.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLine returns the line with the given id whether live or soft-deleted,
// or nil when unknown. Not part of InvoiceLineStore; tests use it to
// inspect deletion state.
func (s *MemoryStore) GetLine(id string) *models.InvoiceLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.lines[id]
	if !ok {
		return nil
	}
	clone := line.Clone()
	return &clone
}

func (s *MemoryStore) UpdateLine(_ context.Context, line models.InvoiceLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lines[line.ID]; !ok {
		return errors.NotFoundError(errors.CodeLineNotFound, "invoice line", line.ID)
	}
	s.lines[line.ID] = line.Clone()
	return nil
}

func (s *MemoryStore) SoftDeleteLines(_ context.Context, ids []string, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		line, ok := s.lines[id]
		if !ok {
			return errors.NotFoundError(errors.CodeLineNotFound, "invoice line", id)
		}
		at := deletedAt
		line.DeletedAt = &at
		s.lines[id] = line
	}
	return nil
}

func (s *MemoryStore) RestoreLines(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		line, ok := s.lines[id]
		if !ok {
			return errors.NotFoundError(errors.CodeLineNotFound, "invoice line", id)
		}
		line.DeletedAt = nil
		s.lines[id] = line
	}
	return nil
}

// ApplyMerge applies all of a merge's effects atomically. Every
// precondition is checked before the first mutation, so a failing call
// leaves no trace.
func (s *MemoryStore) ApplyMerge(_ context.Context, mutation MergeMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical, ok := s.lines[mutation.Canonical.ID]
	if !ok {
		return errors.NotFoundError(errors.CodeLineNotFound, "invoice line", mutation.Canonical.ID)
	}
	if !canonical.IsLive() {
		return errors.StoreError("canonical line already deleted", nil).
			WithContext("line_id", mutation.Canonical.ID)
	}
	for _, id := range mutation.DeleteIDs {
		line, ok := s.lines[id]
		if !ok {
			return errors.NotFoundError(errors.CodeLineNotFound, "invoice line", id)
		}
		if !line.IsLive() {
			return errors.StoreError("merge target already deleted", nil).
				WithContext("line_id", id)
		}
	}
	if _, ok := s.tombstones[mutation.Tombstone.ID]; ok {
		return errors.StoreError("tombstone already exists", nil).
			WithContext("tombstone_id", mutation.Tombstone.ID)
	}

	s.lines[mutation.Canonical.ID] = mutation.Canonical.Clone()
	for _, id := range mutation.DeleteIDs {
		line := s.lines[id]
		at := mutation.DeletedAt
		line.DeletedAt = &at
		s.lines[id] = line
	}
	s.audits = append(s.audits, mutation.Audit)
	s.tombstones[mutation.Tombstone.ID] = mutation.Tombstone
	return nil
}

// ApplyUndo reverses a merge atomically. A tombstone that is unknown or
// already consumed fails the whole call with no effect.
func (s *MemoryStore) ApplyUndo(_ context.Context, mutation UndoMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tombstone, ok := s.tombstones[mutation.TombstoneID]
	if !ok {
		return errors.NotFoundError(errors.CodeTombstoneNotFound, "tombstone", mutation.TombstoneID)
	}
	if tombstone.UndoneAt != nil {
		return errors.StoreError("tombstone already undone", nil).
			WithContext("tombstone_id", mutation.TombstoneID)
	}
	if _, ok := s.lines[mutation.Canonical.ID]; !ok {
		return errors.NotFoundError(errors.CodeLineNotFound, "invoice line", mutation.Canonical.ID)
	}
	for _, id := range mutation.RestoreIDs {
		if _, ok := s.lines[id]; !ok {
			return errors.NotFoundError(errors.CodeLineNotFound, "invoice line", id)
		}
	}

	s.lines[mutation.Canonical.ID] = mutation.Canonical.Clone()
	for _, id := range mutation.RestoreIDs {
		line := s.lines[id]
		line.DeletedAt = nil
		s.lines[id] = line
	}
	at := mutation.UndoneAt
	tombstone.UndoneAt = &at
	s.tombstones[mutation.TombstoneID] = tombstone
	s.audits = append(s.audits, mutation.Audit)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, record models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, record)
	return nil
}

// Audits returns a snapshot of the audit log in append order
func (s *MemoryStore) Audits() []models.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditRecord(nil), s.audits...)
}

func (s *MemoryStore) Insert(_ context.Context, tombstone models.MergeTombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tombstones[tombstone.ID]; ok {
		return errors.StoreError("tombstone already exists", nil).
			WithContext("tombstone_id", tombstone.ID)
	}
	s.tombstones[tombstone.ID] = tombstone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.MergeTombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tombstones[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) FindActiveByGroup(_ context.Context, groupKey string, now time.Time) (*models.MergeTombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tombstones {
		if t.GroupKey == groupKey && t.IsActive(now) {
			out := t
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListActive(_ context.Context, organizationID string, now time.Time) ([]models.MergeTombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MergeTombstone
	for _, t := range s.tombstones {
		if t.OrganizationID == organizationID && t.IsActive(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *MemoryStore) MarkUndone(_ context.Context, id string, undoneAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tombstones[id]
	if !ok {
		return errors.NotFoundError(errors.CodeTombstoneNotFound, "tombstone", id)
	}
	if t.UndoneAt != nil {
		return errors.StoreError("tombstone already undone", nil).
			WithContext("tombstone_id", id)
	}
	at := undoneAt
	t.UndoneAt = &at
	s.tombstones[id] = t
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
