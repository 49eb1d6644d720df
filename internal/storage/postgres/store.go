// Package postgres provides the pgx-backed implementation of the store
// interfaces in internal/stores. It maps between domain types and SQL rows;
// multi-row mutations (soft delete, restore, merge, undo) run in explicit
// transactions so a partial batch never becomes visible.
package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/internal/stores"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// execer is the subset of pgxpool.Pool and pgx.Tx the insert helpers need
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store holds a pgx connection pool and implements every interface in
// internal/stores. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity
func (s *Store) Ready(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ApplySchema creates the expected tables if they do not exist
func (s *Store) ApplySchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// --- Reference data ---

func (s *Store) ListUnits(ctx context.Context, organizationID string) ([]models.Unit, error) {
	rows, err := s.pool.Query(ctx, `
		select id, organization_id, property_id, number
		from units
		where organization_id = $1
		order by number
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Unit, 0)
	for rows.Next() {
		var u models.Unit
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.PropertyID, &u.Number); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListTenants(ctx context.Context, organizationID string) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		select id, organization_id, first_name, last_name, unit_id, iban
		from tenants
		where organization_id = $1
		order by last_name, first_name
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Tenant, 0)
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.FirstName, &t.LastName, &t.UnitID, &t.IBAN); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Learned patterns ---

func (s *Store) ListPatterns(ctx context.Context, organizationID string) ([]models.LearnedPattern, error) {
	rows, err := s.pool.Query(ctx, `
		select id, organization_id, pattern, tenant_id, unit_id, use_count, created_at
		from learned_patterns
		where organization_id = $1
		order by pattern
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.LearnedPattern, 0)
	for rows.Next() {
		var p models.LearnedPattern
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Pattern, &p.TenantID, &p.UnitID, &p.UseCount, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPattern(ctx context.Context, pattern models.LearnedPattern) (models.LearnedPattern, error) {
	if err := pattern.Validate(); err != nil {
		return models.LearnedPattern{}, err
	}
	var out models.LearnedPattern
	err := s.pool.QueryRow(ctx, `
		insert into learned_patterns (id, organization_id, pattern, tenant_id, unit_id, use_count, created_at)
		values ($1, $2, $3, $4, $5, 1, $6)
		on conflict (organization_id, pattern) do update
		set use_count = learned_patterns.use_count + 1,
		    tenant_id = excluded.tenant_id,
		    unit_id   = excluded.unit_id
		returning id, organization_id, pattern, tenant_id, unit_id, use_count, created_at
	`, pattern.ID, pattern.OrganizationID, pattern.Pattern, pattern.TenantID, pattern.UnitID, pattern.CreatedAt).
		Scan(&out.ID, &out.OrganizationID, &out.Pattern, &out.TenantID, &out.UnitID, &out.UseCount, &out.CreatedAt)
	if err != nil {
		return models.LearnedPattern{}, err
	}
	return out, nil
}

// --- Transactions ---

func (s *Store) InsertTransaction(ctx context.Context, tx models.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		insert into transactions (id, organization_id, account_id, booking_date, amount, currency,
		                          reference, counterparty_name, unit_id, tenant_id,
		                          match_method, confidence, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, tx.ID, tx.OrganizationID, tx.AccountID, tx.BookingDate, tx.Amount, tx.Currency,
		tx.Reference, tx.CounterpartyName, tx.UnitID, tx.TenantID,
		tx.MatchMethod.String(), tx.Confidence, tx.CreatedAt)
	return err
}

func (s *Store) HasDuplicate(ctx context.Context, accountID string, bookingDate time.Time, amount decimal.Decimal, reference string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		select exists (
			select 1 from transactions
			where account_id = $1
			  and booking_date = $2::date
			  and amount = $3
			  and ($4 = '' or lower(reference) = lower($4))
		)
	`, accountID, bookingDate, amount, reference).Scan(&exists)
	return exists, err
}

// --- Invoice lines ---

func (s *Store) ListLive(ctx context.Context, organizationID string) ([]models.InvoiceLine, error) {
	rows, err := s.pool.Query(ctx, `
		select id, invoice_id, unit_id, line_type, description, normalized_description,
		       amount, tax_rate, metadata, created_at
		from invoice_lines
		where organization_id = $1 and deleted_at is null
		order by id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.InvoiceLine, 0)
	for rows.Next() {
		var line models.InvoiceLine
		var mdBytes []byte
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.UnitID, &line.LineType,
			&line.Description, &line.NormalizedDescription,
			&line.Amount, &line.TaxRate, &mdBytes, &line.CreatedAt); err != nil {
			return nil, err
		}
		if len(mdBytes) > 0 {
			var m models.Metadata
			if err := json.Unmarshal(mdBytes, &m); err == nil {
				line.Metadata = m
			}
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *Store) UpdateLine(ctx context.Context, line models.InvoiceLine) error {
	md, err := json.Marshal(line.Metadata)
	if err != nil {
		return err
	}
	ct, err := s.pool.Exec(ctx, `
		update invoice_lines
		set amount = $1, tax_rate = $2, metadata = $3, created_at = $4
		where id = $5
	`, line.Amount, line.TaxRate, md, line.CreatedAt, line.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("invoice line %s not found", line.ID)
	}
	return nil
}

func (s *Store) SoftDeleteLines(ctx context.Context, ids []string, deletedAt time.Time) error {
	return s.markLines(ctx, ids, &deletedAt)
}

func (s *Store) RestoreLines(ctx context.Context, ids []string) error {
	return s.markLines(ctx, ids, nil)
}

// markLines sets or clears deleted_at on every id inside one transaction,
// rolling back when any id is missing or already in the target state
func (s *Store) markLines(ctx context.Context, ids []string, deletedAt *time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ct pgconn.CommandTag
	if deletedAt != nil {
		ct, err = tx.Exec(ctx, `
			update invoice_lines set deleted_at = $1 where id = any($2) and deleted_at is null
		`, *deletedAt, ids)
	} else {
		ct, err = tx.Exec(ctx, `
			update invoice_lines set deleted_at = null where id = any($1) and deleted_at is not null
		`, ids)
	}
	if err != nil {
		return err
	}
	if int(ct.RowsAffected()) != len(ids) {
		return fmt.Errorf("expected %d invoice lines, updated %d", len(ids), ct.RowsAffected())
	}
	return tx.Commit(ctx)
}

// --- Merge and undo ---

// ApplyMerge applies a merge's line rewrite, soft deletes, audit record,
// and tombstone in one transaction. The conditional updates make the call
// fail, and roll back, when the canonical line or any delete target has
// been soft-deleted since the merge was planned.
func (s *Store) ApplyMerge(ctx context.Context, mutation stores.MergeMutation) error {
	md, err := json.Marshal(mutation.Canonical.Metadata)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		update invoice_lines
		set amount = $1, tax_rate = $2, metadata = $3, created_at = $4
		where id = $5 and deleted_at is null
	`, mutation.Canonical.Amount, mutation.Canonical.TaxRate, md, mutation.Canonical.CreatedAt, mutation.Canonical.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("canonical line %s is not live", mutation.Canonical.ID)
	}

	ct, err = tx.Exec(ctx, `
		update invoice_lines set deleted_at = $1 where id = any($2) and deleted_at is null
	`, mutation.DeletedAt, mutation.DeleteIDs)
	if err != nil {
		return err
	}
	if int(ct.RowsAffected()) != len(mutation.DeleteIDs) {
		return fmt.Errorf("expected %d live merge targets, updated %d", len(mutation.DeleteIDs), ct.RowsAffected())
	}

	if err := insertAudit(ctx, tx, mutation.Audit); err != nil {
		return err
	}
	if err := insertTombstone(ctx, tx, mutation.Tombstone); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyUndo consumes the tombstone, rolls the canonical line back, and
// restores the merged members in one transaction. A tombstone that is
// already undone fails the whole call with no effect.
func (s *Store) ApplyUndo(ctx context.Context, mutation stores.UndoMutation) error {
	md, err := json.Marshal(mutation.Canonical.Metadata)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		update merge_tombstones set undone_at = $1 where id = $2 and undone_at is null
	`, mutation.UndoneAt, mutation.TombstoneID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("tombstone %s not found or already undone", mutation.TombstoneID)
	}

	ct, err = tx.Exec(ctx, `
		update invoice_lines
		set amount = $1, tax_rate = $2, metadata = $3, created_at = $4
		where id = $5
	`, mutation.Canonical.Amount, mutation.Canonical.TaxRate, md, mutation.Canonical.CreatedAt, mutation.Canonical.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("canonical line %s not found", mutation.Canonical.ID)
	}

	ct, err = tx.Exec(ctx, `
		update invoice_lines set deleted_at = null where id = any($1) and deleted_at is not null
	`, mutation.RestoreIDs)
	if err != nil {
		return err
	}
	if int(ct.RowsAffected()) != len(mutation.RestoreIDs) {
		return fmt.Errorf("expected %d deleted members, restored %d", len(mutation.RestoreIDs), ct.RowsAffected())
	}

	if err := insertAudit(ctx, tx, mutation.Audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Audit log ---

func (s *Store) Append(ctx context.Context, record models.AuditRecord) error {
	return insertAudit(ctx, s.pool, record)
}

func insertAudit(ctx context.Context, db execer, record models.AuditRecord) error {
	_, err := db.Exec(ctx, `
		insert into audit_log (id, actor, table_name, record_id, action, old_state, new_state, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, record.ID, record.Actor, record.Table, record.RecordID, string(record.Action),
		record.OldState, record.NewState, record.CreatedAt)
	return err
}

// --- Tombstones ---

const tombstoneColumns = `id, organization_id, audit_log_id, group_key, canonical_id,
	deleted_line_ids, deleted_lines, canonical_before, policy, merged_by,
	created_at, expires_at, undone_at, purged_at`

func (s *Store) Insert(ctx context.Context, tombstone models.MergeTombstone) error {
	return insertTombstone(ctx, s.pool, tombstone)
}

func insertTombstone(ctx context.Context, db execer, tombstone models.MergeTombstone) error {
	idsJSON, err := json.Marshal(tombstone.DeletedLineIDs)
	if err != nil {
		return err
	}
	linesJSON, err := json.Marshal(tombstone.DeletedLines)
	if err != nil {
		return err
	}
	beforeJSON, err := json.Marshal(tombstone.CanonicalBefore)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		insert into merge_tombstones (`+tombstoneColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, tombstone.ID, tombstone.OrganizationID, tombstone.AuditLogID, tombstone.GroupKey,
		tombstone.CanonicalID, idsJSON, linesJSON, beforeJSON,
		tombstone.Policy.String(), tombstone.MergedBy,
		tombstone.CreatedAt, tombstone.ExpiresAt, tombstone.UndoneAt, tombstone.PurgedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.MergeTombstone, error) {
	row := s.pool.QueryRow(ctx, `
		select `+tombstoneColumns+`
		from merge_tombstones
		where id = $1
	`, id)
	tombstone, err := scanTombstone(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tombstone, nil
}

func (s *Store) FindActiveByGroup(ctx context.Context, groupKey string, now time.Time) (*models.MergeTombstone, error) {
	row := s.pool.QueryRow(ctx, `
		select `+tombstoneColumns+`
		from merge_tombstones
		where group_key = $1 and undone_at is null and purged_at is null and expires_at > $2
		limit 1
	`, groupKey, now)
	tombstone, err := scanTombstone(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tombstone, nil
}

func (s *Store) ListActive(ctx context.Context, organizationID string, now time.Time) ([]models.MergeTombstone, error) {
	rows, err := s.pool.Query(ctx, `
		select `+tombstoneColumns+`
		from merge_tombstones
		where organization_id = $1 and undone_at is null and purged_at is null and expires_at > $2
		order by expires_at
	`, organizationID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.MergeTombstone, 0)
	for rows.Next() {
		tombstone, err := scanTombstone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tombstone)
	}
	return out, rows.Err()
}

func (s *Store) MarkUndone(ctx context.Context, id string, undoneAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		update merge_tombstones
		set undone_at = $1
		where id = $2 and undone_at is null
	`, undoneAt, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("tombstone %s not found or already undone", id)
	}
	return nil
}

func scanTombstone(row pgx.Row) (*models.MergeTombstone, error) {
	var t models.MergeTombstone
	var policy string
	var idsJSON, linesJSON, beforeJSON []byte
	err := row.Scan(&t.ID, &t.OrganizationID, &t.AuditLogID, &t.GroupKey, &t.CanonicalID,
		&idsJSON, &linesJSON, &beforeJSON, &policy, &t.MergedBy,
		&t.CreatedAt, &t.ExpiresAt, &t.UndoneAt, &t.PurgedAt)
	if err != nil {
		return nil, err
	}
	t.Policy = models.MergePolicy(policy)
	if err := json.Unmarshal(idsJSON, &t.DeletedLineIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &t.DeletedLines); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(beforeJSON, &t.CanonicalBefore); err != nil {
		return nil, err
	}
	return &t, nil
}
