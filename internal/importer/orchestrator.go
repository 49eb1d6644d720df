package importer

import (
	"context"
	"time"

	"property-reconciliation-service/internal/camt"
	"property-reconciliation-service/internal/matcher"
	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/internal/stores"
	"property-reconciliation-service/pkg/errors"
	"property-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// Orchestrator drives a statement import end to end: parse, match,
// duplicate-check, persist
type Orchestrator struct {
	references   stores.ReferenceStore
	patterns     stores.PatternStore
	transactions stores.TransactionStore
	engine       *matcher.Engine
	config       *Config
	logger       logger.Logger
	now          func() time.Time
}

// UnmatchedEntry is a credit entry the cascade could not assign with
// enough confidence. It is reported back to the caller for review but
// never persisted.
type UnmatchedEntry struct {
	Entry      models.StatementEntry `json:"entry"`
	Method     models.MatchMethod    `json:"method"`
	Confidence int                   `json:"confidence"`
	Reason     string                `json:"reason"`
}

// ImportResult summarizes one statement import. Matched holds the
// transactions that were persisted; Unmatched holds the rejected credit
// entries.
type ImportResult struct {
	StatementID string               `json:"statement_id"`
	AccountIBAN string               `json:"account_iban"`
	Entries     int                  `json:"entries"`
	Credits     int                  `json:"credits"`
	Created     int                  `json:"created"`
	Skipped     int                  `json:"skipped"`
	Matched     []models.Transaction `json:"matched"`
	Unmatched   []UnmatchedEntry     `json:"unmatched"`
	ParseStats  *camt.ParseStats     `json:"parse_stats"`
}

// NewOrchestrator creates an import orchestrator with the given stores
func NewOrchestrator(references stores.ReferenceStore, patterns stores.PatternStore, transactions stores.TransactionStore, config *Config) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Orchestrator{
		references:   references,
		patterns:     patterns,
		transactions: transactions,
		engine:       matcher.NewEngine(config.Matcher),
		config:       config,
		logger:       logger.GetGlobalLogger().WithComponent("importer"),
		now:          time.Now,
	}, nil
}

// ImportStatement parses a CAMT document and imports its credit entries for
// the given organization and bank account. Debit entries are ignored.
// Each credit entry is matched first; only entries the cascade assigns at
// or above the acceptance threshold are persisted, the rest are returned
// in the Unmatched list for review. Accepted entries whose (account,
// booking date, amount, reference) tuple already exists are skipped, so
// re-importing the same statement creates nothing.
func (o *Orchestrator) ImportStatement(ctx context.Context, document, organizationID, accountID string) (*ImportResult, error) {
	statement, stats, err := camt.Parse(document)
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(logger.Fields{
		"statement_id": statement.ID,
		"account_iban": statement.AccountIBAN,
		"variant":      stats.Variant,
		"entries":      len(statement.Entries),
	}).Info("Statement parsed, starting import")

	index, err := o.buildIndex(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		StatementID: statement.ID,
		AccountIBAN: statement.AccountIBAN,
		Entries:     len(statement.Entries),
		ParseStats:  stats,
	}

	for i := range statement.Entries {
		entry := &statement.Entries[i]
		if !entry.IsCredit() {
			continue
		}
		result.Credits++

		match := o.engine.Match(entry.SearchText(), index)
		if !match.IsMatch() || match.Confidence < o.config.AcceptThreshold {
			result.Unmatched = append(result.Unmatched, UnmatchedEntry{
				Entry:      *entry,
				Method:     match.Method,
				Confidence: match.ConfidencePercent(),
				Reason:     match.Reason,
			})
			o.logger.WithFields(logger.Fields{
				"reference":  entry.Reference,
				"method":     string(match.Method),
				"confidence": match.ConfidencePercent(),
			}).Debug("Entry below acceptance threshold, not persisted")
			continue
		}

		duplicate, err := o.transactions.HasDuplicate(ctx, accountID, entry.BookingDate, entry.Amount, entry.Reference)
		if err != nil {
			return nil, errors.StoreError("duplicate lookup", err)
		}
		if duplicate {
			result.Skipped++
			o.logger.WithFields(logger.Fields{
				"reference":    entry.Reference,
				"booking_date": entry.BookingDate.Format("2006-01-02"),
				"amount":       entry.Amount.String(),
			}).Debug("Entry already imported, skipping")
			continue
		}

		tx := models.Transaction{
			ID:               uuid.NewString(),
			OrganizationID:   organizationID,
			AccountID:        accountID,
			UnitID:           match.UnitID,
			TenantID:         match.TenantID,
			BookingDate:      entry.BookingDate,
			Amount:           entry.Amount,
			Currency:         entry.Currency,
			Reference:        entry.Reference,
			CounterpartyName: entry.CounterpartyName,
			MatchMethod:      match.Method,
			Confidence:       match.ConfidencePercent(),
			CreatedAt:        o.now().UTC(),
		}

		if err := o.transactions.InsertTransaction(ctx, tx); err != nil {
			return nil, errors.StoreError("transaction insert", err)
		}
		result.Created++
		result.Matched = append(result.Matched, tx)
	}

	o.logger.WithFields(logger.Fields{
		"created":   result.Created,
		"skipped":   result.Skipped,
		"matched":   len(result.Matched),
		"unmatched": len(result.Unmatched),
	}).Info("Statement import finished")

	return result, nil
}

// MatchEntry runs the matching cascade for a single entry without
// persisting anything
func (o *Orchestrator) MatchEntry(ctx context.Context, entry *models.StatementEntry, organizationID string) (*models.MatchResult, error) {
	index, err := o.buildIndex(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return o.engine.Match(entry.SearchText(), index), nil
}

// LearnMatch records a reviewer-confirmed text pattern for an
// organization. The pattern is normalized before storage; repeating an
// existing pattern increments its usage counter instead of duplicating it.
func (o *Orchestrator) LearnMatch(ctx context.Context, organizationID, patternText, tenantID, unitID string) (*models.LearnedPattern, error) {
	normalized := models.NormalizePattern(patternText)
	pattern := models.LearnedPattern{
		OrganizationID: organizationID,
		Pattern:        normalized,
		TenantID:       tenantID,
		UnitID:         unitID,
		CreatedAt:      o.now().UTC(),
	}
	if err := pattern.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "pattern", err.Error())
	}

	stored, err := o.patterns.UpsertPattern(ctx, pattern)
	if err != nil {
		return nil, errors.StoreError("pattern upsert", err)
	}

	o.logger.WithFields(logger.Fields{
		"pattern":   stored.Pattern,
		"unit_id":   stored.UnitID,
		"use_count": stored.UseCount,
	}).Info("Pattern learned")

	return &stored, nil
}

func (o *Orchestrator) buildIndex(ctx context.Context, organizationID string) (*matcher.CandidateIndex, error) {
	units, err := o.references.ListUnits(ctx, organizationID)
	if err != nil {
		return nil, errors.StoreError("unit listing", err)
	}
	tenants, err := o.references.ListTenants(ctx, organizationID)
	if err != nil {
		return nil, errors.StoreError("tenant listing", err)
	}
	patterns, err := o.patterns.ListPatterns(ctx, organizationID)
	if err != nil {
		return nil, errors.StoreError("pattern listing", err)
	}
	return matcher.BuildIndex(units, tenants, patterns, o.config.Matcher), nil
}
