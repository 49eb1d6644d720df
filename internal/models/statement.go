// Package models defines the domain types shared by the reconciliation core:
// parsed bank statements, match candidates and results, learned patterns,
// invoice lines, and merge tombstones.
//
// Amounts are always shopspring decimals; float64 never touches money.
// Statement types are immutable once parsed and never persisted directly.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryDirection indicates whether a statement entry is a credit or debit
type EntryDirection string

const (
	// DirectionCredit marks money arriving on the account
	DirectionCredit EntryDirection = "CRDT"
	// DirectionDebit marks money leaving the account
	DirectionDebit EntryDirection = "DBIT"
)

// String returns the string representation of EntryDirection
func (d EntryDirection) String() string {
	return string(d)
}

// IsValid checks if the direction is one of the two known indicators
func (d EntryDirection) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// StatementEntry is one line of a parsed bank statement. It is produced
// fresh per import and either turned into a Transaction or discarded as
// unmatched; it is never persisted as-is.
type StatementEntry struct {
	Reference        string          `json:"reference"`
	BookingDate      time.Time       `json:"booking_date"`
	ValueDate        time.Time       `json:"value_date"`
	Amount           decimal.Decimal `json:"amount"` // signed, credit positive
	Currency         string          `json:"currency"`
	Direction        EntryDirection  `json:"direction"`
	CounterpartyName string          `json:"counterparty_name"`
	CounterpartyIBAN string          `json:"counterparty_iban"`
	RemittanceInfo   string          `json:"remittance_info"`
	EndToEndID       string          `json:"end_to_end_id"`
	MandateID        string          `json:"mandate_id"`
	BankTxCode       string          `json:"bank_tx_code"`
}

// IsCredit returns true if the entry moves money onto the account
func (e *StatementEntry) IsCredit() bool {
	return e.Direction == DirectionCredit
}

// SearchText concatenates the entry fields a human-written remittance
// reference could appear in. This is the input to the matching cascade.
func (e *StatementEntry) SearchText() string {
	parts := []string{
		e.RemittanceInfo,
		e.CounterpartyName,
		e.Reference,
		e.CounterpartyIBAN,
	}
	return strings.ToLower(strings.TrimSpace(strings.Join(parts, " ")))
}

// String returns a string representation of the StatementEntry
func (e *StatementEntry) String() string {
	return fmt.Sprintf("StatementEntry{Ref: %s, Amount: %s %s, Dir: %s, Counterparty: %s}",
		e.Reference, e.Amount.String(), e.Currency, e.Direction, e.CounterpartyName)
}

// Statement is the normalized result of parsing a camt.053/054 document
type Statement struct {
	ID                string           `json:"id"`
	AccountIBAN       string           `json:"account_iban"`
	Currency          string           `json:"currency"`
	CreatedAt         time.Time        `json:"created_at"`
	OpeningBalance    decimal.Decimal  `json:"opening_balance"`
	ClosingBalance    decimal.Decimal  `json:"closing_balance"`
	HasOpeningBalance bool             `json:"has_opening_balance"`
	HasClosingBalance bool             `json:"has_closing_balance"`
	Entries           []StatementEntry `json:"entries"`
}

// CreditEntries returns only the credit-direction entries of the statement
func (s *Statement) CreditEntries() []StatementEntry {
	var credits []StatementEntry
	for _, e := range s.Entries {
		if e.IsCredit() {
			credits = append(credits, e)
		}
	}
	return credits
}

// EntrySum returns the sum of all entry amounts with credit-positive sign.
// When both balance codes are present this equals closing minus opening.
func (s *Statement) EntrySum() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range s.Entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}
