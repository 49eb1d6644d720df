// Package camt parses ISO 20022 bank-to-customer statement documents into
// normalized statements.
//
// Two schema variants are supported, distinguished by their root element:
//   - camt.053 account statements (BkToCstmrStmt / Stmt)
//   - camt.054 debit-credit notifications (BkToCstmrDbtCdtNtfctn / Ntfctn)
//
// Field extraction is tag-scoped: every nested lookup is resolved within
// the text span of its parent element, never against the whole document,
// so repeated tag names across entries cannot contaminate each other.
// Entry amounts are sign-adjusted from the per-entry credit/debit
// indicator and are never assumed positive.
//
// The parser is pure and stateless: identical input yields an identical
// structure, no I/O, no side effects. A document matching neither known
// root element is rejected with a terminal parse error naming the
// unrecognized structure; a single entry with unparseable sub-fields
// degrades that entry's fields to empty defaults instead of aborting the
// batch.
//
// Example usage:
//
//	statement, stats, err := camt.Parse(document)
//	if err != nil {
//		return err // whole-document failure, nothing partial is returned
//	}
//	for _, entry := range statement.Entries {
//		...
//	}
package camt

import (
	"fmt"
	"strings"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// SchemaVariant identifies which of the two supported documents was parsed
type SchemaVariant string

const (
	// VariantStatement is a camt.053 account statement
	VariantStatement SchemaVariant = "camt.053"
	// VariantNotification is a camt.054 debit-credit notification
	VariantNotification SchemaVariant = "camt.054"
)

// ParseStats reports per-document parse quality
type ParseStats struct {
	Variant         SchemaVariant `json:"variant"`
	EntriesParsed   int           `json:"entries_parsed"`
	EntriesDegraded int           `json:"entries_degraded"`
}

// balance type codes as defined by ISO 20022
const (
	balanceOpening        = "OPBD"
	balanceOpeningInterim = "PRCD" // previously closed booked, accepted as opening fallback
	balanceClosing        = "CLBD"
)

// Parse converts a camt.053/054 document into a normalized Statement.
// The returned stats describe how many entries were parsed and how many
// had sub-fields degraded to defaults.
func Parse(document string) (*models.Statement, *ParseStats, error) {
	variant, container, ok := detectVariant(document)
	if !ok {
		return nil, nil, errors.ParseError(errors.CodeUnknownSchema, rootElementName(document), nil)
	}

	body, ok := span(document, container)
	if !ok {
		return nil, nil, errors.ParseError(errors.CodeMalformedEntry,
			fmt.Sprintf("missing <%s> statement block", container), nil)
	}

	stats := &ParseStats{Variant: variant}
	statement := &models.Statement{
		ID:          value(body, "Id"),
		CreatedAt:   parseTime(value(body, "CreDtTm")),
		AccountIBAN: accountIdentifier(body),
		Currency:    accountCurrency(body),
	}

	parseBalances(body, statement)

	for _, entrySpan := range spans(body, "Ntry") {
		entry, degraded := parseEntry(entrySpan)
		statement.Entries = append(statement.Entries, entry)
		stats.EntriesParsed++
		if degraded {
			stats.EntriesDegraded++
		}
	}

	return statement, stats, nil
}

// detectVariant inspects the document root and returns the entry container
// element for the recognized variant
func detectVariant(document string) (SchemaVariant, string, bool) {
	switch {
	case strings.Contains(document, "<BkToCstmrStmt"):
		return VariantStatement, "Stmt", true
	case strings.Contains(document, "<BkToCstmrDbtCdtNtfctn"):
		return VariantNotification, "Ntfctn", true
	default:
		return "", "", false
	}
}

// rootElementName extracts the first meaningful element name for the
// unknown-schema error message
func rootElementName(document string) string {
	rest := document
	for {
		start := strings.IndexByte(rest, '<')
		if start < 0 {
			return "empty document"
		}
		rest = rest[start+1:]
		if strings.HasPrefix(rest, "?") || strings.HasPrefix(rest, "!") {
			continue
		}
		end := strings.IndexAny(rest, " >\t\r\n/")
		if end < 0 {
			return rest
		}
		name := rest[:end]
		// Skip the generic ISO envelope, the variant lives one level down.
		if name == "Document" || strings.Contains(name, ":Document") {
			continue
		}
		return name
	}
}

func accountIdentifier(body string) string {
	acct, ok := span(body, "Acct")
	if !ok {
		return ""
	}
	idBlock, ok := span(acct, "Id")
	if !ok {
		return ""
	}
	if iban := value(idBlock, "IBAN"); iban != "" {
		return models.NormalizeIBAN(iban)
	}
	// Othr/Id covers non-IBAN account schemes
	return value(idBlock, "Id")
}

func accountCurrency(body string) string {
	acct, ok := span(body, "Acct")
	if !ok {
		return ""
	}
	return value(acct, "Ccy")
}

// parseBalances extracts opening and closing balances, sign-adjusted by
// each balance block's own credit/debit indicator
func parseBalances(body string, statement *models.Statement) {
	for _, balSpan := range spans(body, "Bal") {
		code := value(balSpan, "Cd")
		amount, err := decimal.NewFromString(value(balSpan, "Amt"))
		if err != nil {
			continue
		}
		if value(balSpan, "CdtDbtInd") == string(models.DirectionDebit) {
			amount = amount.Neg()
		}

		switch code {
		case balanceOpening:
			statement.OpeningBalance = amount
			statement.HasOpeningBalance = true
		case balanceOpeningInterim:
			if !statement.HasOpeningBalance {
				statement.OpeningBalance = amount
				statement.HasOpeningBalance = true
			}
		case balanceClosing:
			statement.ClosingBalance = amount
			statement.HasClosingBalance = true
		}
	}
}

// parseEntry extracts one statement entry from its <Ntry> span. Missing or
// unparseable optional fields degrade to empty defaults; the second return
// reports whether any degradation happened.
func parseEntry(entrySpan string) (models.StatementEntry, bool) {
	degraded := false

	entry := models.StatementEntry{
		Reference:  value(entrySpan, "NtryRef"),
		Currency:   attribute(entrySpan, "Amt", "Ccy"),
		BankTxCode: bankTransactionCode(entrySpan),
	}
	if entry.Reference == "" {
		entry.Reference = value(entrySpan, "AcctSvcrRef")
	}

	direction := models.EntryDirection(value(entrySpan, "CdtDbtInd"))
	if !direction.IsValid() {
		direction = models.DirectionCredit
		degraded = true
	}
	entry.Direction = direction

	amount, err := decimal.NewFromString(value(entrySpan, "Amt"))
	if err != nil {
		amount = decimal.Zero
		degraded = true
	}
	if direction == models.DirectionDebit {
		amount = amount.Neg()
	}
	entry.Amount = amount

	if bookg, ok := span(entrySpan, "BookgDt"); ok {
		entry.BookingDate = parseDate(bookg)
	}
	if val, ok := span(entrySpan, "ValDt"); ok {
		entry.ValueDate = parseDate(val)
	}
	if entry.BookingDate.IsZero() {
		degraded = true
	}

	// Transaction details are scoped to the entry's own details block so
	// sibling entries sharing tag names cannot bleed into each other.
	details := entrySpan
	if d, ok := span(entrySpan, "NtryDtls"); ok {
		details = d
	}
	if d, ok := span(details, "TxDtls"); ok {
		details = d
	}

	entry.EndToEndID = value(details, "EndToEndId")
	entry.MandateID = value(details, "MndtId")
	entry.RemittanceInfo = remittanceInfo(details)
	entry.CounterpartyName, entry.CounterpartyIBAN = counterparty(details, direction)

	return entry, degraded
}

// remittanceInfo joins all unstructured remittance lines of the entry
func remittanceInfo(details string) string {
	rmt, ok := span(details, "RmtInf")
	if !ok {
		return ""
	}
	lines := make([]string, 0, 2)
	for _, u := range spans(rmt, "Ustrd") {
		if text := strings.TrimSpace(unescape(u)); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " ")
}

// counterparty resolves the other party of the entry: the debtor for
// credits arriving on the account, the creditor for debits leaving it
func counterparty(details string, direction models.EntryDirection) (name, iban string) {
	partyTag, acctTag := "Dbtr", "DbtrAcct"
	if direction == models.DirectionDebit {
		partyTag, acctTag = "Cdtr", "CdtrAcct"
	}

	if parties, ok := span(details, "RltdPties"); ok {
		if party, ok := span(parties, partyTag); ok {
			name = strings.TrimSpace(unescape(value(party, "Nm")))
		}
		if acct, ok := span(parties, acctTag); ok {
			iban = models.NormalizeIBAN(value(acct, "IBAN"))
		}
	}
	return name, iban
}

// bankTransactionCode prefers the domain/family code pair, falling back to
// the proprietary code
func bankTransactionCode(entrySpan string) string {
	btc, ok := span(entrySpan, "BkTxCd")
	if !ok {
		return ""
	}
	if domain, ok := span(btc, "Domn"); ok {
		code := value(domain, "Cd")
		if family, ok := span(domain, "Fmly"); ok {
			if familyCode := value(family, "Cd"); familyCode != "" {
				return code + "/" + familyCode
			}
		}
		return code
	}
	if prtry, ok := span(btc, "Prtry"); ok {
		return value(prtry, "Cd")
	}
	return ""
}

// parseDate reads a <Dt> or <DtTm> child of a date block
func parseDate(dateSpan string) time.Time {
	if d := value(dateSpan, "Dt"); d != "" {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			return t
		}
	}
	return parseTime(value(dateSpan, "DtTm"))
}

// parseTime handles the timestamp formats seen in bank exports
func parseTime(s string) time.Time {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
