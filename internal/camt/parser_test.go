package camt

import (
	"testing"
	"time"

	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func createTestStatementDocument() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.08">
  <BkToCstmrStmt>
    <GrpHdr>
      <MsgId>MSG-20250503-001</MsgId>
      <CreDtTm>2025-05-03T06:00:00</CreDtTm>
    </GrpHdr>
    <Stmt>
      <Id>STMT-2025-05</Id>
      <CreDtTm>2025-05-03T06:00:00</CreDtTm>
      <Acct>
        <Id><IBAN>AT48 3200 0000 1234 5864</IBAN></Id>
        <Ccy>EUR</Ccy>
      </Acct>
      <Bal>
        <Tp><CdOrPrtry><Cd>OPBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">100.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
      </Bal>
      <Bal>
        <Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp>
        <Amt Ccy="EUR">130.50</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
      </Bal>
      <Ntry>
        <NtryRef>REF-001</NtryRef>
        <Amt Ccy="EUR">50.50</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><Dt>2025-05-02</Dt></BookgDt>
        <ValDt><Dt>2025-05-02</Dt></ValDt>
        <BkTxCd><Domn><Cd>PMNT</Cd><Fmly><Cd>RCDT</Cd></Fmly></Domn></BkTxCd>
        <NtryDtls>
          <TxDtls>
            <Refs><EndToEndId>E2E-001</EndToEndId></Refs>
            <RltdPties>
              <Dbtr><Nm>Anna Huber</Nm></Dbtr>
              <DbtrAcct><Id><IBAN>AT61 1904 3002 3457 3201</IBAN></Id></DbtrAcct>
            </RltdPties>
            <RmtInf>
              <Ustrd>Miete Mai</Ustrd>
              <Ustrd>Top 12</Ustrd>
            </RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
      <Ntry>
        <NtryRef>REF-002</NtryRef>
        <Amt Ccy="EUR">30.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><Dt>2025-05-02</Dt></BookgDt>
        <NtryDtls>
          <TxDtls>
            <RltdPties>
              <Dbtr><Nm>Max Mustermann</Nm></Dbtr>
            </RltdPties>
            <RmtInf><Ustrd>Betriebskosten Whg 3</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
      <Ntry>
        <NtryRef>REF-003</NtryRef>
        <Amt Ccy="EUR">50.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <BookgDt><Dt>2025-05-03</Dt></BookgDt>
        <NtryDtls>
          <TxDtls>
            <RltdPties>
              <Cdtr><Nm>Stadtwerke</Nm></Cdtr>
            </RltdPties>
            <RmtInf><Ustrd>Strom April</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`
}

func TestParse_Statement(t *testing.T) {
	statement, stats, err := Parse(createTestStatementDocument())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if stats.Variant != VariantStatement {
		t.Errorf("Expected variant %s, got %s", VariantStatement, stats.Variant)
	}
	if statement.ID != "STMT-2025-05" {
		t.Errorf("Expected statement id STMT-2025-05, got %s", statement.ID)
	}
	if statement.AccountIBAN != "AT483200000012345864" {
		t.Errorf("Expected normalized account IBAN, got %s", statement.AccountIBAN)
	}
	if statement.Currency != "EUR" {
		t.Errorf("Expected currency EUR, got %s", statement.Currency)
	}
	if len(statement.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(statement.Entries))
	}
	if stats.EntriesParsed != 3 || stats.EntriesDegraded != 0 {
		t.Errorf("Expected 3 parsed, 0 degraded, got %d/%d", stats.EntriesParsed, stats.EntriesDegraded)
	}

	first := statement.Entries[0]
	if first.Reference != "REF-001" {
		t.Errorf("Expected reference REF-001, got %s", first.Reference)
	}
	if !first.Amount.Equal(decimal.RequireFromString("50.50")) {
		t.Errorf("Expected amount 50.50, got %s", first.Amount)
	}
	if first.Direction != models.DirectionCredit || !first.IsCredit() {
		t.Errorf("Expected credit entry, got %s", first.Direction)
	}
	if first.Currency != "EUR" {
		t.Errorf("Expected entry currency EUR, got %s", first.Currency)
	}
	if !first.BookingDate.Equal(time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected booking date %s", first.BookingDate)
	}
	if first.CounterpartyName != "Anna Huber" {
		t.Errorf("Expected counterparty Anna Huber, got %s", first.CounterpartyName)
	}
	if first.CounterpartyIBAN != "AT611904300234573201" {
		t.Errorf("Expected normalized counterparty IBAN, got %s", first.CounterpartyIBAN)
	}
	if first.RemittanceInfo != "Miete Mai Top 12" {
		t.Errorf("Expected joined remittance lines, got %q", first.RemittanceInfo)
	}
	if first.EndToEndID != "E2E-001" {
		t.Errorf("Expected end-to-end id E2E-001, got %s", first.EndToEndID)
	}
	if first.BankTxCode != "PMNT/RCDT" {
		t.Errorf("Expected bank tx code PMNT/RCDT, got %s", first.BankTxCode)
	}

	// Debit entries carry a negative signed amount and the creditor as
	// counterparty.
	debit := statement.Entries[2]
	if !debit.Amount.Equal(decimal.RequireFromString("-50.00")) {
		t.Errorf("Expected debit amount -50.00, got %s", debit.Amount)
	}
	if debit.IsCredit() {
		t.Error("Expected debit entry")
	}
	if debit.CounterpartyName != "Stadtwerke" {
		t.Errorf("Expected counterparty Stadtwerke, got %s", debit.CounterpartyName)
	}
}

func TestParse_BalanceSum(t *testing.T) {
	statement, _, err := Parse(createTestStatementDocument())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !statement.HasOpeningBalance || !statement.HasClosingBalance {
		t.Fatal("Expected both balances to be present")
	}
	if !statement.OpeningBalance.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("Expected opening balance 100.00, got %s", statement.OpeningBalance)
	}
	if !statement.ClosingBalance.Equal(decimal.RequireFromString("130.50")) {
		t.Errorf("Expected closing balance 130.50, got %s", statement.ClosingBalance)
	}

	delta := statement.ClosingBalance.Sub(statement.OpeningBalance)
	if !statement.EntrySum().Equal(delta) {
		t.Errorf("Entry sum %s does not explain balance delta %s", statement.EntrySum(), delta)
	}
}

func TestParse_Notification(t *testing.T) {
	document := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.054.001.08">
  <BkToCstmrDbtCdtNtfctn>
    <Ntfctn>
      <Id>NTFCTN-01</Id>
      <Acct><Id><IBAN>DE75512108001245126199</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Ntry>
        <NtryRef>N-REF-1</NtryRef>
        <Amt Ccy="EUR">640.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><Dt>2025-06-01</Dt></BookgDt>
        <NtryDtls>
          <TxDtls>
            <RmtInf><Ustrd>Miete Juni Wohnung 7</Ustrd></RmtInf>
          </TxDtls>
        </NtryDtls>
      </Ntry>
    </Ntfctn>
  </BkToCstmrDbtCdtNtfctn>
</Document>`

	statement, stats, err := Parse(document)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if stats.Variant != VariantNotification {
		t.Errorf("Expected variant %s, got %s", VariantNotification, stats.Variant)
	}
	if statement.ID != "NTFCTN-01" {
		t.Errorf("Expected notification id, got %s", statement.ID)
	}
	if len(statement.Entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(statement.Entries))
	}
	if statement.Entries[0].RemittanceInfo != "Miete Juni Wohnung 7" {
		t.Errorf("Unexpected remittance info %q", statement.Entries[0].RemittanceInfo)
	}
}

func TestParse_UnknownSchema(t *testing.T) {
	document := `<?xml version="1.0"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.052.001.08">
  <BkToCstmrAcctRpt><Rpt><Id>RPT-1</Id></Rpt></BkToCstmrAcctRpt>
</Document>`

	_, _, err := Parse(document)
	if err == nil {
		t.Fatal("Expected unknown schema error")
	}

	reconcilerErr, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("Expected ReconcilerError, got %T", err)
	}
	if reconcilerErr.Category != errors.CategoryParse {
		t.Errorf("Expected parse category, got %s", reconcilerErr.Category)
	}
	if reconcilerErr.Code != errors.CodeUnknownSchema {
		t.Errorf("Expected unknown schema code, got %s", reconcilerErr.Code)
	}
}

func TestParse_DegradedEntry(t *testing.T) {
	document := `<Document><BkToCstmrStmt><Stmt>
  <Id>STMT-X</Id>
  <Ntry>
    <NtryRef>REF-BAD</NtryRef>
    <BookgDt><Dt>2025-05-02</Dt></BookgDt>
  </Ntry>
</Stmt></BkToCstmrStmt></Document>`

	statement, stats, err := Parse(document)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if stats.EntriesDegraded != 1 {
		t.Errorf("Expected 1 degraded entry, got %d", stats.EntriesDegraded)
	}

	entry := statement.Entries[0]
	if entry.Direction != models.DirectionCredit {
		t.Errorf("Expected degraded entry to default to credit, got %s", entry.Direction)
	}
	if !entry.Amount.IsZero() {
		t.Errorf("Expected degraded amount zero, got %s", entry.Amount)
	}
}

func TestParse_OpeningBalanceFallback(t *testing.T) {
	document := `<Document><BkToCstmrStmt><Stmt>
  <Id>STMT-PRCD</Id>
  <Bal>
    <Tp><CdOrPrtry><Cd>PRCD</Cd></CdOrPrtry></Tp>
    <Amt Ccy="EUR">80.00</Amt>
    <CdtDbtInd>DBIT</CdtDbtInd>
  </Bal>
</Stmt></BkToCstmrStmt></Document>`

	statement, _, err := Parse(document)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !statement.HasOpeningBalance {
		t.Fatal("Expected PRCD balance to serve as opening fallback")
	}
	if !statement.OpeningBalance.Equal(decimal.RequireFromString("-80.00")) {
		t.Errorf("Expected debit balance to be negated, got %s", statement.OpeningBalance)
	}
}
