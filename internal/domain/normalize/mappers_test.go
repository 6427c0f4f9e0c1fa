package normalize

import (
	"encoding/json"
	"testing"

	"ledgerline/internal/domain/account"
	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/domain/transaction"
)

func record(providerID, externalID string, payload string) rawstore.Record {
	return rawstore.Record{
		ConnectionID: "conn-1",
		TenantID:     "tenant-1",
		ProviderID:   providerID,
		ExternalID:   externalID,
		Payload:      json.RawMessage(payload),
	}
}

func TestPlaidAccountMapping(t *testing.T) {
	rec := record("plaid", "ext-1", `{
		"account_id": "ext-1",
		"name": "Everyday Checking",
		"type": "depository",
		"subtype": "checking",
		"mask": "4321",
		"institution_id": "ins_3",
		"balances": {"available": 95.20, "current": 110.55, "iso_currency_code": "USD"}
	}`)

	acc, err := plaidMapper{}.mapAccount(rec)
	if err != nil {
		t.Fatalf("mapAccount failed: %v", err)
	}

	if acc.AccountType != account.TypeChecking {
		t.Errorf("expected checking, got %s", acc.AccountType)
	}
	// Current (booked) wins over available.
	if acc.Balance.String() != "110.55" {
		t.Errorf("expected balance 110.55, got %s", acc.Balance)
	}
	if acc.Currency != "USD" {
		t.Errorf("expected USD, got %s", acc.Currency)
	}
	if acc.InstitutionName != "Chase" {
		t.Errorf("expected institution lookup to resolve Chase, got %q", acc.InstitutionName)
	}
}

func TestPlaidBalanceFallsBackToAvailable(t *testing.T) {
	rec := record("plaid", "ext-1", `{
		"account_id": "ext-1",
		"name": "Savings",
		"type": "depository",
		"subtype": "savings",
		"balances": {"available": 1200.00, "iso_currency_code": "USD"}
	}`)

	acc, err := plaidMapper{}.mapAccount(rec)
	if err != nil {
		t.Fatalf("mapAccount failed: %v", err)
	}
	if acc.Balance.String() != "1200" {
		t.Errorf("expected available balance 1200, got %s", acc.Balance)
	}
}

func TestPlaidUnmappedTypeFallsBackToOther(t *testing.T) {
	rec := record("plaid", "ext-1", `{
		"account_id": "ext-1",
		"name": "Mystery Product",
		"type": "cryptocurrency",
		"subtype": "hot wallet",
		"balances": {"current": 1.0, "iso_currency_code": "USD"}
	}`)

	acc, err := plaidMapper{}.mapAccount(rec)
	if err != nil {
		t.Fatalf("expected no error for unmapped type, got %v", err)
	}
	if acc.AccountType != account.TypeOther {
		t.Errorf("expected fallback to other, got %s", acc.AccountType)
	}
}

func TestPlaidSignConvention(t *testing.T) {
	// Plaid: positive = money out.
	tests := []struct {
		amount   string
		wantType string
		wantMag  string
	}{
		{"25.50", transaction.TypeDebit, "25.5"},
		{"-1200.00", transaction.TypeCredit, "1200"},
	}

	for _, tt := range tests {
		rec := record("plaid", "tx-1", `{
			"transaction_id": "tx-1",
			"account_id": "ext-1",
			"amount": `+tt.amount+`,
			"iso_currency_code": "USD",
			"date": "2026-03-10",
			"name": "COFFEE SHOP"
		}`)

		tx, err := plaidMapper{}.mapTransaction(rec)
		if err != nil {
			t.Fatalf("mapTransaction(%s) failed: %v", tt.amount, err)
		}
		if tx.Type != tt.wantType {
			t.Errorf("amount %s: expected type %s, got %s", tt.amount, tt.wantType, tx.Type)
		}
		if tx.Amount.String() != tt.wantMag {
			t.Errorf("amount %s: expected magnitude %s, got %s", tt.amount, tt.wantMag, tx.Amount)
		}
	}
}

func TestTinkFixedPointBalance(t *testing.T) {
	rec := record("tink", "ext-2", `{
		"id": "ext-2",
		"name": "Lönekonto",
		"type": "CHECKING",
		"financialInstitutionId": "se-handelsbanken",
		"identifiers": {"iban": {"iban": "SE3550000000054910000003", "bic": "HANDSESS"}},
		"balances": {
			"booked": {"amount": {"value": {"unscaledValue": "1250050", "scale": "2"}, "currencyCode": "SEK"}},
			"available": {"amount": {"value": {"unscaledValue": "999999", "scale": "2"}, "currencyCode": "SEK"}}
		}
	}`)

	acc, err := tinkMapper{}.mapAccount(rec)
	if err != nil {
		t.Fatalf("mapAccount failed: %v", err)
	}
	// Booked over available.
	if acc.Balance.String() != "12500.5" {
		t.Errorf("expected booked balance 12500.5, got %s", acc.Balance)
	}
	if acc.Currency != "SEK" {
		t.Errorf("expected SEK, got %s", acc.Currency)
	}
	if acc.IBAN != "SE3550000000054910000003" {
		t.Errorf("IBAN not carried: %q", acc.IBAN)
	}
	if acc.InstitutionName != "Handelsbanken" {
		t.Errorf("expected Handelsbanken, got %q", acc.InstitutionName)
	}
}

func TestTinkSignConvention(t *testing.T) {
	// Tink: negative = expense.
	rec := record("tink", "tx-2", `{
		"id": "tx-2",
		"accountId": "ext-2",
		"amount": {"value": {"unscaledValue": "-15000", "scale": "2"}, "currencyCode": "SEK"},
		"dates": {"booked": "2026-03-09"},
		"descriptions": {"display": "ICA Supermarket"},
		"status": "BOOKED"
	}`)

	tx, err := tinkMapper{}.mapTransaction(rec)
	if err != nil {
		t.Fatalf("mapTransaction failed: %v", err)
	}
	if tx.Type != transaction.TypeDebit {
		t.Errorf("expected debit for negative tink amount, got %s", tx.Type)
	}
	if tx.Amount.String() != "150" {
		t.Errorf("expected magnitude 150, got %s", tx.Amount)
	}
}

func TestXS2ABookedBalanceWins(t *testing.T) {
	rec := record("xs2a", "res-3", `{
		"resourceId": "res-3",
		"iban": "DE89370400440532013000",
		"bic": "COBADEFFXXX",
		"name": "Girokonto",
		"cashAccountType": "CACC",
		"currency": "EUR",
		"institutionId": "de-commerzbank",
		"balances": [
			{"balanceType": "interimAvailable", "balanceAmount": {"currency": "EUR", "amount": "880.12"}},
			{"balanceType": "closingBooked", "balanceAmount": {"currency": "EUR", "amount": "901.40"}}
		]
	}`)

	acc, err := xs2aMapper{}.mapAccount(rec)
	if err != nil {
		t.Fatalf("mapAccount failed: %v", err)
	}
	if acc.Balance.String() != "901.4" {
		t.Errorf("expected closingBooked 901.4, got %s", acc.Balance)
	}
	if acc.AccountType != account.TypeChecking {
		t.Errorf("expected checking for CACC, got %s", acc.AccountType)
	}
	// No table entry: formatted fallback, never blank.
	if acc.InstitutionName != "Commerzbank" {
		t.Errorf("expected formatted fallback Commerzbank, got %q", acc.InstitutionName)
	}
}

func TestXS2AAvailableFallback(t *testing.T) {
	rec := record("xs2a", "res-3", `{
		"resourceId": "res-3",
		"cashAccountType": "SVGS",
		"currency": "EUR",
		"balances": [
			{"balanceType": "interimAvailable", "balanceAmount": {"currency": "EUR", "amount": "42.00"}}
		]
	}`)

	acc, err := xs2aMapper{}.mapAccount(rec)
	if err != nil {
		t.Fatalf("mapAccount failed: %v", err)
	}
	if acc.Balance.String() != "42" {
		t.Errorf("expected available fallback 42, got %s", acc.Balance)
	}
}

func TestXS2ACreditDebitIndicator(t *testing.T) {
	tests := []struct {
		name      string
		indicator string
		amount    string
		wantType  string
	}{
		{"explicit credit", "CRDT", "100.00", transaction.TypeCredit},
		{"explicit debit", "DBIT", "100.00", transaction.TypeDebit},
		{"sign fallback negative", "", "-55.10", transaction.TypeDebit},
		{"sign fallback positive", "", "55.10", transaction.TypeCredit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record("xs2a", "tx-3", `{
				"transactionId": "tx-3",
				"accountResourceId": "res-3",
				"bookingDate": "2026-03-08",
				"transactionAmount": {"currency": "EUR", "amount": "`+tt.amount+`"},
				"creditDebitIndicator": "`+tt.indicator+`",
				"creditorName": "ACME GmbH",
				"remittanceInformationUnstructured": "Invoice 778"
			}`)

			tx, err := xs2aMapper{}.mapTransaction(rec)
			if err != nil {
				t.Fatalf("mapTransaction failed: %v", err)
			}
			if tx.Type != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, tx.Type)
			}
			if tx.Amount.IsNegative() {
				t.Errorf("magnitude must be non-negative, got %s", tx.Amount)
			}
		})
	}
}

func TestInstitutionNameFallbackFormatting(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"ins_3", "Chase"},
		{"se-handelsbanken", "Handelsbanken"},
		{"ins_first_platypus", "First Platypus"},
		{"de-sparkasse_berlin", "Sparkasse Berlin"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := InstitutionName(tt.id); got != tt.want {
			t.Errorf("InstitutionName(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
