package normalize

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/provider"
)

// memRecords is an in-memory rawstore.RecordRepository for engine tests.
type memRecords struct {
	records map[string]rawstore.Record
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[string]rawstore.Record)}
}

func (m *memRecords) UpsertBatch(ctx context.Context, records []rawstore.Record) error {
	for _, r := range records {
		m.records[r.ConnectionID+"|"+r.ProviderID+"|"+r.ExternalID+"|"+r.Kind] = r
	}
	return nil
}

func (m *memRecords) ListByConnection(ctx context.Context, connectionID, kind string) ([]rawstore.Record, error) {
	var out []rawstore.Record
	for _, r := range m.records {
		if r.ConnectionID == connectionID && r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

type memCursors struct{}

func (memCursors) Get(ctx context.Context, connectionID, providerID string) (*rawstore.Cursor, error) {
	return nil, rawstore.ErrCursorNotFound
}
func (memCursors) Set(ctx context.Context, cursor rawstore.Cursor) error { return nil }
func (memCursors) Reset(ctx context.Context, connectionID, providerID string) error {
	return nil
}

func seedStore(t *testing.T, records ...rawstore.Record) *rawstore.Store {
	t.Helper()
	repo := newMemRecords()
	if err := repo.UpsertBatch(context.Background(), records); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return rawstore.NewStore(repo, memCursors{})
}

func rawAccountRecord(providerID, externalID, payload string) rawstore.Record {
	return rawstore.Record{
		ConnectionID: "conn-1",
		TenantID:     "tenant-1",
		ProviderID:   providerID,
		ExternalID:   externalID,
		Kind:         rawstore.KindAccount,
		Payload:      json.RawMessage(payload),
	}
}

func rawTxRecord(providerID, externalID, externalAccountID, payload string) rawstore.Record {
	return rawstore.Record{
		ConnectionID:      "conn-1",
		TenantID:          "tenant-1",
		ProviderID:        providerID,
		ExternalID:        externalID,
		Kind:              rawstore.KindTransaction,
		ExternalAccountID: externalAccountID,
		Payload:           json.RawMessage(payload),
	}
}

func TestNormalizeAccountsDeterministic(t *testing.T) {
	store := seedStore(t,
		rawAccountRecord(provider.Plaid, "ext-b", `{
			"account_id": "ext-b", "name": "Checking", "type": "depository", "subtype": "checking",
			"balances": {"current": 10.00, "iso_currency_code": "USD"}
		}`),
		rawAccountRecord(provider.Plaid, "ext-a", `{
			"account_id": "ext-a", "name": "Savings", "type": "depository", "subtype": "savings",
			"balances": {"current": 20.00, "iso_currency_code": "USD"}
		}`),
	)
	engine := NewEngine(store)
	ctx := context.Background()

	first, warnings, err := engine.NormalizeAccounts(ctx, "conn-1")
	if err != nil {
		t.Fatalf("first normalize failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	second, _, err := engine.NormalizeAccounts(ctx, "conn-1")
	if err != nil {
		t.Fatalf("second normalize failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("normalizing the same snapshot twice produced different output")
	}

	// Deterministic ordering by external id, independent of map iteration.
	if len(first) != 2 || first[0].ExternalID != "ext-a" || first[1].ExternalID != "ext-b" {
		t.Errorf("unexpected order: %+v", first)
	}
}

func TestNormalizeAccountsSkipsMalformedPayload(t *testing.T) {
	store := seedStore(t,
		rawAccountRecord(provider.Plaid, "ext-bad", `{"account_id": `),
		rawAccountRecord(provider.Plaid, "ext-ok", `{
			"account_id": "ext-ok", "name": "Checking", "type": "depository", "subtype": "checking",
			"balances": {"current": 5.00, "iso_currency_code": "USD"}
		}`),
	)
	engine := NewEngine(store)

	accounts, warnings, err := engine.NormalizeAccounts(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ExternalID != "ext-ok" {
		t.Errorf("expected the healthy account to survive, got %+v", accounts)
	}
	if len(warnings) != 1 {
		t.Errorf("expected one warning for the malformed record, got %v", warnings)
	}
}

func TestNormalizeTransactionsResolvesAccounts(t *testing.T) {
	store := seedStore(t,
		rawTxRecord(provider.Plaid, "tx-1", "ext-a", `{
			"transaction_id": "tx-1", "account_id": "ext-a", "amount": 12.00,
			"iso_currency_code": "USD", "date": "2026-03-01", "name": "LUNCH"
		}`),
		rawTxRecord(provider.Plaid, "tx-2", "ext-unknown", `{
			"transaction_id": "tx-2", "account_id": "ext-unknown", "amount": 9.00,
			"iso_currency_code": "USD", "date": "2026-03-02", "name": "UNKNOWN"
		}`),
	)
	engine := NewEngine(store)

	lookup := AccountLookup{"ext-a": "canonical-acc-1"}
	txs, warnings, err := engine.NormalizeTransactions(context.Background(), "conn-1", lookup)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected both transactions kept, got %d", len(txs))
	}

	if !txs[0].Resolved || txs[0].AccountID != "canonical-acc-1" {
		t.Errorf("tx-1 should resolve to canonical id: %+v", txs[0])
	}

	// The unknown account keeps the external id placeholder and a warning.
	if txs[1].Resolved {
		t.Errorf("tx-2 should be unresolved: %+v", txs[1])
	}
	if txs[1].AccountID != "ext-unknown" {
		t.Errorf("tx-2 should keep the external id placeholder, got %s", txs[1].AccountID)
	}
	foundWarning := false
	for _, w := range warnings {
		if strings.Contains(w, "ext-unknown") {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Errorf("expected a placeholder warning, got %v", warnings)
	}
}

func TestNormalizeUnknownProviderFails(t *testing.T) {
	store := seedStore(t, rawAccountRecord("monzo", "ext-1", `{}`))
	engine := NewEngine(store)

	if _, _, err := engine.NormalizeAccounts(context.Background(), "conn-1"); err == nil {
		t.Error("expected error for provider without a mapper")
	}
}

func TestUpsertParamsDerivesDeterministicID(t *testing.T) {
	tx := Transaction{
		TenantID:     "tenant-1",
		ConnectionID: "conn-1",
		ProviderID:   provider.Tink,
		ExternalID:   "tx-9",
		AccountID:    "acc-1",
	}

	a := tx.UpsertParams()
	b := tx.UpsertParams()
	if a.ID == "" || a.ID != b.ID {
		t.Errorf("expected stable derived id, got %q and %q", a.ID, b.ID)
	}
}
