// Package normalize maps provider-native raw snapshots into the canonical
// account/transaction shapes. Provider-specific fields never leak past this
// package: each provider has its own mapper feeding one output type.
//
// Normalization is deterministic: the same raw snapshot always yields the
// same canonical records, so re-running it never creates drift.
package normalize

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledgerline/internal/domain/account"
	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/domain/transaction"
	"ledgerline/internal/provider"
)

// Account is a normalized account before reconciliation has assigned a
// canonical id. Everything else is in final canonical form.
type Account struct {
	TenantID        string
	ConnectionID    string
	ProviderID      string
	ExternalID      string
	Name            string
	AccountType     string
	Currency        string
	Balance         decimal.Decimal
	IBAN            string
	BIC             string
	AccountNumber   string
	Status          string
	InstitutionID   string
	InstitutionName string
	Metadata        map[string]string
}

// Transaction is a normalized transaction. AccountID is the canonical
// account id when the lookup resolved it; otherwise it still holds the raw
// external account id as a placeholder and Resolved is false.
type Transaction struct {
	TenantID          string
	ConnectionID      string
	ProviderID        string
	ExternalID        string
	ExternalAccountID string
	AccountID         string
	Resolved          bool
	Date              time.Time
	Amount            decimal.Decimal
	Type              string
	Currency          string
	Description       string
	Counterparty      string
	CounterpartyIBAN  string
	Category          string
	Metadata          map[string]string
}

// UpsertParams converts a resolved normalized transaction into persistence
// parameters, deriving the deterministic canonical id.
func (t *Transaction) UpsertParams() transaction.UpsertParams {
	return transaction.UpsertParams{
		ID:               transaction.DeterministicID(t.ProviderID, t.ConnectionID, t.ExternalID),
		TenantID:         t.TenantID,
		AccountID:        t.AccountID,
		ConnectionID:     t.ConnectionID,
		ExternalID:       t.ExternalID,
		Date:             t.Date,
		Amount:           t.Amount,
		Type:             t.Type,
		Currency:         t.Currency,
		Description:      t.Description,
		Counterparty:     t.Counterparty,
		CounterpartyIBAN: t.CounterpartyIBAN,
		Category:         t.Category,
		Metadata:         t.Metadata,
	}
}

// mapper is implemented once per provider family.
type mapper interface {
	mapAccount(rec rawstore.Record) (*Account, error)
	mapTransaction(rec rawstore.Record) (*Transaction, error)
}

// AccountLookup resolves a provider's external account id to a canonical
// account id. Built per sync run from already-persisted accounts and passed
// explicitly; never shared across concurrent connection syncs.
type AccountLookup map[string]string

// Engine reads raw records for a connection and applies the provider's
// mapping rules.
type Engine struct {
	store   *rawstore.Store
	mappers map[string]mapper
}

func NewEngine(store *rawstore.Store) *Engine {
	return &Engine{
		store: store,
		mappers: map[string]mapper{
			provider.Plaid: plaidMapper{},
			provider.Tink:  tinkMapper{},
			provider.XS2A:  xs2aMapper{},
		},
	}
}

func (e *Engine) mapperFor(providerID string) (mapper, error) {
	m, ok := e.mappers[providerID]
	if !ok {
		return nil, fmt.Errorf("no normalization mapper for provider %s", providerID)
	}
	return m, nil
}

// NormalizeAccounts maps every stored raw account snapshot for a connection.
// A record that fails to map is skipped and reported; one bad payload never
// aborts the rest.
func (e *Engine) NormalizeAccounts(ctx context.Context, connectionID string) ([]Account, []string, error) {
	records, err := e.store.ListRawAccounts(ctx, connectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read raw accounts for connection %s: %w", connectionID, err)
	}
	sortRecords(records)

	var accounts []Account
	var warnings []string
	for _, rec := range records {
		m, err := e.mapperFor(rec.ProviderID)
		if err != nil {
			return nil, warnings, err
		}

		acc, err := m.mapAccount(rec)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("account %s: %v", rec.ExternalID, err))
			continue
		}
		acc.TenantID = rec.TenantID
		acc.ConnectionID = rec.ConnectionID
		acc.ProviderID = rec.ProviderID
		acc.ExternalID = rec.ExternalID
		if acc.Status == "" {
			acc.Status = account.StatusActive
		}
		accounts = append(accounts, *acc)
	}

	return accounts, warnings, nil
}

// NormalizeTransactions maps every stored raw transaction snapshot for a
// connection, resolving account linkage through the provided lookup.
// Unresolved transactions are kept with the external account id as a
// placeholder and a warning, so no data is silently dropped; the
// orchestration order (accounts before transactions) makes this rare.
func (e *Engine) NormalizeTransactions(ctx context.Context, connectionID string, lookup AccountLookup) ([]Transaction, []string, error) {
	records, err := e.store.ListRawTransactions(ctx, connectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read raw transactions for connection %s: %w", connectionID, err)
	}
	sortRecords(records)

	var txs []Transaction
	var warnings []string
	for _, rec := range records {
		m, err := e.mapperFor(rec.ProviderID)
		if err != nil {
			return nil, warnings, err
		}

		tx, err := m.mapTransaction(rec)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("transaction %s: %v", rec.ExternalID, err))
			continue
		}
		tx.TenantID = rec.TenantID
		tx.ConnectionID = rec.ConnectionID
		tx.ProviderID = rec.ProviderID
		tx.ExternalID = rec.ExternalID
		if tx.ExternalAccountID == "" {
			tx.ExternalAccountID = rec.ExternalAccountID
		}

		if canonicalID, ok := lookup[tx.ExternalAccountID]; ok {
			tx.AccountID = canonicalID
			tx.Resolved = true
		} else {
			tx.AccountID = tx.ExternalAccountID
			tx.Resolved = false
			warnings = append(warnings, fmt.Sprintf("transaction %s: no canonical account for external account %s, keeping placeholder", rec.ExternalID, tx.ExternalAccountID))
		}

		txs = append(txs, *tx)
	}

	return txs, warnings, nil
}

// sortRecords fixes iteration order so output is stable across runs.
func sortRecords(records []rawstore.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ProviderID != records[j].ProviderID {
			return records[i].ProviderID < records[j].ProviderID
		}
		return records[i].ExternalID < records[j].ExternalID
	})
}
