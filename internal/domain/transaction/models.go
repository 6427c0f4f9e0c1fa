package transaction

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction direction. Amount is always a non-negative magnitude; the
// sign convention of every provider is folded into this field.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// idNamespace seeds deterministic transaction ids. Fixed forever: changing
// it would re-key every persisted transaction.
var idNamespace = uuid.MustParse("9f2c1b66-4a1d-4ab0-9d3e-7c55c1a0b9f4")

// DeterministicID derives the canonical transaction id from
// (provider id, connection id, external transaction id). Re-ingesting the
// same external transaction always produces the same id, which makes
// persistence idempotent.
func DeterministicID(providerID, connectionID, externalID string) string {
	return uuid.NewSHA1(idNamespace, []byte(providerID+"|"+connectionID+"|"+externalID)).String()
}

// Transaction is the canonical, tenant-scoped representation.
// (connection id, external id) is unique: re-ingestion updates the row.
type Transaction struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenantId"`
	AccountID        string            `json:"accountId"`
	ConnectionID     string            `json:"connectionId"`
	ExternalID       string            `json:"externalId"`
	Date             time.Time         `json:"date"`
	Amount           decimal.Decimal   `json:"amount"`
	Type             string            `json:"type"`
	Currency         string            `json:"currency"`
	Description      string            `json:"description"`
	Counterparty     string            `json:"counterparty,omitempty"`
	CounterpartyIBAN string            `json:"counterpartyIban,omitempty"`
	Category         string            `json:"category,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// UpsertParams carries the fields a sync writes for one transaction.
type UpsertParams struct {
	ID               string
	TenantID         string
	AccountID        string
	ConnectionID     string
	ExternalID       string
	Date             time.Time
	Amount           decimal.Decimal
	Type             string
	Currency         string
	Description      string
	Counterparty     string
	CounterpartyIBAN string
	Category         string
	Metadata         map[string]string
}

// Validate checks the invariants persistence relies on.
func (p *UpsertParams) Validate() error {
	if p.ID == "" {
		return errors.New("transaction id is required")
	}
	if p.TenantID == "" {
		return errors.New("tenant id is required")
	}
	if p.AccountID == "" {
		return errors.New("account id is required")
	}
	if p.ExternalID == "" {
		return errors.New("external transaction id is required")
	}
	if p.Type != TypeCredit && p.Type != TypeDebit {
		return errors.New("transaction type must be credit or debit")
	}
	if p.Amount.IsNegative() {
		return errors.New("amount must be a non-negative magnitude")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}
