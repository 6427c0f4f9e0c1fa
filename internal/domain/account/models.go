package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical account type taxonomy. Every provider taxonomy maps into this
// set; unmapped types become TypeOther, never an error.
const (
	TypeChecking   = "checking"
	TypeSavings    = "savings"
	TypeCreditCard = "credit_card"
	TypeLoan       = "loan"
	TypeInvestment = "investment"
	TypeMortgage   = "mortgage"
	TypeRetirement = "retirement"
	TypeOther      = "other"
)

// Account statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidInput    = errors.New("invalid input")
)

var validTypes = map[string]struct{}{
	TypeChecking: {}, TypeSavings: {}, TypeCreditCard: {}, TypeLoan: {},
	TypeInvestment: {}, TypeMortgage: {}, TypeRetirement: {}, TypeOther: {},
}

// IsValidType reports whether t is part of the canonical taxonomy.
func IsValidType(t string) bool {
	_, ok := validTypes[t]
	return ok
}

// Account is the tenant-facing canonical representation of one real-world
// bank account. Exactly one exists per real-world account per tenant, no
// matter how many times it has been (re)connected.
type Account struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenantId"`
	ConnectionID      string            `json:"connectionId"`
	ProviderID        string            `json:"providerId"`
	ExternalID        string            `json:"externalId"`
	Name              string            `json:"name"`
	AccountType       string            `json:"accountType"`
	Currency          string            `json:"currency"`
	Balance           decimal.Decimal   `json:"balance"`
	IBAN              string            `json:"iban,omitempty"`
	BIC               string            `json:"bic,omitempty"`
	AccountNumber     string            `json:"accountNumber,omitempty"`
	Status            string            `json:"status"`
	InstitutionID     string            `json:"institutionId"`
	InstitutionName   string            `json:"institutionName"`
	LastSyncedAt      time.Time         `json:"lastSyncedAt"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// UpsertParams carries the fields a sync writes for one canonical account.
// The ID is the canonical id resolved by reconciliation, never a provider id.
type UpsertParams struct {
	ID              string
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
	LastSyncedAt    time.Time
	Metadata        map[string]string
}

// Validate checks the invariants persistence relies on.
func (p *UpsertParams) Validate() error {
	if p.ID == "" {
		return errors.New("account id is required")
	}
	if p.TenantID == "" {
		return errors.New("tenant id is required")
	}
	if p.ExternalID == "" {
		return errors.New("external account id is required")
	}
	if !IsValidType(p.AccountType) {
		return errors.New("account type is not in the canonical taxonomy")
	}
	return nil
}
