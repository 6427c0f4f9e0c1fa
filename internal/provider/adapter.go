// Package provider defines the contract between the sync core and the
// per-provider integrations (OAuth aggregators and direct bank APIs).
// The core never speaks HTTP to a provider itself; it consumes adapters.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Provider identifiers for the supported integrations.
const (
	Plaid = "plaid" // OAuth aggregator, cursor-based pagination
	Tink  = "tink"  // OAuth aggregator, page-token pagination
	XS2A  = "xs2a"  // direct bank API, full-refresh only
)

// PaginationFamily describes how a provider pages transaction history.
type PaginationFamily string

const (
	PaginationCursor      PaginationFamily = "cursor"
	PaginationPageToken   PaginationFamily = "page_token"
	PaginationFullRefresh PaginationFamily = "full_refresh"
)

// FamilyFor returns the pagination family for a provider id.
func FamilyFor(providerID string) PaginationFamily {
	switch providerID {
	case Plaid:
		return PaginationCursor
	case Tink:
		return PaginationPageToken
	default:
		return PaginationFullRefresh
	}
}

var (
	// ErrUnauthorized is returned when the provider rejects the credentials
	// and no refresh is possible. Callers must abort the connection's sync.
	ErrUnauthorized = errors.New("provider credentials unauthorized")

	// ErrRateLimited is returned on provider throttling. Transient; the next
	// scheduled cycle retries.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnknownProvider is returned by the registry for unregistered ids.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Credentials are already decrypted and, where applicable, already refreshed
// by the caller. The core never touches secret storage.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Tokens is the result of a refresh exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TransactionQuery bounds a transaction fetch. Cursor-based providers ignore
// the date range when a cursor is present; date-range providers ignore Cursor.
type TransactionQuery struct {
	StartDate time.Time
	EndDate   time.Time
	Cursor    string
}

// RawAccount is one provider-native account payload, untouched.
type RawAccount struct {
	ExternalID string
	Payload    json.RawMessage
}

// RawTransaction is one provider-native transaction payload, untouched.
type RawTransaction struct {
	ExternalID        string
	ExternalAccountID string
	Payload           json.RawMessage
}

// RawAccountBatch is the result of one account fetch.
type RawAccountBatch struct {
	ProviderID string
	Accounts   []RawAccount
}

// RawTransactionBatch is the result of one transaction fetch, carrying the
// provider's own pagination token when there is more to pull.
type RawTransactionBatch struct {
	ProviderID   string
	Transactions []RawTransaction
	NextCursor   string
	HasMore      bool
}

// Adapter is implemented once per provider, outside the sync core.
type Adapter interface {
	ProviderID() string
	FetchRawAccounts(ctx context.Context, creds Credentials) (*RawAccountBatch, error)
	FetchRawTransactions(ctx context.Context, creds Credentials, externalAccountID string, query TransactionQuery) (*RawTransactionBatch, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error)
	IsTokenExpired(expiry time.Time) bool
}

// Registry maps provider ids to adapters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its provider id.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ProviderID()] = a
}

// Get returns the adapter for a provider id.
func (r *Registry) Get(providerID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return a, nil
}

// Providers returns the registered provider ids, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
