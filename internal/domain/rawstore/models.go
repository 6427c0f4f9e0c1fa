// Package rawstore preserves provider responses verbatim. Payloads are
// opaque by design: an audit trail must survive bugs in normalization, so
// nothing here validates shape.
package rawstore

import (
	"encoding/json"
	"errors"
	"time"
)

// Record kinds.
const (
	KindAccount     = "account"
	KindTransaction = "transaction"
)

var ErrCursorNotFound = errors.New("sync cursor not found")

// Record is the most recent raw payload for one external entity.
// Keyed by (connection id, provider id, external id, kind); each fetch
// upserts by key, so history is one-deep by design.
type Record struct {
	ConnectionID      string          `json:"connectionId"`
	TenantID          string          `json:"tenantId"`
	ProviderID        string          `json:"providerId"`
	ExternalID        string          `json:"externalId"`
	Kind              string          `json:"kind"`
	ExternalAccountID string          `json:"externalAccountId,omitempty"`
	Payload           json.RawMessage `json:"payload"`
	FetchedAt         time.Time       `json:"fetchedAt"`
}

// Cursor is per-connection pagination state. Token is opaque for
// cursor/page-token providers; LastSyncedAt drives date-range providers.
// One cursor per (connection, pagination family) in use.
type Cursor struct {
	ConnectionID string    `json:"connectionId"`
	ProviderID   string    `json:"providerId"`
	Token        string    `json:"token"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	FirstSyncAt  time.Time `json:"firstSyncAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
