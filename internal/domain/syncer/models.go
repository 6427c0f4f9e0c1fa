package syncer

import (
	"context"
	"errors"
	"time"

	"ledgerline/internal/provider"
)

// Domain errors
var (
	// ErrSyncInProgress is returned when another run already holds the
	// connection's sync lock.
	ErrSyncInProgress = errors.New("sync already in progress for connection")
)

// SyncResult summarizes one connection sync run. Errors and Warnings carry
// human-readable messages only; provider payloads and credentials never
// appear in them.
type SyncResult struct {
	ConnectionID       string   `json:"connectionId"`
	Success            bool     `json:"success"`
	AccountsSynced     int      `json:"accountsSynced"`
	TransactionsSynced int      `json:"transactionsSynced"`
	Errors             []string `json:"errors,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
	DurationMs         int64    `json:"durationMs"`
}

// Locker serializes sync runs per connection. Implementations live in the
// infrastructure layer (in-process mutex map, Redis for multi-instance).
type Locker interface {
	// Acquire returns acquired=false without error when the lock is held
	// elsewhere. The release func must be called exactly once when acquired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// CredentialStore hands the orchestrator decrypted provider credentials and
// persists refreshed tokens. Secret handling stays outside the sync core.
type CredentialStore interface {
	Get(ctx context.Context, connectionID string) (provider.Credentials, error)
	SaveTokens(ctx context.Context, connectionID string, tokens provider.Tokens) error
}

// Config bounds a sync run.
type Config struct {
	// RunBudget is the wall-clock limit for one connection sync.
	RunBudget time.Duration
	// AccountFanout caps concurrent per-account transaction fetches.
	AccountFanout int
	// MinSyncInterval throttles back-to-back runs on the same connection.
	MinSyncInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunBudget <= 0 {
		c.RunBudget = 10 * time.Minute
	}
	if c.AccountFanout <= 0 {
		c.AccountFanout = 4
	}
	if c.MinSyncInterval <= 0 {
		c.MinSyncInterval = 30 * time.Minute
	}
	return c
}
