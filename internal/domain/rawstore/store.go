package rawstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgerline/internal/provider"
)

// Store is the raw capture surface used by the orchestrator. It stamps
// batches with identity and fetch time before handing them to the
// repositories; it never inspects payloads.
type Store struct {
	records RecordRepository
	cursors CursorRepository
	now     func() time.Time
}

func NewStore(records RecordRepository, cursors CursorRepository) *Store {
	return &Store{records: records, cursors: cursors, now: time.Now}
}

// StoreRawAccounts captures one account fetch for a connection.
func (s *Store) StoreRawAccounts(ctx context.Context, tenantID, connectionID string, batch *provider.RawAccountBatch) error {
	if batch == nil || len(batch.Accounts) == 0 {
		return nil
	}

	fetchedAt := s.now().UTC()
	records := make([]Record, 0, len(batch.Accounts))
	for _, acc := range batch.Accounts {
		records = append(records, Record{
			ConnectionID: connectionID,
			TenantID:     tenantID,
			ProviderID:   batch.ProviderID,
			ExternalID:   acc.ExternalID,
			Kind:         KindAccount,
			Payload:      acc.Payload,
			FetchedAt:    fetchedAt,
		})
	}

	if err := s.records.UpsertBatch(ctx, records); err != nil {
		return fmt.Errorf("failed to store raw accounts for connection %s: %w", connectionID, err)
	}
	return nil
}

// StoreRawTransactions captures one transaction fetch for a connection.
func (s *Store) StoreRawTransactions(ctx context.Context, tenantID, connectionID string, batch *provider.RawTransactionBatch) error {
	if batch == nil || len(batch.Transactions) == 0 {
		return nil
	}

	fetchedAt := s.now().UTC()
	records := make([]Record, 0, len(batch.Transactions))
	for _, tx := range batch.Transactions {
		records = append(records, Record{
			ConnectionID:      connectionID,
			TenantID:          tenantID,
			ProviderID:        batch.ProviderID,
			ExternalID:        tx.ExternalID,
			Kind:              KindTransaction,
			ExternalAccountID: tx.ExternalAccountID,
			Payload:           tx.Payload,
			FetchedAt:         fetchedAt,
		})
	}

	if err := s.records.UpsertBatch(ctx, records); err != nil {
		return fmt.Errorf("failed to store raw transactions for connection %s: %w", connectionID, err)
	}
	return nil
}

// GetCursor returns the cursor for a connection, or nil when none exists yet.
func (s *Store) GetCursor(ctx context.Context, connectionID, providerID string) (*Cursor, error) {
	cursor, err := s.cursors.Get(ctx, connectionID, providerID)
	if errors.Is(err, ErrCursorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor for connection %s: %w", connectionID, err)
	}
	return cursor, nil
}

// AdvanceCursor records a successful fetch. FirstSyncAt is preserved across
// advances so the deep-history floor applies only once per connection.
func (s *Store) AdvanceCursor(ctx context.Context, connectionID, providerID, token string, syncedAt time.Time) error {
	existing, err := s.GetCursor(ctx, connectionID, providerID)
	if err != nil {
		return err
	}

	cursor := Cursor{
		ConnectionID: connectionID,
		ProviderID:   providerID,
		Token:        token,
		LastSyncedAt: syncedAt.UTC(),
		FirstSyncAt:  syncedAt.UTC(),
	}
	if existing != nil && !existing.FirstSyncAt.IsZero() {
		cursor.FirstSyncAt = existing.FirstSyncAt
	}

	if err := s.cursors.Set(ctx, cursor); err != nil {
		return fmt.Errorf("failed to advance cursor for connection %s: %w", connectionID, err)
	}
	return nil
}

// ResetCursor forces the next sync to run a full backfill.
func (s *Store) ResetCursor(ctx context.Context, connectionID, providerID string) error {
	if err := s.cursors.Reset(ctx, connectionID, providerID); err != nil {
		return fmt.Errorf("failed to reset cursor for connection %s: %w", connectionID, err)
	}
	return nil
}

// ListRawAccounts returns the stored account snapshots for a connection.
func (s *Store) ListRawAccounts(ctx context.Context, connectionID string) ([]Record, error) {
	return s.records.ListByConnection(ctx, connectionID, KindAccount)
}

// ListRawTransactions returns the stored transaction snapshots for a connection.
func (s *Store) ListRawTransactions(ctx context.Context, connectionID string) ([]Record, error) {
	return s.records.ListByConnection(ctx, connectionID, KindTransaction)
}
