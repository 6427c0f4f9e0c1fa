package rawstore

import "context"

// RecordRepository persists raw snapshots. UpsertBatch must be idempotent:
// storing the same batch twice leaves the store unchanged.
type RecordRepository interface {
	UpsertBatch(ctx context.Context, records []Record) error
	ListByConnection(ctx context.Context, connectionID, kind string) ([]Record, error)
}

// CursorRepository persists per-connection pagination state.
type CursorRepository interface {
	Get(ctx context.Context, connectionID, providerID string) (*Cursor, error)
	Set(ctx context.Context, cursor Cursor) error
	// Reset clears the cursor so the next sync runs a full backfill.
	// Used only for explicit forced full resyncs.
	Reset(ctx context.Context, connectionID, providerID string) error
}
