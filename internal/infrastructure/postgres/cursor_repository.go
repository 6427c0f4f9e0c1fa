package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerline/internal/domain/rawstore"
)

// CursorRepository implements rawstore.CursorRepository for PostgreSQL
type CursorRepository struct {
	db *DB
}

// NewCursorRepository creates a new PostgreSQL cursor repository
func NewCursorRepository(db *DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get retrieves the cursor for a (connection, provider) pair
func (r *CursorRepository) Get(ctx context.Context, connectionID, providerID string) (*rawstore.Cursor, error) {
	query := `
		SELECT connection_id, provider_id, COALESCE(token, ''), last_synced_at,
		       first_sync_at, updated_at
		FROM sync_cursors
		WHERE connection_id = $1 AND provider_id = $2
	`

	var cursor rawstore.Cursor
	err := r.db.QueryRowContext(ctx, query, connectionID, providerID).Scan(
		&cursor.ConnectionID, &cursor.ProviderID, &cursor.Token,
		&cursor.LastSyncedAt, &cursor.FirstSyncAt, &cursor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, rawstore.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return &cursor, nil
}

// Set stores or replaces the cursor for its (connection, provider) pair
func (r *CursorRepository) Set(ctx context.Context, cursor rawstore.Cursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (connection_id, provider_id, token, last_synced_at, first_sync_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (connection_id, provider_id) DO UPDATE SET
			token = EXCLUDED.token,
			last_synced_at = EXCLUDED.last_synced_at,
			first_sync_at = EXCLUDED.first_sync_at,
			updated_at = NOW()
	`, cursor.ConnectionID, cursor.ProviderID, nullString(cursor.Token), cursor.LastSyncedAt, cursor.FirstSyncAt)
	if err != nil {
		return fmt.Errorf("failed to set sync cursor: %w", err)
	}
	return nil
}

// Reset deletes the cursor so the next sync runs a full backfill
func (r *CursorRepository) Reset(ctx context.Context, connectionID, providerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_cursors WHERE connection_id = $1 AND provider_id = $2`,
		connectionID, providerID)
	if err != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", err)
	}
	return nil
}
