package postgres

import (
	"context"
	"fmt"

	"ledgerline/internal/domain/rawstore"
)

// RawRecordRepository implements rawstore.RecordRepository for PostgreSQL.
// Payloads are stored as JSONB exactly as fetched.
type RawRecordRepository struct {
	db *DB
}

// NewRawRecordRepository creates a new PostgreSQL raw record repository
func NewRawRecordRepository(db *DB) *RawRecordRepository {
	return &RawRecordRepository{db: db}
}

// UpsertBatch stores a batch of raw snapshots in one transaction. Re-storing
// the same key overwrites the payload, keeping history one-deep.
func (r *RawRecordRepository) UpsertBatch(ctx context.Context, records []rawstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin raw record batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_records (
			connection_id, tenant_id, provider_id, external_id, kind,
			external_account_id, payload, fetched_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connection_id, provider_id, external_id, kind) DO UPDATE SET
			external_account_id = EXCLUDED.external_account_id,
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare raw record upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ConnectionID, rec.TenantID, rec.ProviderID, rec.ExternalID,
			rec.Kind, nullString(rec.ExternalAccountID), []byte(rec.Payload), rec.FetchedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert raw record %s: %w", rec.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit raw record batch: %w", err)
	}
	return nil
}

// ListByConnection returns the stored snapshots of one kind for a connection
func (r *RawRecordRepository) ListByConnection(ctx context.Context, connectionID, kind string) ([]rawstore.Record, error) {
	query := `
		SELECT connection_id, tenant_id, provider_id, external_id, kind,
		       COALESCE(external_account_id, ''), payload, fetched_at
		FROM raw_records
		WHERE connection_id = $1 AND kind = $2
		ORDER BY provider_id, external_id
	`

	rows, err := r.db.QueryContext(ctx, query, connectionID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw records: %w", err)
	}
	defer rows.Close()

	var records []rawstore.Record
	for rows.Next() {
		var rec rawstore.Record
		var payload []byte
		err := rows.Scan(
			&rec.ConnectionID, &rec.TenantID, &rec.ProviderID, &rec.ExternalID,
			&rec.Kind, &rec.ExternalAccountID, &payload, &rec.FetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate raw records: %w", err)
	}
	return records, nil
}
