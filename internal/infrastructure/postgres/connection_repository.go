package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerline/internal/domain/connection"
)

// ConnectionRepository implements the connection.Repository interface for PostgreSQL
type ConnectionRepository struct {
	db *DB
}

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `
	id, tenant_id, provider_id, status, institution_id, last_sync_at,
	consecutive_failures, health_score, last_error, created_at, updated_at`

// GetByID retrieves a connection by its ID
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// ListActive retrieves connections eligible for scheduled syncs. Degraded
// connections are included so they can recover; expired ones are not.
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]*connection.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status IN ($1, $2)
		ORDER BY last_sync_at ASC NULLS FIRST
	`

	rows, err := r.db.QueryContext(ctx, query, connection.StatusActive, connection.StatusDegraded)
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}
	return conns, nil
}

// UpdateStatus changes a connection's lifecycle status
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE connections SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return checkAffected(result, connection.ErrConnectionNotFound)
}

// UpdateHealth writes the failure counter, derived score, and last error
func (r *ConnectionRepository) UpdateHealth(ctx context.Context, id string, consecutiveFailures, healthScore int, lastError string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET consecutive_failures = $2, health_score = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, consecutiveFailures, healthScore, nullString(lastError))
	if err != nil {
		return fmt.Errorf("failed to update connection health: %w", err)
	}
	return checkAffected(result, connection.ErrConnectionNotFound)
}

// UpdateSyncMetadata records the outcome of a sync run
func (r *ConnectionRepository) UpdateSyncMetadata(ctx context.Context, id string, meta connection.SyncMetadata) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET last_sync_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, meta.LastSyncAt)
	if err != nil {
		return fmt.Errorf("failed to update sync metadata: %w", err)
	}
	return checkAffected(result, connection.ErrConnectionNotFound)
}

// Delete removes a connection
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return checkAffected(result, connection.ErrConnectionNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*connection.Connection, error) {
	var conn connection.Connection
	var lastSyncAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&conn.ID, &conn.TenantID, &conn.ProviderID, &conn.Status,
		&conn.InstitutionID, &lastSyncAt, &conn.ConsecutiveFailures,
		&conn.HealthScore, &lastError, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSyncAt.Valid {
		conn.LastSyncAt = lastSyncAt.Time
	}
	if lastError.Valid {
		conn.LastError = lastError.String
	}
	return &conn, nil
}

func checkAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
