package postgres

import (
	"context"
	"fmt"
)

// DeviceTokenRepository resolves active FCM device tokens per tenant and
// implements notification.TokenSource.
type DeviceTokenRepository struct {
	db *DB
}

// NewDeviceTokenRepository creates a new PostgreSQL device token repository
func NewDeviceTokenRepository(db *DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// ActiveTokens returns the active device tokens registered for a tenant
func (r *DeviceTokenRepository) ActiveTokens(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT token FROM device_tokens WHERE tenant_id = $1 AND is_active = TRUE`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device tokens: %w", err)
	}
	return tokens, nil
}

// Deactivate marks a device token inactive. Wired into the FCM client as
// its invalid-token callback.
func (r *DeviceTokenRepository) Deactivate(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_tokens SET is_active = FALSE, updated_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return nil
}
