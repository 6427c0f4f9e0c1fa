package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerline/internal/domain/connection"
	"ledgerline/internal/infrastructure/crypto"
	"ledgerline/internal/provider"
)

// CredentialRepository implements syncer.CredentialStore. Tokens are
// encrypted with AES-256-GCM before they touch the database; error messages
// never include token material.
type CredentialRepository struct {
	db  *DB
	enc *crypto.Encryptor
}

// NewCredentialRepository creates a new PostgreSQL credential repository
func NewCredentialRepository(db *DB, enc *crypto.Encryptor) *CredentialRepository {
	return &CredentialRepository{db: db, enc: enc}
}

// Get returns the decrypted credentials for a connection
func (r *CredentialRepository) Get(ctx context.Context, connectionID string) (provider.Credentials, error) {
	query := `
		SELECT access_token, COALESCE(refresh_token, ''), expiry
		FROM connection_credentials
		WHERE connection_id = $1
	`

	var creds provider.Credentials
	var accessEnc, refreshEnc string
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(&accessEnc, &refreshEnc, &creds.Expiry)
	if err == sql.ErrNoRows {
		return provider.Credentials{}, connection.ErrConnectionNotFound
	}
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds.AccessToken, err = r.enc.Decrypt(accessEnc); err != nil {
		return provider.Credentials{}, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if refreshEnc != "" {
		if creds.RefreshToken, err = r.enc.Decrypt(refreshEnc); err != nil {
			return provider.Credentials{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}
	return creds, nil
}

// SaveTokens persists a refreshed token pair
func (r *CredentialRepository) SaveTokens(ctx context.Context, connectionID string, tokens provider.Tokens) error {
	accessEnc, err := r.enc.Encrypt(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refreshEnc := sql.NullString{}
	if tokens.RefreshToken != "" {
		enc, err := r.enc.Encrypt(tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		refreshEnc = sql.NullString{String: enc, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO connection_credentials (connection_id, access_token, refresh_token, expiry, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (connection_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()
	`, connectionID, accessEnc, refreshEnc, tokens.Expiry)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}
