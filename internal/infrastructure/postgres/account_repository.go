package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ledgerline/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	id, tenant_id, connection_id, provider_id, external_id, name, account_type,
	currency, balance, iban, bic, account_number, status, institution_id,
	institution_name, last_synced_at, metadata, created_at, updated_at`

// Upsert inserts or updates a canonical account. The returned bool reports
// whether a new row was created.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	metadata, err := marshalMetadata(params.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode account metadata: %w", err)
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	query := `
		INSERT INTO accounts (
			id, tenant_id, connection_id, provider_id, external_id, name,
			account_type, currency, balance, iban, bic, account_number, status,
			institution_id, institution_name, last_synced_at, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			provider_id = EXCLUDED.provider_id,
			external_id = EXCLUDED.external_id,
			name = EXCLUDED.name,
			account_type = EXCLUDED.account_type,
			currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			iban = EXCLUDED.iban,
			bic = EXCLUDED.bic,
			account_number = EXCLUDED.account_number,
			status = EXCLUDED.status,
			institution_id = EXCLUDED.institution_id,
			institution_name = EXCLUDED.institution_name,
			last_synced_at = EXCLUDED.last_synced_at,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		WHERE accounts.tenant_id = EXCLUDED.tenant_id
		RETURNING ` + accountColumns + `, (xmax = 0) AS inserted
	`

	var acc account.Account
	var created bool
	var iban, bic, accountNumber sql.NullString
	var meta []byte

	err = r.db.QueryRowContext(
		ctx, query,
		params.ID, params.TenantID, params.ConnectionID, params.ProviderID,
		params.ExternalID, params.Name, params.AccountType, params.Currency,
		params.Balance, nullString(params.IBAN), nullString(params.BIC),
		nullString(params.AccountNumber), params.Status, params.InstitutionID,
		params.InstitutionName, params.LastSyncedAt, metadata,
	).Scan(
		&acc.ID, &acc.TenantID, &acc.ConnectionID, &acc.ProviderID,
		&acc.ExternalID, &acc.Name, &acc.AccountType, &acc.Currency,
		&acc.Balance, &iban, &bic, &accountNumber, &acc.Status,
		&acc.InstitutionID, &acc.InstitutionName, &acc.LastSyncedAt,
		&meta, &acc.CreatedAt, &acc.UpdatedAt, &created,
	)
	if err == sql.ErrNoRows {
		// The tenant guard filtered the update away.
		return nil, false, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert account: %w", err)
	}

	applyAccountNulls(&acc, iban, bic, accountNumber)
	if acc.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, false, fmt.Errorf("failed to decode account metadata: %w", err)
	}

	return &acc, created, nil
}

// GetByID retrieves an account by its canonical ID
func (r *AccountRepository) GetByID(ctx context.Context, tenantID, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE tenant_id = $1 AND id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tenantID, id))
}

// FindByExternalID matches on (tenant, provider, external id).
func (r *AccountRepository) FindByExternalID(ctx context.Context, tenantID, providerID, externalID string) (*account.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE tenant_id = $1 AND provider_id = $2 AND external_id = $3
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tenantID, providerID, externalID))
}

// FindByInstitutionNumber matches on (tenant, provider, institution, account number).
func (r *AccountRepository) FindByInstitutionNumber(ctx context.Context, tenantID, providerID, institutionID, accountNumber string) (*account.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE tenant_id = $1 AND provider_id = $2 AND institution_id = $3 AND account_number = $4
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tenantID, providerID, institutionID, accountNumber))
}

// FindByIBAN matches tenant-wide, across providers.
func (r *AccountRepository) FindByIBAN(ctx context.Context, tenantID, iban string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE tenant_id = $1 AND iban = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tenantID, iban))
}

// ListByTenant retrieves all accounts for a tenant
func (r *AccountRepository) ListByTenant(ctx context.Context, tenantID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListByConnection retrieves all accounts linked to a connection
func (r *AccountRepository) ListByConnection(ctx context.Context, tenantID, connectionID string) ([]*account.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE tenant_id = $1 AND connection_id = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by connection: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Relink moves an account to a new connection after a reconnect
func (r *AccountRepository) Relink(ctx context.Context, tenantID, accountID, connectionID string) error {
	query := `
		UPDATE accounts SET connection_id = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.db.ExecContext(ctx, query, tenantID, accountID, connectionID)
	if err != nil {
		return fmt.Errorf("failed to relink account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check relink result: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// Delete removes an account
func (r *AccountRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) scanOne(row *tracedRow) (*account.Account, error) {
	var acc account.Account
	var iban, bic, accountNumber sql.NullString
	var meta []byte

	err := row.Scan(
		&acc.ID, &acc.TenantID, &acc.ConnectionID, &acc.ProviderID,
		&acc.ExternalID, &acc.Name, &acc.AccountType, &acc.Currency,
		&acc.Balance, &iban, &bic, &accountNumber, &acc.Status,
		&acc.InstitutionID, &acc.InstitutionName, &acc.LastSyncedAt,
		&meta, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	applyAccountNulls(&acc, iban, bic, accountNumber)
	if acc.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, fmt.Errorf("failed to decode account metadata: %w", err)
	}
	return &acc, nil
}

func (r *AccountRepository) scanRows(rows *sql.Rows) ([]*account.Account, error) {
	var accounts []*account.Account
	for rows.Next() {
		var acc account.Account
		var iban, bic, accountNumber sql.NullString
		var meta []byte

		err := rows.Scan(
			&acc.ID, &acc.TenantID, &acc.ConnectionID, &acc.ProviderID,
			&acc.ExternalID, &acc.Name, &acc.AccountType, &acc.Currency,
			&acc.Balance, &iban, &bic, &accountNumber, &acc.Status,
			&acc.InstitutionID, &acc.InstitutionName, &acc.LastSyncedAt,
			&meta, &acc.CreatedAt, &acc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}

		applyAccountNulls(&acc, iban, bic, accountNumber)
		if acc.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, fmt.Errorf("failed to decode account metadata: %w", err)
		}
		accounts = append(accounts, &acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

func applyAccountNulls(acc *account.Account, iban, bic, accountNumber sql.NullString) {
	if iban.Valid {
		acc.IBAN = iban.String
	}
	if bic.Valid {
		acc.BIC = bic.String
	}
	if accountNumber.Valid {
		acc.AccountNumber = accountNumber.String
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
