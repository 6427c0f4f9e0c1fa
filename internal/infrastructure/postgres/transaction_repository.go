package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerline/internal/domain/transaction"
)

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, tenant_id, account_id, connection_id, external_id, date, amount, type,
	currency, description, counterparty, counterparty_iban, category, metadata,
	created_at, updated_at`

// Upsert inserts or updates a transaction. The deterministic id makes
// re-ingestion of the same external transaction an update, never a duplicate.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, bool, error) {
	metadata, err := marshalMetadata(params.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, account_id, connection_id, external_id, date, amount,
			type, currency, description, counterparty, counterparty_iban,
			category, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			date = EXCLUDED.date,
			amount = EXCLUDED.amount,
			type = EXCLUDED.type,
			currency = EXCLUDED.currency,
			description = EXCLUDED.description,
			counterparty = EXCLUDED.counterparty,
			counterparty_iban = EXCLUDED.counterparty_iban,
			category = EXCLUDED.category,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		WHERE transactions.tenant_id = EXCLUDED.tenant_id
		RETURNING ` + transactionColumns + `, (xmax = 0) AS inserted
	`

	var tx transaction.Transaction
	var created bool
	var counterparty, counterpartyIBAN, category sql.NullString
	var meta []byte

	err = r.db.QueryRowContext(
		ctx, query,
		params.ID, params.TenantID, params.AccountID, params.ConnectionID,
		params.ExternalID, params.Date, params.Amount, params.Type,
		params.Currency, params.Description, nullString(params.Counterparty),
		nullString(params.CounterpartyIBAN), nullString(params.Category), metadata,
	).Scan(
		&tx.ID, &tx.TenantID, &tx.AccountID, &tx.ConnectionID, &tx.ExternalID,
		&tx.Date, &tx.Amount, &tx.Type, &tx.Currency, &tx.Description,
		&counterparty, &counterpartyIBAN, &category, &meta,
		&tx.CreatedAt, &tx.UpdatedAt, &created,
	)
	if err == sql.ErrNoRows {
		return nil, false, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert transaction: %w", err)
	}

	applyTransactionNulls(&tx, counterparty, counterpartyIBAN, category)
	if tx.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, false, fmt.Errorf("failed to decode transaction metadata: %w", err)
	}

	return &tx, created, nil
}

// GetByID retrieves a transaction by its canonical ID
func (r *TransactionRepository) GetByID(ctx context.Context, tenantID, id string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tenant_id = $1 AND id = $2`

	var tx transaction.Transaction
	var counterparty, counterpartyIBAN, category sql.NullString
	var meta []byte

	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&tx.ID, &tx.TenantID, &tx.AccountID, &tx.ConnectionID, &tx.ExternalID,
		&tx.Date, &tx.Amount, &tx.Type, &tx.Currency, &tx.Description,
		&counterparty, &counterpartyIBAN, &category, &meta,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	applyTransactionNulls(&tx, counterparty, counterpartyIBAN, category)
	if tx.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
	}
	return &tx, nil
}

// ListByAccount retrieves all transactions for an account, newest first
func (r *TransactionRepository) ListByAccount(ctx context.Context, tenantID, accountID string) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = $1 AND account_id = $2
		ORDER BY date DESC, id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.Transaction
	for rows.Next() {
		var tx transaction.Transaction
		var counterparty, counterpartyIBAN, category sql.NullString
		var meta []byte

		err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.AccountID, &tx.ConnectionID, &tx.ExternalID,
			&tx.Date, &tx.Amount, &tx.Type, &tx.Currency, &tx.Description,
			&counterparty, &counterpartyIBAN, &category, &meta,
			&tx.CreatedAt, &tx.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		applyTransactionNulls(&tx, counterparty, counterpartyIBAN, category)
		if tx.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// Delete removes a transaction
func (r *TransactionRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return transaction.ErrTransactionNotFound
	}
	return nil
}

func applyTransactionNulls(tx *transaction.Transaction, counterparty, counterpartyIBAN, category sql.NullString) {
	if counterparty.Valid {
		tx.Counterparty = counterparty.String
	}
	if counterpartyIBAN.Valid {
		tx.CounterpartyIBAN = counterpartyIBAN.String
	}
	if category.Valid {
		tx.Category = category.String
	}
}
