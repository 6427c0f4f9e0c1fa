package transaction

import "context"

// Repository defines the persistence contract for canonical transactions.
// Upsert keys on (connection id, external id); all queries are tenant-scoped.
type Repository interface {
	GetByID(ctx context.Context, tenantID, id string) (*Transaction, error)
	ListByAccount(ctx context.Context, tenantID, accountID string) ([]*Transaction, error)
	Upsert(ctx context.Context, params UpsertParams) (*Transaction, bool, error)
	Delete(ctx context.Context, tenantID, id string) error
}
