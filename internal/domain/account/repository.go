package account

import "context"

// Repository defines the persistence contract for canonical accounts.
// Every query is tenant-scoped; there is no cross-tenant read or write path.
type Repository interface {
	GetByID(ctx context.Context, tenantID, id string) (*Account, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Account, error)
	ListByConnection(ctx context.Context, tenantID, connectionID string) ([]*Account, error)
	// FindByExternalID matches on (tenant, provider, external id).
	FindByExternalID(ctx context.Context, tenantID, providerID, externalID string) (*Account, error)
	// FindByInstitutionNumber matches on (tenant, provider, institution id, account number).
	FindByInstitutionNumber(ctx context.Context, tenantID, providerID, institutionID, accountNumber string) (*Account, error)
	// FindByIBAN matches tenant-wide, across providers.
	FindByIBAN(ctx context.Context, tenantID, iban string) (*Account, error)
	Upsert(ctx context.Context, params UpsertParams) (*Account, bool, error)
	// Relink moves an account to a new connection after a reconnect.
	Relink(ctx context.Context, tenantID, accountID, connectionID string) error
	Delete(ctx context.Context, tenantID, id string) error
}
