package connection

import "context"

// Repository defines the persistence contract for connections.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Connection, error)
	ListActive(ctx context.Context) ([]*Connection, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateHealth(ctx context.Context, id string, consecutiveFailures, healthScore int, lastError string) error
	UpdateSyncMetadata(ctx context.Context, id string, meta SyncMetadata) error
	Delete(ctx context.Context, id string) error
}
