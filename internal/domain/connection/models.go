package connection

import (
	"errors"
	"time"
)

// Connection statuses.
const (
	StatusActive   = "active"
	StatusDegraded = "degraded"
	StatusExpired  = "expired"
)

// Domain errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidInput       = errors.New("invalid input")
)

// Connection is a tenant's credentialed link to one provider instance.
// Created on successful credential exchange; mutated by every sync attempt.
type Connection struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenantId"`
	ProviderID          string    `json:"providerId"`
	Status              string    `json:"status"`
	InstitutionID       string    `json:"institutionId"`
	LastSyncAt          time.Time `json:"lastSyncAt"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	HealthScore         int       `json:"healthScore"`
	LastError           string    `json:"lastError"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// SyncMetadata is written exactly once at the end of every sync run.
type SyncMetadata struct {
	LastSyncAt    time.Time
	AccountsSeen  int
	ErrorSummary  string
	PartialErrors int
}
