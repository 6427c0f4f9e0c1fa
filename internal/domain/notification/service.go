// Package notification pushes connection lifecycle events (reconnect
// required, connection degraded, sync complete) to a tenant's devices.
// Delivery is best effort: a failed push never fails the sync that
// triggered it.
package notification

import (
	"context"
	"log"
	"strconv"

	"ledgerline/internal/shared/messages"
)

// Service contains the business logic for sync notifications.
type Service struct {
	messenger Messenger
	tokens    TokenSource
	texts     *messages.Messages
}

// NewService creates a new notification service. messenger may be nil when
// push delivery is not configured; every send becomes a no-op.
func NewService(messenger Messenger, tokens TokenSource, texts *messages.Messages) *Service {
	return &Service{messenger: messenger, tokens: tokens, texts: texts}
}

// NotifyReconnectRequired tells the tenant their provider credentials have
// expired and the connection must be re-authorized.
func (s *Service) NotifyReconnectRequired(ctx context.Context, tenantID, connectionID, institutionName string) {
	s.send(ctx, tenantID, s.texts.ReconnectRequired, map[string]string{
		"event":         "reconnect_required",
		"connection_id": connectionID,
		"institution":   institutionName,
	})
}

// NotifyConnectionDegraded tells the tenant a connection keeps failing and
// may need attention.
func (s *Service) NotifyConnectionDegraded(ctx context.Context, tenantID, connectionID string, healthScore int) {
	s.send(ctx, tenantID, s.texts.ConnectionDegraded, map[string]string{
		"event":         "connection_degraded",
		"connection_id": connectionID,
	})
	log.Printf("Connection %s degraded (health %d), tenant %s notified", connectionID, healthScore, tenantID)
}

// NotifySyncComplete announces a finished sync run.
func (s *Service) NotifySyncComplete(ctx context.Context, tenantID, connectionID string, accounts, transactions int) {
	s.send(ctx, tenantID, s.texts.SyncComplete, map[string]string{
		"event":         "sync_complete",
		"connection_id": connectionID,
		"accounts":      strconv.Itoa(accounts),
		"transactions":  strconv.Itoa(transactions),
	})
}

func (s *Service) send(ctx context.Context, tenantID string, text messages.MessageText, data map[string]string) {
	if s.messenger == nil || s.tokens == nil {
		return
	}

	tokens, err := s.tokens.ActiveTokens(ctx, tenantID)
	if err != nil {
		log.Printf("Failed to resolve device tokens for tenant %s: %v", tenantID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	if err := s.messenger.SendMulticast(ctx, tokens, text.Title, text.Body, data); err != nil {
		log.Printf("Failed to push %s notification to tenant %s: %v", data["event"], tenantID, err)
	}
}
