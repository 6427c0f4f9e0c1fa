// Package reconcile matches freshly normalized accounts against the
// tenant's known canonical accounts, so reconnecting a bank never creates a
// duplicate.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgerline/internal/domain/account"
	"ledgerline/internal/domain/normalize"
)

// Service applies the prioritized matching heuristics. Matching stops at
// the first hit; the order reflects decreasing certainty.
type Service struct {
	accounts account.Repository
	now      func() time.Time
}

func NewService(accounts account.Repository) *Service {
	return &Service{accounts: accounts, now: time.Now}
}

// match runs the heuristics in strict priority order.
func (s *Service) match(ctx context.Context, tenantID string, norm normalize.Account) (Match, error) {
	// 1. Exact external id, scoped to (tenant, provider).
	acc, err := s.accounts.FindByExternalID(ctx, tenantID, norm.ProviderID, norm.ExternalID)
	if err != nil && !errors.Is(err, account.ErrAccountNotFound) {
		return Match{}, fmt.Errorf("external id lookup failed: %w", err)
	}
	if acc != nil {
		return Match{Account: acc, Confidence: ExactMatch, MatchedBy: MatchedByExternalID}, nil
	}

	// 2. Institution id + account number, scoped to (tenant, provider).
	if norm.InstitutionID != "" && norm.AccountNumber != "" {
		acc, err = s.accounts.FindByInstitutionNumber(ctx, tenantID, norm.ProviderID, norm.InstitutionID, norm.AccountNumber)
		if err != nil && !errors.Is(err, account.ErrAccountNotFound) {
			return Match{}, fmt.Errorf("institution number lookup failed: %w", err)
		}
		if acc != nil {
			return Match{Account: acc, Confidence: ExactMatch, MatchedBy: MatchedByInstitutionNumber}, nil
		}
	}

	// 3. IBAN, tenant-wide. Catches the same bank account reconnected
	// through a different provider.
	if norm.IBAN != "" {
		acc, err = s.accounts.FindByIBAN(ctx, tenantID, norm.IBAN)
		if err != nil && !errors.Is(err, account.ErrAccountNotFound) {
			return Match{}, fmt.Errorf("iban lookup failed: %w", err)
		}
		if acc != nil {
			return Match{Account: acc, Confidence: HighConfidenceMatch, MatchedBy: MatchedByIBAN}, nil
		}
	}

	// 4. Institution display-name substring. Too weak to merge on alone.
	if norm.InstitutionName != "" {
		candidates, err := s.accounts.ListByTenant(ctx, tenantID)
		if err != nil {
			return Match{}, fmt.Errorf("tenant account listing failed: %w", err)
		}
		needle := strings.ToLower(norm.InstitutionName)
		for _, candidate := range candidates {
			if candidate.AccountType != norm.AccountType || candidate.Currency != norm.Currency {
				continue
			}
			haystack := strings.ToLower(candidate.InstitutionName)
			if haystack == "" {
				continue
			}
			if strings.Contains(haystack, needle) || strings.Contains(needle, haystack) {
				return Match{Account: candidate, Confidence: LowConfidenceMatch, MatchedBy: MatchedByInstitutionName}, nil
			}
		}
	}

	return Match{Confidence: NoMatch, MatchedBy: MatchedByNone}, nil
}

// FindOrCreateAccount reconciles one normalized account.
//
// Confidence >= high: the existing canonical account is updated in place
// (balance, status, metadata) and re-linked to the current connection; its
// canonical id never changes. Low confidence: a new account is created and
// flagged for manual review rather than auto-merged. No match: a new
// account is created.
func (s *Service) FindOrCreateAccount(ctx context.Context, tenantID string, norm normalize.Account) (*Result, error) {
	m, err := s.match(ctx, tenantID, norm)
	if err != nil {
		return nil, err
	}

	switch m.Confidence {
	case ExactMatch, HighConfidenceMatch:
		updated, err := s.updateInPlace(ctx, m.Account, norm)
		if err != nil {
			return nil, err
		}
		if m.Account.ConnectionID != norm.ConnectionID {
			log.Printf("Tenant %s: account %s re-linked from connection %s to %s (matched by %s)",
				tenantID, m.Account.ID, m.Account.ConnectionID, norm.ConnectionID, m.MatchedBy)
		}
		return &Result{Account: updated, IsNew: false, MatchedBy: m.MatchedBy, Recommendation: LinkAndResume}, nil

	case LowConfidenceMatch:
		created, err := s.create(ctx, tenantID, norm, map[string]string{
			"needs_review":      "true",
			"review_candidate":  m.Account.ID,
			"review_matched_by": string(m.MatchedBy),
		})
		if err != nil {
			return nil, err
		}
		log.Printf("Tenant %s: account %s flagged for manual review against %s", tenantID, created.ID, m.Account.ID)
		return &Result{Account: created, IsNew: true, MatchedBy: m.MatchedBy, Recommendation: ManualReview}, nil

	default:
		created, err := s.create(ctx, tenantID, norm, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Account: created, IsNew: true, MatchedBy: MatchedByNone, Recommendation: CreateNew}, nil
	}
}

// updateInPlace refreshes a matched account with the latest provider state,
// keeping the canonical id and re-linking the connection.
func (s *Service) updateInPlace(ctx context.Context, existing *account.Account, norm normalize.Account) (*account.Account, error) {
	metadata := mergeMetadata(existing.Metadata, norm.Metadata)

	params := account.UpsertParams{
		ID:              existing.ID,
		TenantID:        existing.TenantID,
		ConnectionID:    norm.ConnectionID,
		ProviderID:      norm.ProviderID,
		ExternalID:      norm.ExternalID,
		Name:            pick(norm.Name, existing.Name),
		AccountType:     norm.AccountType,
		Currency:        pick(norm.Currency, existing.Currency),
		Balance:         norm.Balance,
		IBAN:            pick(norm.IBAN, existing.IBAN),
		BIC:             pick(norm.BIC, existing.BIC),
		AccountNumber:   pick(norm.AccountNumber, existing.AccountNumber),
		Status:          pick(norm.Status, existing.Status),
		InstitutionID:   pick(norm.InstitutionID, existing.InstitutionID),
		InstitutionName: pick(norm.InstitutionName, existing.InstitutionName),
		LastSyncedAt:    s.now().UTC(),
		Metadata:        metadata,
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconciled account: %w", err)
	}

	updated, _, err := s.accounts.Upsert(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to update account %s: %w", existing.ID, err)
	}
	return updated, nil
}

func (s *Service) create(ctx context.Context, tenantID string, norm normalize.Account, extraMetadata map[string]string) (*account.Account, error) {
	metadata := mergeMetadata(norm.Metadata, extraMetadata)

	params := account.UpsertParams{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		ConnectionID:    norm.ConnectionID,
		ProviderID:      norm.ProviderID,
		ExternalID:      norm.ExternalID,
		Name:            norm.Name,
		AccountType:     norm.AccountType,
		Currency:        norm.Currency,
		Balance:         norm.Balance,
		IBAN:            norm.IBAN,
		BIC:             norm.BIC,
		AccountNumber:   norm.AccountNumber,
		Status:          pick(norm.Status, account.StatusActive),
		InstitutionID:   norm.InstitutionID,
		InstitutionName: norm.InstitutionName,
		LastSyncedAt:    s.now().UTC(),
		Metadata:        metadata,
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid new account: %w", err)
	}

	created, _, err := s.accounts.Upsert(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create account for external id %s: %w", norm.ExternalID, err)
	}
	return created, nil
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

func mergeMetadata(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
