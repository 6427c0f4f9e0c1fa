// Package syncer orchestrates a full connection sync: credential refresh,
// raw capture, normalization, reconciliation, and batch persistence, in
// that order. Accounts always land before transactions so account linkage
// can resolve.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ledgerline/internal/domain/connection"
	"ledgerline/internal/domain/normalize"
	"ledgerline/internal/domain/notification"
	"ledgerline/internal/domain/persist"
	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/domain/reconcile"
	"ledgerline/internal/domain/syncwindow"
	"ledgerline/internal/provider"
)

var tracer = otel.Tracer("ledgerline/syncer")

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Connections connection.Repository
	Registry    *provider.Registry
	Store       *rawstore.Store
	Engine      *normalize.Engine
	Reconciler  *reconcile.Service
	Batcher     *persist.Batcher
	Health      *connection.HealthTracker
	Notifier    *notification.Service
	Planner     *syncwindow.Planner
	Credentials CredentialStore
	Locker      Locker
}

// Orchestrator runs connection syncs end to end.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	syncRuns     metric.Int64Counter
	syncFailures metric.Int64Counter
	syncDuration metric.Float64Histogram
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	meter := otel.Meter("ledgerline/syncer")
	syncRuns, _ := meter.Int64Counter("sync.runs",
		metric.WithDescription("Completed connection sync runs"))
	syncFailures, _ := meter.Int64Counter("sync.failures",
		metric.WithDescription("Connection sync runs that ended in failure"))
	syncDuration, _ := meter.Float64Histogram("sync.duration",
		metric.WithDescription("Connection sync duration"),
		metric.WithUnit("s"))

	return &Orchestrator{
		cfg:          cfg.withDefaults(),
		deps:         deps,
		now:          time.Now,
		syncRuns:     syncRuns,
		syncFailures: syncFailures,
		syncDuration: syncDuration,
	}
}

// SyncAll runs a sync for every active connection, sequentially. Connection
// fan-out is the scheduler's job; this method is the single-worker path.
func (o *Orchestrator) SyncAll(ctx context.Context, forced bool) error {
	conns, err := o.deps.Connections.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active connections: %w", err)
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := o.SyncConnection(ctx, conn.ID, forced)
		if err != nil {
			log.Printf("Sync failed for connection %s: %v", conn.ID, err)
			continue
		}
		log.Printf("Synced connection %s: %d accounts, %d transactions in %dms",
			conn.ID, result.AccountsSynced, result.TransactionsSynced, result.DurationMs)
	}
	return nil
}

// SyncConnection runs one full sync for a connection. At most one run per
// connection executes at a time; a second caller gets ErrSyncInProgress.
// Per-account errors degrade the run to partial instead of aborting it;
// the connection's health and sync metadata are updated exactly once at
// the end either way.
func (o *Orchestrator) SyncConnection(ctx context.Context, connectionID string, forced bool) (*SyncResult, error) {
	release, acquired, err := o.deps.Locker.Acquire(ctx, "sync:"+connectionID, o.cfg.RunBudget)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock for connection %s: %w", connectionID, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, connectionID)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunBudget)
	defer cancel()

	ctx, span := tracer.Start(ctx, "syncer.SyncConnection", trace.WithAttributes(
		attribute.String("connection.id", connectionID),
		attribute.Bool("sync.forced", forced),
	))
	defer span.End()

	started := o.now()
	result := &SyncResult{ConnectionID: connectionID}

	conn, err := o.deps.Connections.GetByID(ctx, connectionID)
	if err != nil {
		span.SetStatus(codes.Error, "connection lookup failed")
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}

	if !forced && !conn.LastSyncAt.IsZero() && o.now().Sub(conn.LastSyncAt) < o.cfg.MinSyncInterval {
		result.Success = true
		result.Warnings = append(result.Warnings, "sync throttled: connection synced recently")
		result.DurationMs = time.Since(started).Milliseconds()
		return result, nil
	}

	err = o.run(ctx, conn, forced, result)
	result.DurationMs = time.Since(started).Milliseconds()
	result.Success = err == nil && len(result.Errors) == 0

	o.finalize(ctx, conn, result, err)

	o.syncRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", conn.ProviderID)))
	o.syncDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attribute.String("provider", conn.ProviderID)))
	if !result.Success {
		o.syncFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", conn.ProviderID)))
		span.SetStatus(codes.Error, "sync ended with errors")
	}

	if err != nil {
		return result, err
	}
	return result, nil
}

// run executes the sync pipeline for one connection.
func (o *Orchestrator) run(ctx context.Context, conn *connection.Connection, forced bool, result *SyncResult) error {
	adapter, err := o.deps.Registry.Get(conn.ProviderID)
	if err != nil {
		return err
	}

	creds, err := o.credentials(ctx, conn, adapter)
	if err != nil {
		return err
	}

	cursor, err := o.deps.Store.GetCursor(ctx, conn.ID, conn.ProviderID)
	if err != nil {
		return err
	}
	firstConnection := cursor == nil

	// Accounts first. Transaction linkage depends on reconciled canonical
	// ids, so nothing below starts until this completes.
	accounts, lookup, err := o.syncAccounts(ctx, conn, adapter, creds, result)
	if err != nil {
		return err
	}

	nextCursor := o.fetchTransactions(ctx, conn, adapter, creds, accounts, cursor, firstConnection, forced, result)

	txs, warnings, err := o.deps.Engine.NormalizeTransactions(ctx, conn.ID, lookup)
	if err != nil {
		return err
	}
	result.Warnings = append(result.Warnings, warnings...)

	summary, err := o.deps.Batcher.PersistTransactions(ctx, txs)
	if err != nil {
		return err
	}
	result.TransactionsSynced = summary.Created + summary.Updated
	for _, f := range summary.Failures {
		result.Warnings = append(result.Warnings, fmt.Sprintf("transaction %s not persisted: %s", f.ExternalID, f.Reason))
	}
	if summary.Unresolved > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d transactions held for unresolved accounts", summary.Unresolved))
	}

	// The cursor only advances after a clean run. A failed account's
	// window must stay open, or the next incremental plan would skip
	// everything older than its overlap.
	if len(result.Errors) > 0 {
		log.Printf("Connection %s: %d errors this run, cursor not advanced", conn.ID, len(result.Errors))
		return nil
	}

	if err := o.deps.Store.AdvanceCursor(ctx, conn.ID, conn.ProviderID, nextCursor, o.now()); err != nil {
		return err
	}
	return nil
}

// credentials loads the connection's credentials and refreshes the access
// token when the adapter reports it expired.
func (o *Orchestrator) credentials(ctx context.Context, conn *connection.Connection, adapter provider.Adapter) (provider.Credentials, error) {
	creds, err := o.deps.Credentials.Get(ctx, conn.ID)
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("failed to load credentials for connection %s: %w", conn.ID, err)
	}

	if !adapter.IsTokenExpired(creds.Expiry) {
		return creds, nil
	}

	tokens, err := adapter.RefreshAccessToken(ctx, creds.RefreshToken)
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("token refresh failed for connection %s: %w", conn.ID, err)
	}

	if err := o.deps.Credentials.SaveTokens(ctx, conn.ID, *tokens); err != nil {
		return provider.Credentials{}, fmt.Errorf("failed to persist refreshed tokens for connection %s: %w", conn.ID, err)
	}

	return provider.Credentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expiry:       tokens.Expiry,
	}, nil
}

// syncAccounts fetches, captures, normalizes, and reconciles the
// connection's accounts. It returns the normalized accounts and the
// external-to-canonical id lookup the transaction phase needs.
func (o *Orchestrator) syncAccounts(ctx context.Context, conn *connection.Connection, adapter provider.Adapter, creds provider.Credentials, result *SyncResult) ([]normalize.Account, normalize.AccountLookup, error) {
	batch, err := adapter.FetchRawAccounts(ctx, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("account fetch failed for connection %s: %w", conn.ID, err)
	}

	if err := o.deps.Store.StoreRawAccounts(ctx, conn.TenantID, conn.ID, batch); err != nil {
		return nil, nil, err
	}

	accounts, warnings, err := o.deps.Engine.NormalizeAccounts(ctx, conn.ID)
	if err != nil {
		return nil, nil, err
	}
	result.Warnings = append(result.Warnings, warnings...)

	lookup := make(normalize.AccountLookup, len(accounts))
	for _, acc := range accounts {
		r, err := o.deps.Reconciler.FindOrCreateAccount(ctx, conn.TenantID, acc)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("reconciliation failed for account %s: %v", acc.ExternalID, err))
			continue
		}
		lookup[acc.ExternalID] = r.Account.ID
		result.AccountsSynced++
		if r.Recommendation == reconcile.ManualReview {
			result.Warnings = append(result.Warnings, fmt.Sprintf("account %s flagged for manual review", r.Account.ID))
		}
	}

	return accounts, lookup, nil
}

// fetchTransactions pulls transaction history per account with bounded
// fan-out. A failing account records an error and the rest continue; only
// context cancellation stops the group. Returns the provider cursor to
// persist, if any batch carried one.
func (o *Orchestrator) fetchTransactions(ctx context.Context, conn *connection.Connection, adapter provider.Adapter, creds provider.Credentials, accounts []normalize.Account, cursor *rawstore.Cursor, firstConnection, forced bool, result *SyncResult) string {
	var (
		mu         sync.Mutex
		nextCursor string
	)
	// A stored token only seeds the fetch for cursor-based providers.
	// Page tokens are per-fetch and full-refresh providers have none.
	cursorToken := ""
	if cursor != nil && provider.FamilyFor(conn.ProviderID) == provider.PaginationCursor {
		cursorToken = cursor.Token
		nextCursor = cursor.Token
	}

	// Cursor tokens are connection-level: every account seeds from the
	// same stored token, so those fetches run one at a time to keep the
	// persisted token deterministic. Page-token and full-refresh fetches
	// are independent per account and fan out.
	fanout := o.cfg.AccountFanout
	if provider.FamilyFor(conn.ProviderID) == provider.PaginationCursor {
		fanout = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)

	for _, acc := range accounts {
		acc := acc
		g.Go(func() error {
			window := o.planWindow(acc, cursor, firstConnection, forced)
			if window.Skip {
				return nil
			}

			token := cursorToken
			for {
				batch, err := adapter.FetchRawTransactions(gctx, creds, acc.ExternalID, provider.TransactionQuery{
					StartDate: window.From,
					EndDate:   window.To,
					Cursor:    token,
				})
				if err != nil {
					mu.Lock()
					result.Errors = append(result.Errors, fmt.Sprintf("transaction fetch failed for account %s: %v", acc.ExternalID, err))
					mu.Unlock()
					return gctx.Err()
				}

				if err := o.deps.Store.StoreRawTransactions(gctx, conn.TenantID, conn.ID, batch); err != nil {
					mu.Lock()
					result.Errors = append(result.Errors, fmt.Sprintf("raw capture failed for account %s: %v", acc.ExternalID, err))
					mu.Unlock()
					return gctx.Err()
				}

				if batch.NextCursor != "" {
					mu.Lock()
					nextCursor = batch.NextCursor
					mu.Unlock()
				}
				if !batch.HasMore {
					return nil
				}
				token = batch.NextCursor
			}
		})
	}

	if err := g.Wait(); err != nil {
		mu.Lock()
		result.Errors = append(result.Errors, fmt.Sprintf("transaction fetch interrupted: %v", err))
		mu.Unlock()
	}
	return nextCursor
}

// planWindow decides the fetch window for one account. The connection
// cursor's last sync time drives the gap regimes; the account type drives
// the lookback depth.
func (o *Orchestrator) planWindow(acc normalize.Account, cursor *rawstore.Cursor, firstConnection, forced bool) syncwindow.Window {
	var lastSynced *time.Time
	if cursor != nil && !cursor.LastSyncedAt.IsZero() {
		t := cursor.LastSyncedAt
		lastSynced = &t
	}
	return o.deps.Planner.Plan(acc.AccountType, lastSynced, firstConnection, forced)
}

// finalize applies the end-of-run bookkeeping exactly once: health, sync
// metadata, and user-facing notifications.
func (o *Orchestrator) finalize(ctx context.Context, conn *connection.Connection, result *SyncResult, runErr error) {
	// Health updates must land even when the run budget expired.
	ctx = context.WithoutCancel(ctx)

	if runErr != nil && errors.Is(runErr, provider.ErrUnauthorized) {
		if err := o.deps.Health.MarkExpired(ctx, conn.ID); err != nil {
			log.Printf("Failed to expire connection %s: %v", conn.ID, err)
		}
		o.deps.Notifier.NotifyReconnectRequired(ctx, conn.TenantID, conn.ID, conn.InstitutionID)
	}

	if result.Success {
		if err := o.deps.Health.RecordSuccess(ctx, conn.ID); err != nil {
			log.Printf("Failed to record sync success for connection %s: %v", conn.ID, err)
		}
		o.deps.Notifier.NotifySyncComplete(ctx, conn.TenantID, conn.ID, result.AccountsSynced, result.TransactionsSynced)
	} else {
		summary := errorSummary(result, runErr)
		if err := o.deps.Health.RecordFailure(ctx, conn.ID, summary); err != nil {
			log.Printf("Failed to record sync failure for connection %s: %v", conn.ID, err)
		}
		if score := connection.HealthScore(conn.ConsecutiveFailures + 1); connection.IsDegradedScore(score) {
			o.deps.Notifier.NotifyConnectionDegraded(ctx, conn.TenantID, conn.ID, score)
		}
	}

	meta := connection.SyncMetadata{
		LastSyncAt:    o.now().UTC(),
		AccountsSeen:  result.AccountsSynced,
		PartialErrors: len(result.Errors),
		ErrorSummary:  errorSummary(result, runErr),
	}
	if err := o.deps.Connections.UpdateSyncMetadata(ctx, conn.ID, meta); err != nil {
		log.Printf("Failed to update sync metadata for connection %s: %v", conn.ID, err)
	}
}

// errorSummary folds the run's errors into one bounded message.
func errorSummary(result *SyncResult, runErr error) string {
	var parts []string
	if runErr != nil {
		parts = append(parts, runErr.Error())
	}
	parts = append(parts, result.Errors...)
	if len(parts) == 0 {
		return ""
	}
	summary := strings.Join(parts, "; ")
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return summary
}
