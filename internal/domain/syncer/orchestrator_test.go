package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ledgerline/internal/domain/account"
	"ledgerline/internal/domain/connection"
	"ledgerline/internal/domain/normalize"
	"ledgerline/internal/domain/notification"
	"ledgerline/internal/domain/persist"
	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/domain/reconcile"
	"ledgerline/internal/domain/syncwindow"
	"ledgerline/internal/domain/transaction"
	"ledgerline/internal/provider"
	"ledgerline/internal/shared/messages"
)

// --- in-memory fakes -------------------------------------------------------

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]bool)} }

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

type mockConnRepo struct {
	mu            sync.Mutex
	conn          *connection.Connection
	healthCalls   []string
	statusCalls   []string
	metadataCalls int
}

func (m *mockConnRepo) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	if m.conn == nil || m.conn.ID != id {
		return nil, connection.ErrConnectionNotFound
	}
	c := *m.conn
	return &c, nil
}

func (m *mockConnRepo) ListActive(ctx context.Context) ([]*connection.Connection, error) {
	if m.conn == nil {
		return nil, nil
	}
	return []*connection.Connection{m.conn}, nil
}

func (m *mockConnRepo) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls = append(m.statusCalls, status)
	m.conn.Status = status
	return nil
}

func (m *mockConnRepo) UpdateHealth(ctx context.Context, id string, consecutiveFailures, healthScore int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthCalls = append(m.healthCalls, fmt.Sprintf("failures=%d score=%d", consecutiveFailures, healthScore))
	m.conn.ConsecutiveFailures = consecutiveFailures
	m.conn.HealthScore = healthScore
	m.conn.LastError = lastError
	return nil
}

func (m *mockConnRepo) UpdateSyncMetadata(ctx context.Context, id string, meta connection.SyncMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadataCalls++
	m.conn.LastSyncAt = meta.LastSyncAt
	return nil
}

func (m *mockConnRepo) Delete(ctx context.Context, id string) error { return nil }

type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*account.Account
}

func newMemAccounts() *memAccounts { return &memAccounts{byID: make(map[string]*account.Account)} }

func (m *memAccounts) GetByID(ctx context.Context, tenantID, id string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.byID[id]
	if !ok || acc.TenantID != tenantID {
		return nil, account.ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

func (m *memAccounts) ListByTenant(ctx context.Context, tenantID string) ([]*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*account.Account
	for _, acc := range m.byID {
		if acc.TenantID == tenantID {
			c := *acc
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memAccounts) ListByConnection(ctx context.Context, tenantID, connectionID string) ([]*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*account.Account
	for _, acc := range m.byID {
		if acc.TenantID == tenantID && acc.ConnectionID == connectionID {
			c := *acc
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memAccounts) FindByExternalID(ctx context.Context, tenantID, providerID, externalID string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.byID {
		if acc.TenantID == tenantID && acc.ProviderID == providerID && acc.ExternalID == externalID {
			c := *acc
			return &c, nil
		}
	}
	return nil, account.ErrAccountNotFound
}

func (m *memAccounts) FindByInstitutionNumber(ctx context.Context, tenantID, providerID, institutionID, accountNumber string) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}

func (m *memAccounts) FindByIBAN(ctx context.Context, tenantID, iban string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.byID {
		if acc.TenantID == tenantID && acc.IBAN == iban && iban != "" {
			c := *acc
			return &c, nil
		}
	}
	return nil, account.ErrAccountNotFound
}

func (m *memAccounts) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.byID[params.ID]
	acc := &account.Account{
		ID: params.ID, TenantID: params.TenantID, ConnectionID: params.ConnectionID,
		ProviderID: params.ProviderID, ExternalID: params.ExternalID, Name: params.Name,
		AccountType: params.AccountType, Currency: params.Currency, Balance: params.Balance,
		IBAN: params.IBAN, Status: params.Status, InstitutionID: params.InstitutionID,
		InstitutionName: params.InstitutionName, LastSyncedAt: params.LastSyncedAt,
		Metadata: params.Metadata,
	}
	m.byID[params.ID] = acc
	c := *acc
	return &c, !existed, nil
}

func (m *memAccounts) Relink(ctx context.Context, tenantID, accountID, connectionID string) error {
	return nil
}

func (m *memAccounts) Delete(ctx context.Context, tenantID, id string) error { return nil }

type memTransactions struct {
	mu   sync.Mutex
	byID map[string]*transaction.Transaction
}

func newMemTransactions() *memTransactions {
	return &memTransactions{byID: make(map[string]*transaction.Transaction)}
}

func (m *memTransactions) GetByID(ctx context.Context, tenantID, id string) (*transaction.Transaction, error) {
	return nil, transaction.ErrTransactionNotFound
}

func (m *memTransactions) ListByAccount(ctx context.Context, tenantID, accountID string) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (m *memTransactions) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.byID[params.ID]
	tx := &transaction.Transaction{ID: params.ID, TenantID: params.TenantID, AccountID: params.AccountID}
	m.byID[params.ID] = tx
	return tx, !existed, nil
}

func (m *memTransactions) Delete(ctx context.Context, tenantID, id string) error { return nil }

type memRecords struct {
	mu      sync.Mutex
	records map[string]rawstore.Record
}

func newMemRecords() *memRecords { return &memRecords{records: make(map[string]rawstore.Record)} }

func (m *memRecords) UpsertBatch(ctx context.Context, records []rawstore.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ConnectionID+"|"+r.ProviderID+"|"+r.ExternalID+"|"+r.Kind] = r
	}
	return nil
}

func (m *memRecords) ListByConnection(ctx context.Context, connectionID, kind string) ([]rawstore.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rawstore.Record
	for _, r := range m.records {
		if r.ConnectionID == connectionID && r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

type memCursors struct {
	mu      sync.Mutex
	cursors map[string]rawstore.Cursor
}

func newMemCursors() *memCursors { return &memCursors{cursors: make(map[string]rawstore.Cursor)} }

func (m *memCursors) Get(ctx context.Context, connectionID, providerID string) (*rawstore.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[connectionID+"|"+providerID]
	if !ok {
		return nil, rawstore.ErrCursorNotFound
	}
	return &c, nil
}

func (m *memCursors) Set(ctx context.Context, cursor rawstore.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[cursor.ConnectionID+"|"+cursor.ProviderID] = cursor
	return nil
}

func (m *memCursors) Reset(ctx context.Context, connectionID, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, connectionID+"|"+providerID)
	return nil
}

type staticCreds struct{}

func (staticCreds) Get(ctx context.Context, connectionID string) (provider.Credentials, error) {
	return provider.Credentials{AccessToken: "token", Expiry: time.Now().Add(time.Hour)}, nil
}

func (staticCreds) SaveTokens(ctx context.Context, connectionID string, tokens provider.Tokens) error {
	return nil
}

// fakeAdapter records the order of fetches so tests can assert the
// accounts-before-transactions barrier.
type fakeAdapter struct {
	id          string
	accounts    *provider.RawAccountBatch
	accountsErr error
	txByAccount map[string]*provider.RawTransactionBatch
	txErr       map[string]error

	mu     sync.Mutex
	events []string
}

func (f *fakeAdapter) ProviderID() string { return f.id }

func (f *fakeAdapter) FetchRawAccounts(ctx context.Context, creds provider.Credentials) (*provider.RawAccountBatch, error) {
	f.mu.Lock()
	f.events = append(f.events, "accounts")
	f.mu.Unlock()
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.accounts, nil
}

func (f *fakeAdapter) FetchRawTransactions(ctx context.Context, creds provider.Credentials, externalAccountID string, query provider.TransactionQuery) (*provider.RawTransactionBatch, error) {
	f.mu.Lock()
	f.events = append(f.events, "transactions:"+externalAccountID)
	f.mu.Unlock()
	if err, ok := f.txErr[externalAccountID]; ok {
		return nil, err
	}
	if batch, ok := f.txByAccount[externalAccountID]; ok {
		return batch, nil
	}
	return &provider.RawTransactionBatch{ProviderID: f.id}, nil
}

func (f *fakeAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*provider.Tokens, error) {
	return &provider.Tokens{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeAdapter) IsTokenExpired(expiry time.Time) bool { return time.Now().After(expiry) }

// --- fixtures --------------------------------------------------------------

func plaidAccountPayload(extID string) string {
	return `{"account_id": "` + extID + `", "name": "Checking ` + extID + `", "type": "depository", "subtype": "checking",
		"balances": {"current": 100.00, "iso_currency_code": "USD"}}`
}

func plaidTxPayload(txID, accountID string) string {
	return `{"transaction_id": "` + txID + `", "account_id": "` + accountID + `", "amount": 5.00,
		"iso_currency_code": "USD", "date": "2026-03-10", "name": "COFFEE"}`
}

type harness struct {
	orch     *Orchestrator
	conns    *mockConnRepo
	accounts *memAccounts
	txs      *memTransactions
	cursors  *memCursors
	adapter  *fakeAdapter
	locker   *memLocker
}

func newHarness(t *testing.T, adapter *fakeAdapter, conn *connection.Connection) *harness {
	t.Helper()

	conns := &mockConnRepo{conn: conn}
	accounts := newMemAccounts()
	txs := newMemTransactions()
	records := newMemRecords()
	cursors := newMemCursors()
	locker := newMemLocker()

	registry := provider.NewRegistry()
	registry.Register(adapter)

	store := rawstore.NewStore(records, cursors)
	deps := Deps{
		Connections: conns,
		Registry:    registry,
		Store:       store,
		Engine:      normalize.NewEngine(store),
		Reconciler:  reconcile.NewService(accounts),
		Batcher:     persist.NewBatcher(txs, 100),
		Health:      connection.NewHealthTracker(conns),
		Notifier:    notification.NewService(nil, nil, &messages.Messages{}),
		Planner:     syncwindow.NewPlanner(syncwindow.DefaultConfig()),
		Credentials: staticCreds{},
		Locker:      locker,
	}

	orch := NewOrchestrator(Config{RunBudget: time.Minute, AccountFanout: 2, MinSyncInterval: 30 * time.Minute}, deps)
	return &harness{orch: orch, conns: conns, accounts: accounts, txs: txs, cursors: cursors, adapter: adapter, locker: locker}
}

func activeConnection() *connection.Connection {
	return &connection.Connection{
		ID:         "conn-1",
		TenantID:   "tenant-1",
		ProviderID: provider.Plaid,
		Status:     connection.StatusActive,
	}
}

// --- tests -----------------------------------------------------------------

func TestSyncConnectionHappyPath(t *testing.T) {
	adapter := &fakeAdapter{
		id: provider.Plaid,
		accounts: &provider.RawAccountBatch{
			ProviderID: provider.Plaid,
			Accounts: []provider.RawAccount{
				{ExternalID: "ext-1", Payload: []byte(plaidAccountPayload("ext-1"))},
			},
		},
		txByAccount: map[string]*provider.RawTransactionBatch{
			"ext-1": {
				ProviderID: provider.Plaid,
				Transactions: []provider.RawTransaction{
					{ExternalID: "tx-1", ExternalAccountID: "ext-1", Payload: []byte(plaidTxPayload("tx-1", "ext-1"))},
					{ExternalID: "tx-2", ExternalAccountID: "ext-1", Payload: []byte(plaidTxPayload("tx-2", "ext-1"))},
				},
				NextCursor: "cur-1",
			},
		},
	}
	h := newHarness(t, adapter, activeConnection())

	result, err := h.orch.SyncConnection(context.Background(), "conn-1", false)
	if err != nil {
		t.Fatalf("SyncConnection failed: %v", err)
	}

	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
	if result.AccountsSynced != 1 || result.TransactionsSynced != 2 {
		t.Errorf("expected 1 account / 2 transactions, got %+v", result)
	}
	if len(h.conns.healthCalls) != 1 || h.conns.healthCalls[0] != "failures=0 score=100" {
		t.Errorf("expected one healthy update, got %v", h.conns.healthCalls)
	}
	if h.conns.metadataCalls != 1 {
		t.Errorf("sync metadata must be written exactly once, got %d", h.conns.metadataCalls)
	}

	cursor, err := h.cursors.Get(context.Background(), "conn-1", provider.Plaid)
	if err != nil {
		t.Fatalf("cursor not stored: %v", err)
	}
	if cursor.Token != "cur-1" {
		t.Errorf("expected cursor cur-1, got %q", cursor.Token)
	}
}

func TestSyncConnectionAccountsBeforeTransactions(t *testing.T) {
	adapter := &fakeAdapter{
		id: provider.Plaid,
		accounts: &provider.RawAccountBatch{
			ProviderID: provider.Plaid,
			Accounts: []provider.RawAccount{
				{ExternalID: "ext-1", Payload: []byte(plaidAccountPayload("ext-1"))},
				{ExternalID: "ext-2", Payload: []byte(plaidAccountPayload("ext-2"))},
			},
		},
	}
	h := newHarness(t, adapter, activeConnection())

	if _, err := h.orch.SyncConnection(context.Background(), "conn-1", false); err != nil {
		t.Fatalf("SyncConnection failed: %v", err)
	}

	sawTransaction := false
	for _, ev := range adapter.events {
		if strings.HasPrefix(ev, "transactions:") {
			sawTransaction = true
		}
		if ev == "accounts" && sawTransaction {
			t.Fatal("account fetch observed after a transaction fetch")
		}
	}
	if !sawTransaction {
		t.Fatal("expected transaction fetches")
	}
}

func TestSyncConnectionLockedReturnsInProgress(t *testing.T) {
	adapter := &fakeAdapter{id: provider.Plaid, accounts: &provider.RawAccountBatch{ProviderID: provider.Plaid}}
	h := newHarness(t, adapter, activeConnection())

	release, acquired, err := h.locker.Acquire(context.Background(), "sync:conn-1", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("setup lock failed: %v", err)
	}
	defer release()

	_, err = h.orch.SyncConnection(context.Background(), "conn-1", false)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestSyncConnectionUnauthorizedExpiresConnection(t *testing.T) {
	adapter := &fakeAdapter{
		id:          provider.Plaid,
		accountsErr: fmt.Errorf("provider rejected request: %w", provider.ErrUnauthorized),
	}
	h := newHarness(t, adapter, activeConnection())

	result, err := h.orch.SyncConnection(context.Background(), "conn-1", false)
	if !errors.Is(err, provider.ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	if result.Success {
		t.Error("unauthorized run must not report success")
	}

	foundExpired := false
	for _, status := range h.conns.statusCalls {
		if status == connection.StatusExpired {
			foundExpired = true
		}
	}
	if !foundExpired {
		t.Errorf("expected connection marked expired, statuses: %v", h.conns.statusCalls)
	}
}

func TestSyncConnectionPartialFailureIsolatesAccounts(t *testing.T) {
	adapter := &fakeAdapter{
		id: provider.Plaid,
		accounts: &provider.RawAccountBatch{
			ProviderID: provider.Plaid,
			Accounts: []provider.RawAccount{
				{ExternalID: "ext-ok", Payload: []byte(plaidAccountPayload("ext-ok"))},
				{ExternalID: "ext-bad", Payload: []byte(plaidAccountPayload("ext-bad"))},
			},
		},
		txByAccount: map[string]*provider.RawTransactionBatch{
			"ext-ok": {
				ProviderID: provider.Plaid,
				Transactions: []provider.RawTransaction{
					{ExternalID: "tx-1", ExternalAccountID: "ext-ok", Payload: []byte(plaidTxPayload("tx-1", "ext-ok"))},
				},
			},
		},
		txErr: map[string]error{"ext-bad": errors.New("upstream 502")},
	}
	h := newHarness(t, adapter, activeConnection())

	result, err := h.orch.SyncConnection(context.Background(), "conn-1", false)
	if err != nil {
		t.Fatalf("partial failure should not be a hard error: %v", err)
	}

	if result.Success {
		t.Error("run with per-account errors must not report success")
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected one per-account error, got %v", result.Errors)
	}
	if result.TransactionsSynced != 1 {
		t.Errorf("healthy account's transactions should persist, got %d", result.TransactionsSynced)
	}
	if len(h.conns.healthCalls) != 1 || !strings.Contains(h.conns.healthCalls[0], "failures=1") {
		t.Errorf("expected one failure recorded, got %v", h.conns.healthCalls)
	}
}

func TestSyncConnectionThrottledSkips(t *testing.T) {
	conn := activeConnection()
	conn.LastSyncAt = time.Now().Add(-10 * time.Minute)

	adapter := &fakeAdapter{id: provider.Plaid, accounts: &provider.RawAccountBatch{ProviderID: provider.Plaid}}
	h := newHarness(t, adapter, conn)

	result, err := h.orch.SyncConnection(context.Background(), "conn-1", false)
	if err != nil {
		t.Fatalf("throttled run should not error: %v", err)
	}
	if !result.Success || len(result.Warnings) == 0 {
		t.Errorf("expected throttle warning, got %+v", result)
	}
	if len(adapter.events) != 0 {
		t.Errorf("throttled run must not hit the provider, events: %v", adapter.events)
	}
}

func TestSyncConnectionForcedBypassesThrottle(t *testing.T) {
	conn := activeConnection()
	conn.LastSyncAt = time.Now().Add(-10 * time.Minute)

	adapter := &fakeAdapter{
		id: provider.Plaid,
		accounts: &provider.RawAccountBatch{
			ProviderID: provider.Plaid,
			Accounts: []provider.RawAccount{
				{ExternalID: "ext-1", Payload: []byte(plaidAccountPayload("ext-1"))},
			},
		},
	}
	h := newHarness(t, adapter, conn)

	result, err := h.orch.SyncConnection(context.Background(), "conn-1", true)
	if err != nil {
		t.Fatalf("forced sync failed: %v", err)
	}
	if result.AccountsSynced != 1 {
		t.Errorf("forced run should sync, got %+v", result)
	}
}

func TestSyncConnectionFetchFailureKeepsCursor(t *testing.T) {
	adapter := &fakeAdapter{
		id: provider.Plaid,
		accounts: &provider.RawAccountBatch{
			ProviderID: provider.Plaid,
			Accounts: []provider.RawAccount{
				{ExternalID: "ext-1", Payload: []byte(plaidAccountPayload("ext-1"))},
			},
		},
		txErr: map[string]error{"ext-1": errors.New("upstream 502")},
	}
	h := newHarness(t, adapter, activeConnection())

	// A connection that last synced 40 days ago: the next clean run owes
	// the full long-gap backfill.
	staleSync := time.Now().Add(-40 * 24 * time.Hour).Truncate(time.Second)
	if err := h.cursors.Set(context.Background(), rawstore.Cursor{
		ConnectionID: "conn-1",
		ProviderID:   provider.Plaid,
		Token:        "cur-old",
		LastSyncedAt: staleSync,
	}); err != nil {
		t.Fatalf("seeding cursor failed: %v", err)
	}

	result, err := h.orch.SyncConnection(context.Background(), "conn-1", false)
	if err != nil {
		t.Fatalf("per-account failure should not be a hard error: %v", err)
	}
	if result.Success || len(result.Errors) != 1 {
		t.Fatalf("expected one fetch error, got %+v", result)
	}

	// The cursor must not move: advancing it would shrink the next run's
	// window and silently drop the 40-day gap.
	cursor, err := h.cursors.Get(context.Background(), "conn-1", provider.Plaid)
	if err != nil {
		t.Fatalf("cursor lookup failed: %v", err)
	}
	if cursor.Token != "cur-old" {
		t.Errorf("failed fetch must not advance the cursor token, got %q", cursor.Token)
	}
	if !cursor.LastSyncedAt.Equal(staleSync) {
		t.Errorf("failed fetch must not stamp LastSyncedAt, got %v, want %v", cursor.LastSyncedAt, staleSync)
	}
}

func TestSyncConnectionCursorProviderFetchesInOrder(t *testing.T) {
	adapter := &fakeAdapter{
		id: provider.Plaid,
		accounts: &provider.RawAccountBatch{
			ProviderID: provider.Plaid,
			Accounts: []provider.RawAccount{
				{ExternalID: "ext-1", Payload: []byte(plaidAccountPayload("ext-1"))},
				{ExternalID: "ext-2", Payload: []byte(plaidAccountPayload("ext-2"))},
			},
		},
		txByAccount: map[string]*provider.RawTransactionBatch{
			"ext-1": {ProviderID: provider.Plaid, NextCursor: "cur-a"},
			"ext-2": {ProviderID: provider.Plaid, NextCursor: "cur-b"},
		},
	}
	h := newHarness(t, adapter, activeConnection())

	if _, err := h.orch.SyncConnection(context.Background(), "conn-1", false); err != nil {
		t.Fatalf("SyncConnection failed: %v", err)
	}

	// Cursor-family fetches run serially in account order, so the stored
	// token is always the last account's, never a race winner.
	wantEvents := []string{"accounts", "transactions:ext-1", "transactions:ext-2"}
	if len(adapter.events) != len(wantEvents) {
		t.Fatalf("expected events %v, got %v", wantEvents, adapter.events)
	}
	for i, ev := range wantEvents {
		if adapter.events[i] != ev {
			t.Fatalf("expected events %v, got %v", wantEvents, adapter.events)
		}
	}

	cursor, err := h.cursors.Get(context.Background(), "conn-1", provider.Plaid)
	if err != nil {
		t.Fatalf("cursor not stored: %v", err)
	}
	if cursor.Token != "cur-b" {
		t.Errorf("expected the last account's cursor cur-b, got %q", cursor.Token)
	}
}

func TestSyncConnectionRepeatRunIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{
		id: provider.Plaid,
		accounts: &provider.RawAccountBatch{
			ProviderID: provider.Plaid,
			Accounts: []provider.RawAccount{
				{ExternalID: "ext-1", Payload: []byte(plaidAccountPayload("ext-1"))},
			},
		},
		txByAccount: map[string]*provider.RawTransactionBatch{
			"ext-1": {
				ProviderID: provider.Plaid,
				Transactions: []provider.RawTransaction{
					{ExternalID: "tx-1", ExternalAccountID: "ext-1", Payload: []byte(plaidTxPayload("tx-1", "ext-1"))},
				},
			},
		},
	}
	h := newHarness(t, adapter, activeConnection())

	if _, err := h.orch.SyncConnection(context.Background(), "conn-1", false); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if _, err := h.orch.SyncConnection(context.Background(), "conn-1", true); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	if got := len(h.txs.byID); got != 1 {
		t.Errorf("re-syncing the same data must not duplicate transactions, got %d", got)
	}
	if got := len(h.accounts.byID); got != 1 {
		t.Errorf("re-syncing the same data must not duplicate accounts, got %d", got)
	}
}
