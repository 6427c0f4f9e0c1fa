// Package syncwindow decides how far back a sync run should fetch
// transactions for an account, based on account type and how long ago the
// connection last synced.
package syncwindow

import (
	"time"

	"ledgerline/internal/domain/account"
)

// Reason explains why a window was planned the way it was.
type Reason string

const (
	// ReasonInitialBackfill: the connection has never synced this account.
	ReasonInitialBackfill Reason = "initial_backfill"
	// ReasonIncremental: recent sync, fetch a short overlapping window.
	ReasonIncremental Reason = "incremental"
	// ReasonModerateGap: between a week and a month since the last sync.
	ReasonModerateGap Reason = "moderate_gap"
	// ReasonLongGapBackfill: over a month stale, re-fetch the full lookback.
	ReasonLongGapBackfill Reason = "long_gap_backfill"
	// ReasonForced: operator-requested, throttle bypassed.
	ReasonForced Reason = "forced"
	// ReasonThrottled: synced too recently, skip this run.
	ReasonThrottled Reason = "throttled"
)

// Window is the planned fetch range. Skip means the account should not be
// synced at all this run.
type Window struct {
	From   time.Time
	To     time.Time
	Reason Reason
	Skip   bool
}

// Config holds the planning thresholds. Zero values are filled in by
// DefaultConfig; callers that want different thresholds build their own.
type Config struct {
	// MinSyncInterval throttles back-to-back runs on the same connection.
	MinSyncInterval time.Duration
	// IncrementalOverlap is re-fetched behind the last sync to catch
	// transactions the provider settled late.
	IncrementalOverlap time.Duration
	// ModerateOverlap is the wider overlap applied after a moderate gap.
	ModerateOverlap time.Duration
	// ModerateGapAfter and LongGapAfter split the gap regimes.
	ModerateGapAfter time.Duration
	LongGapAfter     time.Duration
	// FirstConnectionFloor is the minimum lookback for a connection that
	// has never synced, regardless of account type.
	FirstConnectionFloor time.Duration
	// Lookbacks maps account type to the full-history fetch depth.
	Lookbacks map[string]time.Duration
}

const day = 24 * time.Hour

func DefaultConfig() Config {
	return Config{
		MinSyncInterval:      30 * time.Minute,
		IncrementalOverlap:   3 * day,
		ModerateOverlap:      7 * day,
		ModerateGapAfter:     7 * day,
		LongGapAfter:         30 * day,
		FirstConnectionFloor: 365 * day,
		Lookbacks: map[string]time.Duration{
			account.TypeChecking:   90 * day,
			account.TypeSavings:    90 * day,
			account.TypeCreditCard: 365 * day,
			account.TypeLoan:       365 * day,
			account.TypeInvestment: 730 * day,
			account.TypeRetirement: 730 * day,
			account.TypeMortgage:   730 * day,
			account.TypeOther:      90 * day,
		},
	}
}

// Planner plans sync windows from a fixed Config.
type Planner struct {
	cfg Config
	now func() time.Time
}

func NewPlanner(cfg Config) *Planner {
	return &Planner{cfg: cfg, now: time.Now}
}

// Lookback returns the configured fetch depth for an account type, falling
// back to the checking depth for unknown types.
func (p *Planner) Lookback(accountType string) time.Duration {
	if d, ok := p.cfg.Lookbacks[accountType]; ok {
		return d
	}
	return p.cfg.Lookbacks[account.TypeChecking]
}

// Plan decides the fetch window for one account.
//
// lastSyncedAt is the account's last successful sync, nil if never synced.
// firstConnection reports whether the owning connection has never completed
// a sync; it widens the initial backfill to at least FirstConnectionFloor.
// forced bypasses the throttle but still fetches only the incremental
// window.
func (p *Planner) Plan(accountType string, lastSyncedAt *time.Time, firstConnection, forced bool) Window {
	now := p.now().UTC()

	if lastSyncedAt == nil {
		lookback := p.Lookback(accountType)
		if firstConnection && lookback < p.cfg.FirstConnectionFloor {
			lookback = p.cfg.FirstConnectionFloor
		}
		return Window{From: now.Add(-lookback), To: now, Reason: ReasonInitialBackfill}
	}

	last := lastSyncedAt.UTC()
	gap := now.Sub(last)

	if forced {
		return Window{From: last.Add(-p.cfg.IncrementalOverlap), To: now, Reason: ReasonForced}
	}
	if gap < p.cfg.MinSyncInterval {
		return Window{Reason: ReasonThrottled, Skip: true}
	}

	switch {
	case gap <= p.cfg.ModerateGapAfter:
		return Window{From: last.Add(-p.cfg.IncrementalOverlap), To: now, Reason: ReasonIncremental}
	case gap <= p.cfg.LongGapAfter:
		return Window{From: last.Add(-p.cfg.ModerateOverlap), To: now, Reason: ReasonModerateGap}
	default:
		// Too stale to trust the cursor: re-fetch the full type lookback.
		return Window{From: now.Add(-p.Lookback(accountType)), To: now, Reason: ReasonLongGapBackfill}
	}
}
