package connection

import (
	"context"
	"fmt"
	"log"
)

const (
	// healthPenalty is subtracted per consecutive failure.
	healthPenalty = 20

	// degradedThreshold is the score below which a connection is degraded.
	degradedThreshold = 60
)

// HealthTracker records per-connection sync outcomes and maintains the
// derived health score. The score flags connections needing reauthorization
// in operator views; it carries no other behavior.
type HealthTracker struct {
	repo Repository
}

func NewHealthTracker(repo Repository) *HealthTracker {
	return &HealthTracker{repo: repo}
}

// HealthScore maps a consecutive-failure count to a 0-100 score.
// Monotonic: more failures never raises the score.
func HealthScore(consecutiveFailures int) int {
	score := 100 - healthPenalty*consecutiveFailures
	if score < 0 {
		return 0
	}
	return score
}

// IsDegradedScore reports whether a health score falls below the degraded
// threshold.
func IsDegradedScore(score int) bool {
	return score < degradedThreshold
}

// RecordSuccess resets the failure counter and clears the last error.
func (t *HealthTracker) RecordSuccess(ctx context.Context, connectionID string) error {
	if err := t.repo.UpdateHealth(ctx, connectionID, 0, HealthScore(0), ""); err != nil {
		return fmt.Errorf("failed to record success for connection %s: %w", connectionID, err)
	}
	return nil
}

// RecordFailure increments the failure counter, stores the message, and
// downgrades the connection status when the score crosses the threshold.
func (t *HealthTracker) RecordFailure(ctx context.Context, connectionID, message string) error {
	conn, err := t.repo.GetByID(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}

	failures := conn.ConsecutiveFailures + 1
	score := HealthScore(failures)

	if err := t.repo.UpdateHealth(ctx, connectionID, failures, score, message); err != nil {
		return fmt.Errorf("failed to record failure for connection %s: %w", connectionID, err)
	}

	if IsDegradedScore(score) && conn.Status == StatusActive {
		log.Printf("Connection %s: health score %d, marking degraded", connectionID, score)
		if err := t.repo.UpdateStatus(ctx, connectionID, StatusDegraded); err != nil {
			return fmt.Errorf("failed to degrade connection %s: %w", connectionID, err)
		}
	}

	return nil
}

// MarkExpired flags a connection whose credentials can no longer be
// refreshed. The caller surfaces "reconnect required" to the user.
func (t *HealthTracker) MarkExpired(ctx context.Context, connectionID string) error {
	if err := t.repo.UpdateStatus(ctx, connectionID, StatusExpired); err != nil {
		return fmt.Errorf("failed to expire connection %s: %w", connectionID, err)
	}
	return nil
}
