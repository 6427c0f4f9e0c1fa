package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ledgerline/internal/domain/connection"
	"ledgerline/internal/domain/syncer"
)

// SyncRunner is the slice of the orchestrator the job needs.
type SyncRunner interface {
	SyncConnection(ctx context.Context, connectionID string, forced bool) (*syncer.SyncResult, error)
}

// ConnectionSyncJob syncs one connection.
type ConnectionSyncJob struct {
	runner       SyncRunner
	connectionID string
	forced       bool
}

func NewConnectionSyncJob(runner SyncRunner, connectionID string, forced bool) *ConnectionSyncJob {
	return &ConnectionSyncJob{runner: runner, connectionID: connectionID, forced: forced}
}

func (j *ConnectionSyncJob) ConnectionID() string { return j.connectionID }

func (j *ConnectionSyncJob) Description() string { return "connection sync" }

// Execute runs the sync. A connection already being synced elsewhere is a
// skip, not a failure.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	result, err := j.runner.SyncConnection(ctx, j.connectionID, j.forced)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		log.Printf("Connection %s: sync already running, skipping", j.connectionID)
		return nil
	}
	if err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("sync completed with %d errors", len(result.Errors))
	}

	log.Printf("Connection %s: synced %d accounts, %d transactions in %dms",
		j.connectionID, result.AccountsSynced, result.TransactionsSynced, result.DurationMs)
	return nil
}

// SyncJobProvider builds one sync job per active connection. Plugged into
// the scheduler's JobProvider hook.
func SyncJobProvider(conns connection.Repository, runner SyncRunner) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		active, err := conns.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list connections to sync: %w", err)
		}

		jobs := make([]Job, 0, len(active))
		for _, conn := range active {
			jobs = append(jobs, NewConnectionSyncJob(runner, conn.ID, false))
		}
		return jobs, nil
	}
}
