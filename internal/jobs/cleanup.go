package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// TypeJobStateRetention is the scheduled housekeeping task that prunes
// completed/failed FileProcessingJobState rows past their retention window,
// standing in for the teacher's TypeCleanupDeletedRecords/TypeCleanupOldActivity.
const TypeJobStateRetention = "jobstate.retention"

// QueueHousekeeping carries scheduled maintenance tasks, separate from the
// five pipeline queues so a slow retention sweep never backs up ingestion.
const QueueHousekeeping = "housekeeping"

// JobStateRetentionStore is the Job-State Store surface the retention sweep
// needs. Implemented by postgres.JobStateRepository.
type JobStateRetentionStore interface {
	DeleteOldCompleted(ctx context.Context, before time.Time) (int64, error)
}

// CleanupConfig holds configuration for the retention sweep.
type CleanupConfig struct {
	// JobStateRetentionDays is how long to keep completed/failed job-state
	// rows before they're eligible for deletion (default: 30 days).
	JobStateRetentionDays int
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		JobStateRetentionDays: 30,
	}
}

// CleanupProcessor handles scheduled housekeeping tasks.
type CleanupProcessor struct {
	jobStates JobStateRetentionStore
	config    CleanupConfig
}

// NewCleanupProcessor creates a new cleanup processor.
func NewCleanupProcessor(jobStates JobStateRetentionStore, config CleanupConfig) *CleanupProcessor {
	return &CleanupProcessor{
		jobStates: jobStates,
		config:    config,
	}
}

// ProcessTask removes job-state rows whose terminal status predates the
// retention window. Mirrors the teacher's ProcessDeletedRecordsCleanup
// shape: compute a cutoff, delegate the delete, log the count.
func (p *CleanupProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().AddDate(0, 0, -p.config.JobStateRetentionDays)

	log.Printf("cleanup: pruning job states completed before %s", cutoff.Format(time.RFC3339))

	n, err := p.jobStates.DeleteOldCompleted(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune job states: %w", err)
	}

	log.Printf("cleanup: pruned %d job state rows", n)
	return nil
}

// NewJobStateRetentionTask creates the scheduled retention-sweep task.
func NewJobStateRetentionTask() *asynq.Task {
	return asynq.NewTask(TypeJobStateRetention, nil, asynq.Queue(QueueHousekeeping))
}
