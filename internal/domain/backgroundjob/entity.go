// Package backgroundjob is the operator-visible umbrella over the
// per-stage FileProcessingJobState records: one BackgroundJob groups the
// scan/thumbnail/cache stages run for a single collection processing run.
package backgroundjob

import (
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// Status is the lifecycle state of a BackgroundJob.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Stage tracks one named phase of work within a BackgroundJob (e.g. "scan",
// "thumbnail", "cache"), incremented one item at a time by consumer workers
// via AtomicIncrementStage.
type Stage struct {
	TotalItems     int
	CompletedItems int
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// IsDone reports whether every item for this stage has been accounted for.
func (s Stage) IsDone() bool {
	return s.TotalItems > 0 && s.CompletedItems >= s.TotalItems
}

// BackgroundJob is the parent record an operator queries for a single
// collection-processing run's overall status across all of its stages.
type BackgroundJob struct {
	ID        uuid.UUID
	JobType   string
	Status    Status
	Stages    map[string]*Stage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New constructs a pending BackgroundJob with no stages registered yet.
func New(jobType string) (*BackgroundJob, error) {
	if jobType == "" {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "job_type", "job_type is required")
	}
	now := time.Now()
	return &BackgroundJob{
		ID:        shared.NewUUID(),
		JobType:   jobType,
		Status:    StatusPending,
		Stages:    make(map[string]*Stage),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// RegisterStage adds a new named stage with totalItems expected items.
func (j *BackgroundJob) RegisterStage(name string, totalItems int, now time.Time) {
	j.Stages[name] = &Stage{TotalItems: totalItems, StartedAt: now}
	j.UpdatedAt = now
	if j.Status == StatusPending {
		j.Status = StatusRunning
	}
}

// AtomicIncrementStage advances stageName's completed counter by delta,
// marking the stage (and, if all stages are now done, the job) complete.
// Named to mirror the Job-State Store's single-conditional-update style
// even though here it runs against an in-process snapshot; the repository
// implements the actual atomic SQL increment.
func (j *BackgroundJob) AtomicIncrementStage(stageName string, delta int, now time.Time) error {
	stage, ok := j.Stages[stageName]
	if !ok {
		return shared.NewFieldError(shared.ErrNotFound, "stage_name", "unknown stage: "+stageName)
	}
	stage.CompletedItems += delta
	if stage.CompletedItems > stage.TotalItems {
		stage.CompletedItems = stage.TotalItems
	}
	if stage.IsDone() && stage.CompletedAt == nil {
		stage.CompletedAt = &now
	}
	j.UpdatedAt = now

	if j.allStagesDone() {
		j.Status = StatusCompleted
	}
	return nil
}

func (j *BackgroundJob) allStagesDone() bool {
	if len(j.Stages) == 0 {
		return false
	}
	for _, s := range j.Stages {
		if !s.IsDone() {
			return false
		}
	}
	return true
}

// Fail transitions the job to Failed terminally.
func (j *BackgroundJob) Fail(now time.Time) {
	j.Status = StatusFailed
	j.UpdatedAt = now
}
