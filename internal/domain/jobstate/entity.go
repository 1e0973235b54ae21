// Package jobstate tracks per-collection progress for a single pipeline
// stage (scan, thumbnail generation, or cache generation), including the
// dedup sets and error summary that make retries idempotent and resumable.
package jobstate

import (
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// JobType is the pipeline stage a FileProcessingJobState tracks.
type JobType string

const (
	JobTypeScan      JobType = "Scan"
	JobTypeThumbnail JobType = "Thumbnail"
	JobTypeCache     JobType = "Cache"
)

// Status is the lifecycle state of a tracked job.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusPaused    Status = "Paused"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// FileProcessingJobState is the resumable progress record for one pipeline
// stage over one collection. processedImageIds and failedImageIds are
// disjoint by construction (see MarkProcessed/MarkFailed): an image id that
// is already in either set is ignored by both, so it is never present in
// both and never moves from one to the other.
type FileProcessingJobState struct {
	jobID             uuid.UUID
	jobType           JobType
	collectionID      uuid.UUID
	status            Status
	totalImages       int
	completedImages   int
	failedImages      int
	skippedImages     int
	totalSizeBytes    int64
	processedImageIDs map[uuid.UUID]struct{}
	failedImageIDs    map[uuid.UUID]struct{}
	errorSummary      map[string]int
	dummyEntryCount   int
	startedAt         *time.Time
	lastProgressAt    *time.Time
	completedAt       *time.Time
	canResume         bool
	errorMessage      string
}

// New constructs a pending FileProcessingJobState for a collection and stage.
func New(collectionID uuid.UUID, jobType JobType, totalImages int) (*FileProcessingJobState, error) {
	if err := shared.ValidateUUID(collectionID, "collection_id"); err != nil {
		return nil, err
	}
	switch jobType {
	case JobTypeScan, JobTypeThumbnail, JobTypeCache:
	default:
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "job_type", "unknown job type: "+string(jobType))
	}
	if totalImages < 0 {
		return nil, shared.NewFieldError(shared.ErrInvalidInput, "total_images", "must not be negative")
	}

	return &FileProcessingJobState{
		jobID:             shared.NewUUID(),
		jobType:           jobType,
		collectionID:      collectionID,
		status:            StatusPending,
		totalImages:       totalImages,
		processedImageIDs: make(map[uuid.UUID]struct{}),
		failedImageIDs:    make(map[uuid.UUID]struct{}),
		errorSummary:      make(map[string]int),
		canResume:         true,
	}, nil
}

// Reconstruct rebuilds a FileProcessingJobState from persisted fields; the
// repository is responsible for passing consistent disjoint sets.
func Reconstruct(
	jobID uuid.UUID,
	jobType JobType,
	collectionID uuid.UUID,
	status Status,
	totalImages, completedImages, failedImages, skippedImages int,
	totalSizeBytes int64,
	processedImageIDs, failedImageIDs []uuid.UUID,
	errorSummary map[string]int,
	dummyEntryCount int,
	startedAt, lastProgressAt, completedAt *time.Time,
	canResume bool,
	errorMessage string,
) *FileProcessingJobState {
	processed := make(map[uuid.UUID]struct{}, len(processedImageIDs))
	for _, id := range processedImageIDs {
		processed[id] = struct{}{}
	}
	failed := make(map[uuid.UUID]struct{}, len(failedImageIDs))
	for _, id := range failedImageIDs {
		failed[id] = struct{}{}
	}
	if errorSummary == nil {
		errorSummary = make(map[string]int)
	}

	return &FileProcessingJobState{
		jobID:             jobID,
		jobType:           jobType,
		collectionID:      collectionID,
		status:            status,
		totalImages:       totalImages,
		completedImages:   completedImages,
		failedImages:      failedImages,
		skippedImages:     skippedImages,
		totalSizeBytes:    totalSizeBytes,
		processedImageIDs: processed,
		failedImageIDs:    failed,
		errorSummary:      errorSummary,
		dummyEntryCount:   dummyEntryCount,
		startedAt:         startedAt,
		lastProgressAt:    lastProgressAt,
		completedAt:       completedAt,
		canResume:         canResume,
		errorMessage:      errorMessage,
	}
}

func (j *FileProcessingJobState) JobID() uuid.UUID        { return j.jobID }
func (j *FileProcessingJobState) JobType() JobType         { return j.jobType }
func (j *FileProcessingJobState) CollectionID() uuid.UUID  { return j.collectionID }
func (j *FileProcessingJobState) Status() Status           { return j.status }
func (j *FileProcessingJobState) TotalImages() int         { return j.totalImages }
func (j *FileProcessingJobState) CompletedImages() int     { return j.completedImages }
func (j *FileProcessingJobState) FailedImages() int        { return j.failedImages }
func (j *FileProcessingJobState) SkippedImages() int       { return j.skippedImages }
func (j *FileProcessingJobState) TotalSizeBytes() int64    { return j.totalSizeBytes }
func (j *FileProcessingJobState) DummyEntryCount() int     { return j.dummyEntryCount }
func (j *FileProcessingJobState) StartedAt() *time.Time    { return j.startedAt }
func (j *FileProcessingJobState) LastProgressAt() *time.Time { return j.lastProgressAt }
func (j *FileProcessingJobState) CompletedAt() *time.Time  { return j.completedAt }
func (j *FileProcessingJobState) CanResume() bool          { return j.canResume }
func (j *FileProcessingJobState) ErrorMessage() string     { return j.errorMessage }
func (j *FileProcessingJobState) HasErrors() bool          { return j.failedImages > 0 }

// ErrorSummary returns a copy of the error-kind -> count map.
func (j *FileProcessingJobState) ErrorSummary() map[string]int {
	out := make(map[string]int, len(j.errorSummary))
	for k, v := range j.errorSummary {
		out[k] = v
	}
	return out
}

// IsProcessed reports whether imageID has already been recorded as either
// completed or failed, the single membership check consumer workers use
// to decide whether a delivery is a duplicate (P2).
func (j *FileProcessingJobState) IsProcessed(imageID uuid.UUID) bool {
	if _, ok := j.processedImageIDs[imageID]; ok {
		return true
	}
	_, ok := j.failedImageIDs[imageID]
	return ok
}

// Start transitions Pending -> Running and stamps startedAt/lastProgressAt.
func (j *FileProcessingJobState) Start(now time.Time) error {
	if j.status != StatusPending && j.status != StatusPaused {
		return shared.NewDomainError(shared.ErrConflict, "job can only start from pending or paused")
	}
	j.status = StatusRunning
	if j.startedAt == nil {
		j.startedAt = &now
	}
	j.lastProgressAt = &now
	return nil
}

// MarkProcessed records a successfully processed image, idempotently: a
// repeat delivery for an already-processed id is a no-op (P2).
func (j *FileProcessingJobState) MarkProcessed(imageID uuid.UUID, sizeBytes int64, now time.Time) {
	if j.IsProcessed(imageID) {
		return
	}
	j.processedImageIDs[imageID] = struct{}{}
	j.completedImages++
	j.totalSizeBytes += sizeBytes
	j.lastProgressAt = &now
}

// MarkFailed records a failed image keyed by error kind, idempotently.
func (j *FileProcessingJobState) MarkFailed(imageID uuid.UUID, errKind string, now time.Time) {
	if j.IsProcessed(imageID) {
		return
	}
	j.failedImageIDs[imageID] = struct{}{}
	j.failedImages++
	j.errorSummary[errKind]++
	j.lastProgressAt = &now
	j.errorMessage = errKind
}

// MarkSkipped records a dummy/unsupported entry that was intentionally
// excluded from processing (e.g. a non-image archive member).
func (j *FileProcessingJobState) MarkSkipped(now time.Time) {
	j.skippedImages++
	j.dummyEntryCount++
	j.lastProgressAt = &now
}

// IsDone reports whether every enumerated image has a terminal outcome.
func (j *FileProcessingJobState) IsDone() bool {
	return j.completedImages+j.failedImages+j.skippedImages >= j.totalImages
}

// Complete transitions Running -> Completed once IsDone is true.
func (j *FileProcessingJobState) Complete(now time.Time) error {
	if j.status != StatusRunning {
		return shared.NewDomainError(shared.ErrConflict, "job can only complete from running")
	}
	if !j.IsDone() {
		return shared.NewDomainError(shared.ErrConflict, "job is not done: outstanding images remain")
	}
	j.status = StatusCompleted
	j.completedAt = &now
	j.canResume = false
	return nil
}

// Pause transitions Running -> Paused, leaving canResume true so the Resume
// Coordinator can pick the job back up from its current progress sets.
func (j *FileProcessingJobState) Pause(now time.Time) error {
	if j.status != StatusRunning {
		return shared.NewDomainError(shared.ErrConflict, "job can only pause from running")
	}
	j.status = StatusPaused
	j.lastProgressAt = &now
	return nil
}

// Fail transitions the job to Failed terminally; canResume is left as-is
// so an operator can still choose to retry a failed job manually.
func (j *FileProcessingJobState) Fail(reason string, now time.Time) {
	j.status = StatusFailed
	j.errorMessage = reason
	j.lastProgressAt = &now
}

// IsStalled reports whether no progress has been recorded since before cutoff.
func (j *FileProcessingJobState) IsStalled(cutoff time.Time) bool {
	if j.status != StatusRunning {
		return false
	}
	if j.lastProgressAt == nil {
		return j.startedAt != nil && j.startedAt.Before(cutoff)
	}
	return j.lastProgressAt.Before(cutoff)
}

// ProcessedImageIDs returns a slice copy of the processed-set, for persistence.
func (j *FileProcessingJobState) ProcessedImageIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(j.processedImageIDs))
	for id := range j.processedImageIDs {
		out = append(out, id)
	}
	return out
}

// FailedImageIDs returns a slice copy of the failed-set, for persistence.
func (j *FileProcessingJobState) FailedImageIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(j.failedImageIDs))
	for id := range j.failedImageIDs {
		out = append(out, id)
	}
	return out
}
