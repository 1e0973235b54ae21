package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/domain/jobstate"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

// JobStateRepository is the Job-State Store of 4.D: processedImageIds and
// failedImageIds live as jsonb arrays on the file_processing_job_states
// row, mutated by a single conditional UPDATE per delivery so a redelivered
// message is a guaranteed no-op rather than a double count (P2).
type JobStateRepository struct {
	pool *pgxpool.Pool
}

// NewJobStateRepository constructs a JobStateRepository.
func NewJobStateRepository(pool *pgxpool.Pool) *JobStateRepository {
	return &JobStateRepository{pool: pool}
}

// Create inserts a new pending job-state row.
func (r *JobStateRepository) Create(ctx context.Context, j *jobstate.FileProcessingJobState) error {
	db := GetDBTX(ctx, r.pool)

	errSummary, err := json.Marshal(j.ErrorSummary())
	if err != nil {
		return fmt.Errorf("failed to marshal error summary: %w", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO file_processing_job_states (
		    job_id, job_type, collection_id, status, total_images, completed_images,
		    failed_images, skipped_images, total_size_bytes, processed_image_ids,
		    failed_image_ids, error_summary, dummy_entry_count, started_at,
		    last_progress_at, completed_at, can_resume, error_message
		) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, '[]'::jsonb, '[]'::jsonb, $6::jsonb, 0, NULL, NULL, NULL, $7, '')
	`, j.JobID(), string(j.JobType()), j.CollectionID(), string(j.Status()), j.TotalImages(), errSummary, j.CanResume())
	return err
}

// GetByID loads one job-state row and reconstructs the aggregate.
func (r *JobStateRepository) GetByID(ctx context.Context, jobID uuid.UUID) (*jobstate.FileProcessingJobState, error) {
	db := GetDBTX(ctx, r.pool)
	row := db.QueryRow(ctx, jobStateSelectColumns+` FROM file_processing_job_states WHERE job_id = $1`, jobID)
	return scanJobState(row)
}

const jobStateSelectColumns = `
	SELECT job_id, job_type, collection_id, status, total_images, completed_images,
	    failed_images, skipped_images, total_size_bytes, processed_image_ids,
	    failed_image_ids, error_summary, dummy_entry_count, started_at,
	    last_progress_at, completed_at, can_resume, error_message`

func scanJobState(row scannable) (*jobstate.FileProcessingJobState, error) {
	var (
		jobID, collectionID                           uuid.UUID
		jobType, status, errorMessage                  string
		totalImages, completedImages, failedImages, skippedImages, dummyEntryCount int
		totalSizeBytes                                 int64
		processedRaw, failedRaw, errSummaryRaw         []byte
		startedAt, lastProgressAt, completedAt         *time.Time
		canResume                                      bool
	)

	err := row.Scan(&jobID, &jobType, &collectionID, &status, &totalImages, &completedImages,
		&failedImages, &skippedImages, &totalSizeBytes, &processedRaw, &failedRaw, &errSummaryRaw,
		&dummyEntryCount, &startedAt, &lastProgressAt, &completedAt, &canResume, &errorMessage)
	if err != nil {
		return nil, HandleNotFound(err)
	}

	var processedIDs, failedIDs []uuid.UUID
	if len(processedRaw) > 0 {
		if err := json.Unmarshal(processedRaw, &processedIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal processed image ids: %w", err)
		}
	}
	if len(failedRaw) > 0 {
		if err := json.Unmarshal(failedRaw, &failedIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failed image ids: %w", err)
		}
	}
	errorSummary := make(map[string]int)
	if len(errSummaryRaw) > 0 {
		if err := json.Unmarshal(errSummaryRaw, &errorSummary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error summary: %w", err)
		}
	}

	return jobstate.Reconstruct(
		jobID, jobstate.JobType(jobType), collectionID, jobstate.Status(status),
		totalImages, completedImages, failedImages, skippedImages, totalSizeBytes,
		processedIDs, failedIDs, errorSummary, dummyEntryCount,
		startedAt, lastProgressAt, completedAt, canResume, errorMessage,
	), nil
}

// IsProcessed is a fast membership probe a consumer worker can run before
// doing any expensive work, equivalent to FileProcessingJobState.IsProcessed
// but without loading the whole row.
func (r *JobStateRepository) IsProcessed(ctx context.Context, jobID, imageID uuid.UUID) (bool, error) {
	db := GetDBTX(ctx, r.pool)
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT (processed_image_ids @> to_jsonb(ARRAY[$2]::text[])) OR (failed_image_ids @> to_jsonb(ARRAY[$2]::text[]))
		FROM file_processing_job_states WHERE job_id = $1
	`, jobID, imageID.String()).Scan(&exists)
	return exists, err
}

// IncrementCompleted performs the "add-to-set + increment" operator 4.D
// describes as a single conditional UPDATE: it is a no-op (zero rows
// affected) if imageID is already present in either set, making a
// redelivered message idempotent without a prior read.
func (r *JobStateRepository) IncrementCompleted(ctx context.Context, jobID, imageID uuid.UUID, sizeBytes int64) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		UPDATE file_processing_job_states
		SET processed_image_ids = processed_image_ids || to_jsonb(ARRAY[$2::text]),
		    completed_images = completed_images + 1,
		    total_size_bytes = total_size_bytes + $3,
		    last_progress_at = $4
		WHERE job_id = $1
		  AND NOT processed_image_ids @> to_jsonb(ARRAY[$2::text])
		  AND NOT failed_image_ids @> to_jsonb(ARRAY[$2::text])
	`, jobID, imageID.String(), sizeBytes, time.Now())
	return err
}

// IncrementFailed records imageID as failed, bucketing errKind into
// error_summary, idempotently per the same guard IncrementCompleted uses.
func (r *JobStateRepository) IncrementFailed(ctx context.Context, jobID, imageID uuid.UUID, errKind string) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		UPDATE file_processing_job_states
		SET failed_image_ids = failed_image_ids || to_jsonb(ARRAY[$2::text]),
		    failed_images = failed_images + 1,
		    error_summary = jsonb_set(
		        COALESCE(error_summary, '{}'::jsonb), ARRAY[$3],
		        (COALESCE((error_summary->>$3)::int, 0) + 1)::text::jsonb
		    ),
		    error_message = $3,
		    last_progress_at = $4
		WHERE job_id = $1
		  AND NOT processed_image_ids @> to_jsonb(ARRAY[$2::text])
		  AND NOT failed_image_ids @> to_jsonb(ARRAY[$2::text])
	`, jobID, imageID.String(), errKind, time.Now())
	return err
}

// IncrementSkipped records one dummy/unsupported entry.
func (r *JobStateRepository) IncrementSkipped(ctx context.Context, jobID uuid.UUID) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		UPDATE file_processing_job_states
		SET skipped_images = skipped_images + 1, dummy_entry_count = dummy_entry_count + 1, last_progress_at = $2
		WHERE job_id = $1
	`, jobID, time.Now())
	return err
}

// UpdateStatus persists a status transition plus its timestamp side effects.
func (r *JobStateRepository) UpdateStatus(ctx context.Context, jobID uuid.UUID, status jobstate.Status, startedAt, completedAt *time.Time, canResume bool, errorMessage string) error {
	db := GetDBTX(ctx, r.pool)
	tag, err := db.Exec(ctx, `
		UPDATE file_processing_job_states
		SET status = $2,
		    started_at = COALESCE(started_at, $3),
		    completed_at = $4,
		    can_resume = $5,
		    error_message = $6,
		    last_progress_at = $7
		WHERE job_id = $1
	`, jobID, string(status), startedAt, completedAt, canResume, errorMessage, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetIncompleteJobs returns every job-state row still resumable (Running
// or Paused with canResume = true), the Resume Coordinator's startup query.
func (r *JobStateRepository) GetIncompleteJobs(ctx context.Context) ([]*jobstate.FileProcessingJobState, error) {
	db := GetDBTX(ctx, r.pool)
	rows, err := db.Query(ctx, jobStateSelectColumns+`
		FROM file_processing_job_states
		WHERE can_resume = true AND status IN ('Running', 'Paused')
		ORDER BY last_progress_at ASC NULLS FIRST
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*jobstate.FileProcessingJobState
	for rows.Next() {
		j, err := scanJobState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GetStaleJobs returns Running jobs whose last_progress_at predates cutoff,
// the Progress/Monitor sweep's stall-detection query.
func (r *JobStateRepository) GetStaleJobs(ctx context.Context, cutoff time.Time) ([]*jobstate.FileProcessingJobState, error) {
	db := GetDBTX(ctx, r.pool)
	rows, err := db.Query(ctx, jobStateSelectColumns+`
		FROM file_processing_job_states
		WHERE status = 'Running'
		  AND COALESCE(last_progress_at, started_at) < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*jobstate.FileProcessingJobState
	for rows.Next() {
		j, err := scanJobState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteOldCompleted removes Completed job-state rows older than before,
// the retention sweep systemsettings.Defaults.RetentionCutoff drives.
func (r *JobStateRepository) DeleteOldCompleted(ctx context.Context, before time.Time) (int64, error) {
	db := GetDBTX(ctx, r.pool)
	tag, err := db.Exec(ctx, `
		DELETE FROM file_processing_job_states WHERE status = 'Completed' AND completed_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
