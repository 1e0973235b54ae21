package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imageviewer/mediapipeline/internal/domain/backgroundjob"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

// BackgroundJobRepository persists the operator-visible umbrella over a
// collection-processing run's stages. Stages are stored as a single jsonb
// map column; AtomicIncrementStage still issues one conditional UPDATE per
// call so concurrent workers reporting progress on different stages never
// clobber each other's counters.
type BackgroundJobRepository struct {
	pool *pgxpool.Pool
}

// NewBackgroundJobRepository constructs a BackgroundJobRepository.
func NewBackgroundJobRepository(pool *pgxpool.Pool) *BackgroundJobRepository {
	return &BackgroundJobRepository{pool: pool}
}

// Create inserts a new background job row with no stages registered.
func (r *BackgroundJobRepository) Create(ctx context.Context, j *backgroundjob.BackgroundJob) error {
	db := GetDBTX(ctx, r.pool)
	_, err := db.Exec(ctx, `
		INSERT INTO background_jobs (id, job_type, status, stages, created_at, updated_at)
		VALUES ($1, $2, $3, '{}'::jsonb, $4, $5)
	`, j.ID, j.JobType, string(j.Status), j.CreatedAt, j.UpdatedAt)
	return err
}

// RegisterStage adds stageName with totalItems to the job's stages map and
// flips the job to Running if it was still Pending.
func (r *BackgroundJobRepository) RegisterStage(ctx context.Context, jobID uuid.UUID, stageName string, totalItems int) error {
	db := GetDBTX(ctx, r.pool)
	stage, err := json.Marshal(backgroundjob.Stage{TotalItems: totalItems, StartedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal stage: %w", err)
	}

	tag, err := db.Exec(ctx, `
		UPDATE background_jobs
		SET stages = jsonb_set(stages, ARRAY[$2], $3::jsonb),
		    status = CASE WHEN status = 'Pending' THEN 'Running' ELSE status END,
		    updated_at = $4
		WHERE id = $1
	`, jobID, stageName, stage, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AtomicIncrementStage advances stageName's completedItems counter by
// delta via a single conditional UPDATE, clamping at totalItems and
// rolling the job to Completed once every registered stage is done.
func (r *BackgroundJobRepository) AtomicIncrementStage(ctx context.Context, jobID uuid.UUID, stageName string, delta int) error {
	db := GetDBTX(ctx, r.pool)
	now := time.Now()

	tag, err := db.Exec(ctx, `
		UPDATE background_jobs
		SET stages = jsonb_set(
		        jsonb_set(
		            stages, ARRAY[$2, 'CompletedItems'],
		            (LEAST(
		                COALESCE((stages->$2->>'CompletedItems')::int, 0) + $3,
		                COALESCE((stages->$2->>'TotalItems')::int, 0)
		            ))::text::jsonb
		        ),
		        ARRAY[$2, 'CompletedAt'],
		        CASE
		            WHEN COALESCE((stages->$2->>'CompletedItems')::int, 0) + $3 >= COALESCE((stages->$2->>'TotalItems')::int, 0)
		            THEN to_jsonb($4::timestamptz)
		            ELSE COALESCE(stages->$2->'CompletedAt', 'null'::jsonb)
		        END
		    ),
		    status = CASE
		        WHEN COALESCE((stages->$2->>'CompletedItems')::int, 0) + $3 >= COALESCE((stages->$2->>'TotalItems')::int, 0)
		         AND NOT EXISTS (
		            SELECT 1 FROM jsonb_each(stages) AS s
		            WHERE s.key <> $2
		              AND COALESCE((s.value->>'CompletedItems')::int, 0) < COALESCE((s.value->>'TotalItems')::int, 0)
		        ) THEN 'Completed'
		        ELSE status
		    END,
		    updated_at = $4
		WHERE id = $1 AND stages ? $2
	`, jobID, stageName, delta, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewFieldError(shared.ErrNotFound, "stage_name", "unknown stage: "+stageName)
	}
	return nil
}

// GetByID loads one background job with its stages map.
func (r *BackgroundJobRepository) GetByID(ctx context.Context, jobID uuid.UUID) (*backgroundjob.BackgroundJob, error) {
	db := GetDBTX(ctx, r.pool)
	row := db.QueryRow(ctx, `
		SELECT id, job_type, status, stages, created_at, updated_at FROM background_jobs WHERE id = $1
	`, jobID)

	var (
		j          backgroundjob.BackgroundJob
		status     string
		stagesRaw  []byte
	)
	err := row.Scan(&j.ID, &j.JobType, &status, &stagesRaw, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, HandleNotFound(err)
	}
	j.Status = backgroundjob.Status(status)

	j.Stages = make(map[string]*backgroundjob.Stage)
	if len(stagesRaw) > 0 {
		if err := json.Unmarshal(stagesRaw, &j.Stages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
		}
	}
	return &j, nil
}

// Fail transitions a background job to Failed terminally.
func (r *BackgroundJobRepository) Fail(ctx context.Context, jobID uuid.UUID) error {
	db := GetDBTX(ctx, r.pool)
	tag, err := db.Exec(ctx, `UPDATE background_jobs SET status = 'Failed', updated_at = $2 WHERE id = $1`, jobID, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
