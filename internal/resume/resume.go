// Package resume is the Resume Coordinator of 4.I: on process startup, it
// re-enqueues exactly the unprocessed work for every job left incomplete
// by a prior crash, without reprocessing anything already recorded in the
// Job-State Store (P6). Modeled on the teacher's graceful-startup
// sequencing in cmd/worker/main.go: connect, verify, wire, then run once
// before the asynq server begins pulling from queues.
package resume

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/domain/jobstate"
	"github.com/imageviewer/mediapipeline/internal/jobs"
)

// CollectionStore is the Collection Store surface the coordinator needs:
// the image list and derivative settings a resumed job re-enqueues against.
type CollectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*collection.Collection, error)
}

// JobStateStore is the Job-State Store surface the coordinator needs.
type JobStateStore interface {
	GetIncompleteJobs(ctx context.Context) ([]*jobstate.FileProcessingJobState, error)
	IsProcessed(ctx context.Context, jobID, imageID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status jobstate.Status, startedAt, completedAt *time.Time, canResume bool, errorMessage string) error
}

// Coordinator implements 4.I.
type Coordinator struct {
	collections CollectionStore
	jobStates   JobStateStore
	enqueuer    jobs.Enqueuer
}

// New constructs a Coordinator.
func New(collections CollectionStore, jobStates JobStateStore, enqueuer jobs.Enqueuer) *Coordinator {
	return &Coordinator{collections: collections, jobStates: jobStates, enqueuer: enqueuer}
}

// Result summarizes one Resume run for startup logging.
type Result struct {
	JobsResumed    int
	MessagesQueued int
	JobsSkipped    int
}

// Resume re-enqueues unprocessed work for every incomplete, resumable job.
// Runs once, synchronously, before the asynq server starts consuming.
func (c *Coordinator) Resume(ctx context.Context) (Result, error) {
	incomplete, err := c.jobStates.GetIncompleteJobs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list incomplete jobs: %w", err)
	}

	var result Result
	for _, j := range incomplete {
		queued, err := c.resumeOne(ctx, j)
		if err != nil {
			log.Printf("resume: job %s (%s): %v", j.JobID(), j.JobType(), err)
			result.JobsSkipped++
			continue
		}
		result.JobsResumed++
		result.MessagesQueued += queued
	}
	return result, nil
}

func (c *Coordinator) resumeOne(ctx context.Context, j *jobstate.FileProcessingJobState) (int, error) {
	coll, err := c.collections.GetByID(ctx, j.CollectionID())
	if err != nil {
		return 0, fmt.Errorf("load collection %s: %w", j.CollectionID(), err)
	}

	queued := 0
	for _, img := range coll.Images {
		if img.IsDeleted {
			continue
		}
		already, err := c.jobStates.IsProcessed(ctx, j.JobID(), img.ID)
		if err != nil {
			return queued, fmt.Errorf("check processed state for image %s: %w", img.ID, err)
		}
		if already {
			continue
		}

		if err := c.enqueueDerivative(ctx, j, coll, img); err != nil {
			log.Printf("resume: image %s: %v", img.ID, err)
			continue
		}
		queued++
	}

	if err := c.markRunning(ctx, j); err != nil {
		return queued, fmt.Errorf("mark job %s running: %w", j.JobID(), err)
	}
	return queued, nil
}

// enqueueDerivative re-publishes the single derivative message img is still
// missing. BackgroundJobID is left zero-valued: the resumed message still
// advances the Job-State Store's counters (the authority P6 cares about),
// it just does not also bump the original run's BackgroundJob stage
// tally — that operator-visible aggregate is allowed to undercount after a
// crash, a tradeoff recorded in DESIGN.md.
func (c *Coordinator) enqueueDerivative(ctx context.Context, j *jobstate.FileProcessingJobState, coll *collection.Collection, img collection.EmbeddedImage) error {
	switch j.JobType() {
	case jobstate.JobTypeThumbnail:
		task, err := jobs.NewThumbnailGenerationTask(jobs.ThumbnailGenerationPayload{
			ImageID:        img.ID,
			CollectionID:   coll.ID,
			ContainerType:  string(coll.Type),
			CollectionPath: coll.Path,
			RelativePath:   img.RelativePath,
			ImageFilename:  img.Filename,
			Width:          coll.Settings.ThumbnailWidth,
			Height:         coll.Settings.ThumbnailHeight,
			Quality:        coll.Settings.Quality,
			Format:         string(coll.Settings.Format),
			JobID:          j.JobID(),
		})
		if err != nil {
			return err
		}
		_, err = c.enqueuer.Enqueue(ctx, task, jobs.QueueThumbnailGeneration)
		return err

	case jobstate.JobTypeCache:
		if !coll.Settings.EnableCache {
			return nil
		}
		task, err := jobs.NewCacheGenerationTask(jobs.CacheGenerationPayload{
			ImageID:        img.ID,
			CollectionID:   coll.ID,
			ContainerType:  string(coll.Type),
			CollectionPath: coll.Path,
			RelativePath:   img.RelativePath,
			ImageFilename:  img.Filename,
			Width:          coll.Settings.CacheWidth,
			Height:         coll.Settings.CacheHeight,
			Quality:        coll.Settings.Quality,
			Format:         string(coll.Settings.Format),
			JobID:          j.JobID(),
		})
		if err != nil {
			return err
		}
		_, err = c.enqueuer.Enqueue(ctx, task, jobs.QueueCacheGeneration)
		return err

	default:
		return fmt.Errorf("unsupported resumable job type: %s", j.JobType())
	}
}

func (c *Coordinator) markRunning(ctx context.Context, j *jobstate.FileProcessingJobState) error {
	return c.jobStates.UpdateStatus(ctx, j.JobID(), jobstate.StatusRunning, j.StartedAt(), j.CompletedAt(), true, j.ErrorMessage())
}
