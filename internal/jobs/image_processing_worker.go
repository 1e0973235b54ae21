package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Enqueuer is the Message Broker Adapter surface the workers need: publish
// a pre-built task onto a named queue. Implemented by broker.Adapter.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, queue string) (*asynq.TaskInfo, error)
}

// ImageProcessingWorker fans one enumerated image out into its thumbnail
// (always) and cache (if enabled) generation messages (4.G worker #2).
type ImageProcessingWorker struct {
	enqueuer Enqueuer
}

// NewImageProcessingWorker constructs an ImageProcessingWorker.
func NewImageProcessingWorker(enqueuer Enqueuer) *ImageProcessingWorker {
	return &ImageProcessingWorker{enqueuer: enqueuer}
}

// ProcessTask handles one ImageProcessingPayload delivery.
func (w *ImageProcessingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageProcessingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal image processing payload: %w", err)
	}

	thumbTask, err := NewThumbnailGenerationTask(ThumbnailGenerationPayload{
		ImageID:         payload.ImageID,
		CollectionID:    payload.CollectionID,
		ContainerType:   payload.ContainerType,
		CollectionPath:  payload.CollectionPath,
		RelativePath:    payload.RelativePath,
		ImageFilename:   payload.ImageFilename,
		Width:           payload.ThumbnailWidth,
		Height:          payload.ThumbnailHeight,
		Quality:         payload.Quality,
		Format:          payload.Format,
		JobID:           payload.ThumbnailJobID,
		BackgroundJobID: payload.BackgroundJobID,
	})
	if err != nil {
		return fmt.Errorf("build thumbnail task: %w", err)
	}
	if _, err := w.enqueuer.Enqueue(ctx, thumbTask, QueueThumbnailGeneration); err != nil {
		return fmt.Errorf("enqueue thumbnail task: %w", err)
	}

	if !payload.EnableCache {
		return nil
	}

	cacheTask, err := NewCacheGenerationTask(CacheGenerationPayload{
		ImageID:         payload.ImageID,
		CollectionID:    payload.CollectionID,
		ContainerType:   payload.ContainerType,
		CollectionPath:  payload.CollectionPath,
		RelativePath:    payload.RelativePath,
		ImageFilename:   payload.ImageFilename,
		Width:           payload.CacheWidth,
		Height:          payload.CacheHeight,
		Quality:         payload.Quality,
		Format:          payload.Format,
		JobID:           payload.CacheJobID,
		BackgroundJobID: payload.BackgroundJobID,
	})
	if err != nil {
		return fmt.Errorf("build cache task: %w", err)
	}
	if _, err := w.enqueuer.Enqueue(ctx, cacheTask, QueueCacheGeneration); err != nil {
		return fmt.Errorf("enqueue cache task: %w", err)
	}
	return nil
}
