package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/imageviewer/mediapipeline/internal/domain/cachefolder"
	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/infra/archivereader"
	"github.com/imageviewer/mediapipeline/internal/infra/cachealloc"
	"github.com/imageviewer/mediapipeline/internal/infra/derivative"
	"github.com/imageviewer/mediapipeline/internal/infra/events"
	"github.com/imageviewer/mediapipeline/internal/infra/storage"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

// CollectionStore is the Collection Store surface the derivative workers
// need: the atomic push operators for one image's generated artifacts.
type CollectionStore interface {
	AtomicAddThumbnail(ctx context.Context, collectionID uuid.UUID, t collection.EmbeddedThumbnail) (bool, error)
	AtomicAddCacheImage(ctx context.Context, collectionID uuid.UUID, c collection.EmbeddedCache) (bool, error)
}

// JobStateStore is the Job-State Store surface a derivative worker reports
// completion/failure against.
type JobStateStore interface {
	IsProcessed(ctx context.Context, jobID, imageID uuid.UUID) (bool, error)
	IncrementCompleted(ctx context.Context, jobID, imageID uuid.UUID, sizeBytes int64) error
	IncrementFailed(ctx context.Context, jobID, imageID uuid.UUID, errKind string) error
}

// BackgroundJobStore is the per-run umbrella stage tracker a derivative
// worker advances after every delivery, success or failure alike.
type BackgroundJobStore interface {
	AtomicIncrementStage(ctx context.Context, jobID uuid.UUID, stageName string, delta int) error
}

// ThumbnailProcessor renders and persists one thumbnail derivative per
// delivery (4.G worker #3: Thumbnail Generation Worker).
type ThumbnailProcessor struct {
	renderer      derivative.Renderer
	allocator     *cachealloc.Allocator
	store         CollectionStore
	jobStateStore JobStateStore
	bgJobStore    BackgroundJobStore
	storage       storage.Storage
	broadcaster   *events.Broadcaster
}

// NewThumbnailProcessor constructs a ThumbnailProcessor.
func NewThumbnailProcessor(
	renderer derivative.Renderer,
	allocator *cachealloc.Allocator,
	store CollectionStore,
	jobStateStore JobStateStore,
	bgJobStore BackgroundJobStore,
	strg storage.Storage,
	broadcaster *events.Broadcaster,
) *ThumbnailProcessor {
	return &ThumbnailProcessor{
		renderer:      renderer,
		allocator:     allocator,
		store:         store,
		jobStateStore: jobStateStore,
		bgJobStore:    bgJobStore,
		storage:       strg,
		broadcaster:   broadcaster,
	}
}

const stageThumbnails = "thumbnails"

// ProcessTask handles one ThumbnailGenerationPayload delivery, idempotently:
// a redelivery for an already-processed image is a no-op (P2).
func (p *ThumbnailProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ThumbnailGenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal thumbnail payload: %w", err)
	}

	already, err := p.jobStateStore.IsProcessed(ctx, payload.JobID, payload.ImageID)
	if err != nil {
		return fmt.Errorf("check processed state: %w", err)
	}
	if already {
		log.Printf("thumbnail worker: image %s already processed for job %s, skipping", payload.ImageID, payload.JobID)
		return nil
	}

	if err := p.render(ctx, payload); err != nil {
		kind := shared.Kind(err)
		if ferr := p.jobStateStore.IncrementFailed(ctx, payload.JobID, payload.ImageID, kind); ferr != nil {
			log.Printf("thumbnail worker: failed to record failure for image %s: %v", payload.ImageID, ferr)
		}
		if serr := p.bgJobStore.AtomicIncrementStage(ctx, payload.BackgroundJobID, stageThumbnails, 1); serr != nil {
			log.Printf("thumbnail worker: failed to advance stage counter for job %s: %v", payload.BackgroundJobID, serr)
		}
		p.broadcaster.Publish(payload.CollectionID, events.Event{
			Type:       "thumbnail.failed",
			EntityID:   payload.ImageID.String(),
			EntityType: "image",
			JobID:      payload.BackgroundJobID,
			Data:       map[string]interface{}{"error": err.Error(), "kind": kind},
		})
		return err
	}

	return nil
}

func (p *ThumbnailProcessor) render(ctx context.Context, payload ThumbnailGenerationPayload) error {
	rc, err := archivereader.OpenEntry(payload.CollectionPath, archivereader.ContainerType(payload.ContainerType), payload.RelativePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	sourceBytes, err := readAllLimited(rc, archivereader.MaxArchiveEntryBytes)
	if err != nil {
		return err
	}

	format, err := derivative.ParseFormat(payload.Format)
	if err != nil {
		return err
	}

	result, err := p.renderer.Render(sourceBytes, derivative.Spec{
		TargetWidth:  payload.Width,
		TargetHeight: payload.Height,
		Format:       format,
		Quality:      payload.Quality,
		FitMode:      derivative.FitInside,
	})
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("%s_thumb_%dx%d.%s", payload.ImageID, result.Width, result.Height, format)
	alloc, err := p.allocator.Allocate(ctx, cachefolder.KindThumbnail, payload.CollectionID, filename, int64(len(result.Bytes)))
	if err != nil {
		return err
	}

	if err := p.storage.SaveBytes(ctx, alloc.FullPath, result.Bytes); err != nil {
		p.allocator.Release(ctx, alloc.FolderID, int64(len(result.Bytes)))
		return shared.NewDomainError(shared.ErrEncodeFailed, "failed to write thumbnail: "+err.Error())
	}

	generatedAt := nowFunc()
	added, err := p.store.AtomicAddThumbnail(ctx, payload.CollectionID, collection.EmbeddedThumbnail{
		ImageID:     payload.ImageID,
		Width:       result.Width,
		Height:      result.Height,
		Format:      collection.Format(format),
		Quality:     payload.Quality,
		StoragePath: alloc.FullPath,
		FileSize:    int64(len(result.Bytes)),
		GeneratedAt: generatedAt,
	})
	if err != nil {
		return fmt.Errorf("persist thumbnail: %w", err)
	}
	if !added {
		// Lost a race to a concurrent redelivery that already wrote this
		// (imageId, width, height) triple; release the capacity we just
		// reserved rather than leaking it.
		p.allocator.Release(ctx, alloc.FolderID, int64(len(result.Bytes)))
	}

	if err := p.jobStateStore.IncrementCompleted(ctx, payload.JobID, payload.ImageID, int64(len(result.Bytes))); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	if err := p.bgJobStore.AtomicIncrementStage(ctx, payload.BackgroundJobID, stageThumbnails, 1); err != nil {
		log.Printf("thumbnail worker: failed to advance stage counter for job %s: %v", payload.BackgroundJobID, err)
	}

	p.broadcaster.Publish(payload.CollectionID, events.Event{
		Type:       "thumbnail.ready",
		EntityID:   payload.ImageID.String(),
		EntityType: "image",
		JobID:      payload.BackgroundJobID,
		Data: map[string]interface{}{
			"width":  result.Width,
			"height": result.Height,
			"path":   alloc.FullPath,
		},
	})
	return nil
}
