package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

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

const stageCache = "cache"

// CacheProcessor renders and persists one delivery (resized, re-encoded)
// cache derivative per delivery (4.G worker #4: Cache Generation Worker).
// Structurally a sibling of ThumbnailProcessor; kept as a separate type
// rather than parametrized because the two differ in dedupe key (ImageID
// alone vs (ImageID, Width, Height)) and cache-folder kind.
type CacheProcessor struct {
	renderer      derivative.Renderer
	allocator     *cachealloc.Allocator
	store         CollectionStore
	jobStateStore JobStateStore
	bgJobStore    BackgroundJobStore
	storage       storage.Storage
	broadcaster   *events.Broadcaster
}

// NewCacheProcessor constructs a CacheProcessor.
func NewCacheProcessor(
	renderer derivative.Renderer,
	allocator *cachealloc.Allocator,
	store CollectionStore,
	jobStateStore JobStateStore,
	bgJobStore BackgroundJobStore,
	strg storage.Storage,
	broadcaster *events.Broadcaster,
) *CacheProcessor {
	return &CacheProcessor{
		renderer:      renderer,
		allocator:     allocator,
		store:         store,
		jobStateStore: jobStateStore,
		bgJobStore:    bgJobStore,
		storage:       strg,
		broadcaster:   broadcaster,
	}
}

// ProcessTask handles one CacheGenerationPayload delivery, idempotently.
func (p *CacheProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CacheGenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal cache payload: %w", err)
	}

	already, err := p.jobStateStore.IsProcessed(ctx, payload.JobID, payload.ImageID)
	if err != nil {
		return fmt.Errorf("check processed state: %w", err)
	}
	if already {
		log.Printf("cache worker: image %s already processed for job %s, skipping", payload.ImageID, payload.JobID)
		return nil
	}

	if err := p.render(ctx, payload); err != nil {
		kind := shared.Kind(err)
		if ferr := p.jobStateStore.IncrementFailed(ctx, payload.JobID, payload.ImageID, kind); ferr != nil {
			log.Printf("cache worker: failed to record failure for image %s: %v", payload.ImageID, ferr)
		}
		if serr := p.bgJobStore.AtomicIncrementStage(ctx, payload.BackgroundJobID, stageCache, 1); serr != nil {
			log.Printf("cache worker: failed to advance stage counter for job %s: %v", payload.BackgroundJobID, serr)
		}
		p.broadcaster.Publish(payload.CollectionID, events.Event{
			Type:       "cache.failed",
			EntityID:   payload.ImageID.String(),
			EntityType: "image",
			JobID:      payload.BackgroundJobID,
			Data:       map[string]interface{}{"error": err.Error(), "kind": kind},
		})
		return err
	}

	return nil
}

func (p *CacheProcessor) render(ctx context.Context, payload CacheGenerationPayload) error {
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

	filename := fmt.Sprintf("%s_%dx%d_q%d.%s", payload.ImageID, result.Width, result.Height, payload.Quality, format)
	alloc, err := p.allocator.Allocate(ctx, cachefolder.KindCache, payload.CollectionID, filename, int64(len(result.Bytes)))
	if err != nil {
		return err
	}

	if err := p.storage.SaveBytes(ctx, alloc.FullPath, result.Bytes); err != nil {
		p.allocator.Release(ctx, alloc.FolderID, int64(len(result.Bytes)))
		return shared.NewDomainError(shared.ErrEncodeFailed, "failed to write cache image: "+err.Error())
	}

	added, err := p.store.AtomicAddCacheImage(ctx, payload.CollectionID, collection.EmbeddedCache{
		ImageID:     payload.ImageID,
		Width:       result.Width,
		Height:      result.Height,
		Format:      collection.Format(format),
		Quality:     payload.Quality,
		StoragePath: alloc.FullPath,
		FileSize:    int64(len(result.Bytes)),
		GeneratedAt: nowFunc(),
	})
	if err != nil {
		return fmt.Errorf("persist cache image: %w", err)
	}
	if !added {
		p.allocator.Release(ctx, alloc.FolderID, int64(len(result.Bytes)))
	}

	if err := p.jobStateStore.IncrementCompleted(ctx, payload.JobID, payload.ImageID, int64(len(result.Bytes))); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	if err := p.bgJobStore.AtomicIncrementStage(ctx, payload.BackgroundJobID, stageCache, 1); err != nil {
		log.Printf("cache worker: failed to advance stage counter for job %s: %v", payload.BackgroundJobID, err)
	}

	p.broadcaster.Publish(payload.CollectionID, events.Event{
		Type:       "cache.ready",
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
