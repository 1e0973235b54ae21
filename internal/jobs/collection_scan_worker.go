package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/imageviewer/mediapipeline/internal/domain/backgroundjob"
	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/domain/jobstate"
	"github.com/imageviewer/mediapipeline/internal/infra/archivereader"
	"github.com/imageviewer/mediapipeline/internal/infra/dedup"
	"github.com/imageviewer/mediapipeline/internal/infra/events"
)

// ScanCollectionStore is the Collection Store surface the scan worker
// needs: load the settings/path a collection was registered with and push
// enumerated images one at a time.
type ScanCollectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*collection.Collection, error)
	AtomicAddImage(ctx context.Context, collectionID uuid.UUID, img collection.EmbeddedImage) error
	ClearImageArrays(ctx context.Context, collectionID uuid.UUID) error
}

// ScanJobStateStore is the Job-State Store surface the scan worker uses to
// create and drive the per-stage tracking rows.
type ScanJobStateStore interface {
	Create(ctx context.Context, j *jobstate.FileProcessingJobState) error
	IncrementCompleted(ctx context.Context, jobID, imageID uuid.UUID, sizeBytes int64) error
	IncrementSkipped(ctx context.Context, jobID uuid.UUID) error
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status jobstate.Status, startedAt, completedAt *time.Time, canResume bool, errorMessage string) error
}

// ScanBackgroundJobStore is the umbrella-job surface the scan worker uses
// to register each downstream stage's expected item count.
type ScanBackgroundJobStore interface {
	Create(ctx context.Context, j *backgroundjob.BackgroundJob) error
	RegisterStage(ctx context.Context, jobID uuid.UUID, stageName string, totalItems int) error
}

// CollectionScanWorker enumerates a collection's backing store and fans
// each discovered image out into an image-processing message (4.G worker
// #1: Collection Scan Worker).
type CollectionScanWorker struct {
	collections ScanCollectionStore
	jobStates   ScanJobStateStore
	bgJobs      ScanBackgroundJobStore
	enqueuer    Enqueuer
	hasher      *dedup.Hasher
	broadcaster *events.Broadcaster
}

// NewCollectionScanWorker constructs a CollectionScanWorker.
func NewCollectionScanWorker(
	collections ScanCollectionStore,
	jobStates ScanJobStateStore,
	bgJobs ScanBackgroundJobStore,
	enqueuer Enqueuer,
	hasher *dedup.Hasher,
	broadcaster *events.Broadcaster,
) *CollectionScanWorker {
	return &CollectionScanWorker{
		collections: collections,
		jobStates:   jobStates,
		bgJobs:      bgJobs,
		enqueuer:    enqueuer,
		hasher:      hasher,
		broadcaster: broadcaster,
	}
}

// ProcessTask handles one CollectionScanPayload delivery.
func (w *CollectionScanWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CollectionScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal collection scan payload: %w", err)
	}

	c, err := w.collections.GetByID(ctx, payload.CollectionID)
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}

	if payload.ForceRescan {
		if err := w.collections.ClearImageArrays(ctx, c.ID); err != nil {
			return fmt.Errorf("clear image arrays before rescan: %w", err)
		}
	}

	images, dummyCount, err := w.enumerateImages(ctx, c)
	if err != nil {
		return fmt.Errorf("enumerate collection: %w", err)
	}

	// scanState tracks the scan stage itself (4.D/4.G's dummy-entry
	// contract): every non-image entry increments skippedImages and
	// dummyEntryCount, every image increments completedImages, so the
	// monitor's sweep can flip this job to Completed the same way it does
	// for the thumbnail/cache stages.
	scanState, err := jobstate.New(c.ID, jobstate.JobTypeScan, len(images)+dummyCount)
	if err != nil {
		return fmt.Errorf("build scan job state: %w", err)
	}
	if err := w.jobStates.Create(ctx, scanState); err != nil {
		return fmt.Errorf("persist scan job state: %w", err)
	}
	for i := 0; i < dummyCount; i++ {
		if err := w.jobStates.IncrementSkipped(ctx, scanState.JobID()); err != nil {
			log.Printf("scan worker: failed to record dummy entry for job %s: %v", scanState.JobID(), err)
		}
	}

	bgJob, err := backgroundjob.New("collection_processing")
	if err != nil {
		return fmt.Errorf("build background job: %w", err)
	}
	if err := w.bgJobs.Create(ctx, bgJob); err != nil {
		return fmt.Errorf("persist background job: %w", err)
	}
	if err := w.bgJobs.RegisterStage(ctx, bgJob.ID, "scan", len(images)); err != nil {
		return fmt.Errorf("register scan stage: %w", err)
	}
	if err := w.bgJobs.RegisterStage(ctx, bgJob.ID, stageThumbnails, len(images)); err != nil {
		return fmt.Errorf("register thumbnails stage: %w", err)
	}
	cacheStageTotal := 0
	if c.Settings.EnableCache {
		cacheStageTotal = len(images)
	}
	if err := w.bgJobs.RegisterStage(ctx, bgJob.ID, stageCache, cacheStageTotal); err != nil {
		return fmt.Errorf("register cache stage: %w", err)
	}

	thumbState, err := jobstate.New(c.ID, jobstate.JobTypeThumbnail, len(images))
	if err != nil {
		return fmt.Errorf("build thumbnail job state: %w", err)
	}
	if err := w.jobStates.Create(ctx, thumbState); err != nil {
		return fmt.Errorf("persist thumbnail job state: %w", err)
	}

	cacheState, err := jobstate.New(c.ID, jobstate.JobTypeCache, len(images))
	if err != nil {
		return fmt.Errorf("build cache job state: %w", err)
	}
	if err := w.jobStates.Create(ctx, cacheState); err != nil {
		return fmt.Errorf("persist cache job state: %w", err)
	}

	for _, img := range images {
		if err := w.collections.AtomicAddImage(ctx, c.ID, img); err != nil {
			return fmt.Errorf("persist enumerated image %s: %w", img.RelativePath, err)
		}
		if err := w.jobStates.IncrementCompleted(ctx, scanState.JobID(), img.ID, img.FileSize); err != nil {
			log.Printf("scan worker: failed to record scan completion for image %s: %v", img.ID, err)
		}

		task, err := NewImageProcessingTask(ImageProcessingPayload{
			ImageID:         img.ID,
			CollectionID:    c.ID,
			ContainerType:   string(c.Type),
			CollectionPath:  c.Path,
			RelativePath:    img.RelativePath,
			ImageFilename:   img.Filename,
			ThumbnailJobID:  thumbState.JobID(),
			CacheJobID:      cacheState.JobID(),
			BackgroundJobID: bgJob.ID,
			ThumbnailWidth:  c.Settings.ThumbnailWidth,
			ThumbnailHeight: c.Settings.ThumbnailHeight,
			CacheWidth:      c.Settings.CacheWidth,
			CacheHeight:     c.Settings.CacheHeight,
			Quality:         c.Settings.Quality,
			EnableCache:     c.Settings.EnableCache,
			Format:          string(c.Settings.Format),
		})
		if err != nil {
			return fmt.Errorf("build image processing task: %w", err)
		}
		if _, err := w.enqueuer.Enqueue(ctx, task, QueueImageProcessing); err != nil {
			return fmt.Errorf("enqueue image processing task: %w", err)
		}
	}

	now := time.Now()
	if err := w.jobStates.UpdateStatus(ctx, scanState.JobID(), jobstate.StatusRunning, &now, nil, true, ""); err != nil {
		log.Printf("scan worker: failed to mark scan job running: %v", err)
	}
	if err := w.jobStates.UpdateStatus(ctx, thumbState.JobID(), jobstate.StatusRunning, &now, nil, true, ""); err != nil {
		log.Printf("scan worker: failed to mark thumbnail job running: %v", err)
	}
	if c.Settings.EnableCache {
		if err := w.jobStates.UpdateStatus(ctx, cacheState.JobID(), jobstate.StatusRunning, &now, nil, true, ""); err != nil {
			log.Printf("scan worker: failed to mark cache job running: %v", err)
		}
	}

	w.broadcaster.Publish(c.ID, events.Event{
		Type:       "collection.scanned",
		EntityID:   c.ID.String(),
		EntityType: "collection",
		JobID:      bgJob.ID,
		Data:       map[string]interface{}{"image_count": len(images)},
	})
	return nil
}

// enumerateImages walks the collection's backing store once, building the
// EmbeddedImage records the Collection Store's atomic push operators will
// persist. Width/Height are left zero here: the scan never decodes pixel
// data, only classifies entries by extension; a derivative worker fills
// actual dimensions in once it renders the image.
func (w *CollectionScanWorker) enumerateImages(ctx context.Context, c *collection.Collection) ([]collection.EmbeddedImage, int, error) {
	it, err := archivereader.Enumerate(c.Path, archivereader.ContainerType(c.Type))
	if err != nil {
		return nil, 0, err
	}
	defer it.Close()

	var images []collection.EmbeddedImage
	var seen []dedup.Candidate
	dummyCount := 0

	for {
		entry, ok, err := it.Next()
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			break
		}
		if !entry.IsLikelyImage {
			dummyCount++
			continue
		}

		img := collection.EmbeddedImage{
			ID:           uuid.New(),
			Filename:     innerFilename(entry.RelativePath),
			RelativePath: entry.RelativePath,
			FileSize:     entry.SizeHint,
			Format:       strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.RelativePath), ".")),
		}

		if w.hasher != nil {
			w.flagDuplicates(ctx, c, entry, img, &seen)
		}

		images = append(images, img)
	}
	return images, dummyCount, nil
}

// innerFilename extracts the base filename from a RelativePath, which for
// archive entries is the compound `<archivePath>#<innerPath>` form (see
// archivereader's Entry doc comment) and for plain directory entries is
// just the path itself. Splitting on the last "#" before taking the base
// name is required for flat (non-nested) archive entries: a bare
// filepath.Base would otherwise treat the whole "archive.zip#page_001.jpg"
// string as one filename, since it has no "/" to split on.
func innerFilename(relativePath string) string {
	if idx := strings.LastIndex(relativePath, "#"); idx != -1 {
		relativePath = relativePath[idx+1:]
	}
	return filepath.Base(relativePath)
}

// flagDuplicates hashes one entry's bytes and compares them against every
// hash seen earlier in this scan, publishing an event rather than blocking
// ingestion — annotation only, per internal/infra/dedup's doc comment.
func (w *CollectionScanWorker) flagDuplicates(ctx context.Context, c *collection.Collection, entry archivereader.Entry, img collection.EmbeddedImage, seen *[]dedup.Candidate) {
	rc, err := entry.Open()
	if err != nil {
		return
	}
	defer rc.Close()

	data, err := readAllLimited(rc, archivereader.MaxArchiveEntryBytes)
	if err != nil {
		return
	}

	hash, err := w.hasher.Hash(data)
	if err != nil {
		return
	}

	if matches := w.hasher.FindSimilar(hash, *seen); len(matches) > 0 {
		w.broadcaster.Publish(c.ID, events.Event{
			Type:       "image.duplicate_candidate",
			EntityID:   img.ID.String(),
			EntityType: "image",
			Data: map[string]interface{}{
				"matches": matches,
			},
		})
	}
	*seen = append(*seen, dedup.Candidate{ImageID: img.ID.String(), Hash: hash})
}
