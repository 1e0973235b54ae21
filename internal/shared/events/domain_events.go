package events

import (
	"github.com/google/uuid"
)

// CollectionScannedEvent is published when a collection-scan run finishes
// enumerating entries and the image list has been persisted.
type CollectionScannedEvent struct {
	BaseEvent
	JobID           uuid.UUID
	TotalImages     int
	DummyEntryCount int
}

func (e CollectionScannedEvent) EventName() string { return "collection.scanned" }

// NewCollectionScannedEvent creates a new CollectionScannedEvent.
func NewCollectionScannedEvent(collectionID, jobID uuid.UUID, totalImages, dummyEntryCount int) CollectionScannedEvent {
	return CollectionScannedEvent{
		BaseEvent:       NewBaseEvent(collectionID),
		JobID:           jobID,
		TotalImages:     totalImages,
		DummyEntryCount: dummyEntryCount,
	}
}

// ThumbnailGeneratedEvent is published after a thumbnail is written and
// pushed onto the collection's embedded thumbnail array.
type ThumbnailGeneratedEvent struct {
	BaseEvent
	JobID   uuid.UUID
	ImageID uuid.UUID
	Width   int
	Height  int
}

func (e ThumbnailGeneratedEvent) EventName() string { return "thumbnail.generated" }

// NewThumbnailGeneratedEvent creates a new ThumbnailGeneratedEvent.
func NewThumbnailGeneratedEvent(collectionID, jobID, imageID uuid.UUID, width, height int) ThumbnailGeneratedEvent {
	return ThumbnailGeneratedEvent{
		BaseEvent: NewBaseEvent(collectionID),
		JobID:     jobID,
		ImageID:   imageID,
		Width:     width,
		Height:    height,
	}
}

// CacheGeneratedEvent is published after a cache derivative is written and
// pushed onto the collection's embedded cache array.
type CacheGeneratedEvent struct {
	BaseEvent
	JobID   uuid.UUID
	ImageID uuid.UUID
	Width   int
	Height  int
	Format  string
}

func (e CacheGeneratedEvent) EventName() string { return "cache.generated" }

// NewCacheGeneratedEvent creates a new CacheGeneratedEvent.
func NewCacheGeneratedEvent(collectionID, jobID, imageID uuid.UUID, width, height int, format string) CacheGeneratedEvent {
	return CacheGeneratedEvent{
		BaseEvent: NewBaseEvent(collectionID),
		JobID:     jobID,
		ImageID:   imageID,
		Width:     width,
		Height:    height,
		Format:    format,
	}
}

// ImageProcessingFailedEvent is published when a render-deterministic error
// causes an image to be recorded as failed rather than retried.
type ImageProcessingFailedEvent struct {
	BaseEvent
	JobID     uuid.UUID
	ImageID   uuid.UUID
	ErrorKind string
}

func (e ImageProcessingFailedEvent) EventName() string { return "image.processing_failed" }

// NewImageProcessingFailedEvent creates a new ImageProcessingFailedEvent.
func NewImageProcessingFailedEvent(collectionID, jobID, imageID uuid.UUID, errorKind string) ImageProcessingFailedEvent {
	return ImageProcessingFailedEvent{
		BaseEvent: NewBaseEvent(collectionID),
		JobID:     jobID,
		ImageID:   imageID,
		ErrorKind: errorKind,
	}
}

// JobStalledEvent is published by the monitor's periodic sweep when a
// running job has made no progress for longer than the stale threshold.
type JobStalledEvent struct {
	BaseEvent
	JobID          uuid.UUID
	LastProgressAt string
}

func (e JobStalledEvent) EventName() string { return "job.stalled" }

// NewJobStalledEvent creates a new JobStalledEvent.
func NewJobStalledEvent(collectionID, jobID uuid.UUID, lastProgressAt string) JobStalledEvent {
	return JobStalledEvent{
		BaseEvent:      NewBaseEvent(collectionID),
		JobID:          jobID,
		LastProgressAt: lastProgressAt,
	}
}

// JobCompletedEvent is published by the monitor's periodic sweep when a
// job reaches its terminal condition (completed+failed+skipped == total).
type JobCompletedEvent struct {
	BaseEvent
	JobID          uuid.UUID
	CompletedCount int
	FailedCount    int
	SkippedCount   int
}

func (e JobCompletedEvent) EventName() string { return "job.completed" }

// NewJobCompletedEvent creates a new JobCompletedEvent.
func NewJobCompletedEvent(collectionID, jobID uuid.UUID, completed, failed, skipped int) JobCompletedEvent {
	return JobCompletedEvent{
		BaseEvent:      NewBaseEvent(collectionID),
		JobID:          jobID,
		CompletedCount: completed,
		FailedCount:    failed,
		SkippedCount:   skipped,
	}
}
