package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type constants, one per queue in 4.F's message broker table. asynq
// task type doubles as the routing key: there is no separate exchange
// declaration, asynq dispatches purely on task type + queue name.
const (
	TypeCollectionCreation   = "collection.creation"
	TypeCollectionScan       = "collection.scan"
	TypeImageProcessing      = "image.processing"
	TypeThumbnailGeneration  = "thumbnail.generation"
	TypeCacheGeneration      = "cache.generation"
)

// Queue names. All five task types share one queue per type rather than
// a priority band, matching 4.F's per-queue independent-scaling design.
const (
	QueueCollectionCreation  = "collection_creation"
	QueueCollectionScan      = "collection_scan"
	QueueImageProcessing     = "image_processing"
	QueueThumbnailGeneration = "thumbnail_generation"
	QueueCacheGeneration     = "cache_generation"
)

// maxRetryCount bounds redelivery attempts per 4.F before a message is
// routed to asynq's archived-task state, the adapter's DLX equivalent.
const maxRetryCount = 3

// defaultTaskTimeout bounds how long a single delivery may run before
// asynq considers it stuck and redelivers it.
const defaultTaskTimeout = 10 * time.Minute

// Envelope carries the message-envelope fields 4.F mandates on every asynq
// payload, independent of the domain-specific fields a payload struct
// embeds it into: an id and timestamps for tracing/dedup, the message type
// for consumers that fan in multiple task types onto one handler, and an
// optional correlationId threading related deliveries (e.g. every
// derivative message spawned from one collection scan) back to one another.
type Envelope struct {
	ID            uuid.UUID              `json:"id"`
	OccurredOn    time.Time              `json:"occurredOn"`
	Timestamp     time.Time              `json:"timestamp"`
	MessageType   string                 `json:"messageType"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
}

// newEnvelope stamps a fresh envelope for messageType; correlationID is
// caller-supplied since it threads an unrelated domain id (a background
// job, a collection) rather than anything the envelope itself tracks.
func newEnvelope(messageType, correlationID string) Envelope {
	now := time.Now()
	return Envelope{
		ID:            uuid.New(),
		OccurredOn:    now,
		Timestamp:     now,
		MessageType:   messageType,
		CorrelationID: correlationID,
	}
}

// CollectionCreationPayload expands a parentPath into collection candidates.
type CollectionCreationPayload struct {
	Envelope
	ParentPath        string `json:"parentPath"`
	Prefix            string `json:"prefix"`
	IncludeSubfolders bool   `json:"includeSubfolders"`
	AutoAdd           bool   `json:"autoAdd"`
	LibraryID         uuid.UUID `json:"libraryId"`
	ThumbnailWidth    int    `json:"thumbnailWidth"`
	ThumbnailHeight   int    `json:"thumbnailHeight"`
	CacheWidth        int    `json:"cacheWidth"`
	CacheHeight       int    `json:"cacheHeight"`
	Quality           int    `json:"quality"`
	EnableCache       bool   `json:"enableCache"`
	Format            string `json:"format"`
}

// NewCollectionCreationTask enqueues one collection-creation message.
func NewCollectionCreationTask(payload CollectionCreationPayload) (*asynq.Task, error) {
	payload.Envelope = newEnvelope(TypeCollectionCreation, payload.LibraryID.String())
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCollectionCreation, b,
		asynq.MaxRetry(maxRetryCount),
		asynq.Timeout(defaultTaskTimeout),
		asynq.Queue(QueueCollectionCreation),
	), nil
}

// CollectionScanPayload requests (re-)enumeration of one collection.
type CollectionScanPayload struct {
	Envelope
	CollectionID uuid.UUID `json:"collectionId"`
	ForceRescan  bool      `json:"forceRescan"`
}

// NewCollectionScanTask enqueues one collection-scan message.
func NewCollectionScanTask(payload CollectionScanPayload) (*asynq.Task, error) {
	payload.Envelope = newEnvelope(TypeCollectionScan, payload.CollectionID.String())
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCollectionScan, b,
		asynq.MaxRetry(maxRetryCount),
		asynq.Timeout(defaultTaskTimeout),
		asynq.Queue(QueueCollectionScan),
	), nil
}

// ImageProcessingPayload fans out into thumbnail+cache messages for one
// image (4.G worker #2). It carries the collection's derivative settings
// directly rather than making the fan-out worker re-read the Collection
// Store, since every image in one scan shares the same settings snapshot.
type ImageProcessingPayload struct {
	Envelope
	ImageID         uuid.UUID `json:"imageId"`
	CollectionID    uuid.UUID `json:"collectionId"`
	ContainerType   string    `json:"containerType"`
	CollectionPath  string    `json:"collectionPath"`
	RelativePath    string    `json:"relativePath"`
	ImageFilename   string    `json:"imageFilename"`
	ThumbnailJobID  uuid.UUID `json:"thumbnailJobId"`
	CacheJobID      uuid.UUID `json:"cacheJobId"`
	BackgroundJobID uuid.UUID `json:"backgroundJobId"`
	ThumbnailWidth  int       `json:"thumbnailWidth"`
	ThumbnailHeight int       `json:"thumbnailHeight"`
	CacheWidth      int       `json:"cacheWidth"`
	CacheHeight     int       `json:"cacheHeight"`
	Quality         int       `json:"quality"`
	EnableCache     bool      `json:"enableCache"`
	Format          string    `json:"format"`
}

// NewImageProcessingTask enqueues one image-processing fan-out message.
func NewImageProcessingTask(payload ImageProcessingPayload) (*asynq.Task, error) {
	payload.Envelope = newEnvelope(TypeImageProcessing, payload.BackgroundJobID.String())
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeImageProcessing, b,
		asynq.MaxRetry(maxRetryCount),
		asynq.Timeout(defaultTaskTimeout),
		asynq.Queue(QueueImageProcessing),
	), nil
}

// ThumbnailGenerationPayload requests one thumbnail derivative for one image.
// CollectionPath + ContainerType + RelativePath locate the source bytes via
// archivereader.OpenEntry; JobID is the FileProcessingJobState this delivery
// reports completion/failure against, BackgroundJobID the parent
// BackgroundJob whose "thumbnails" stage AtomicIncrementStage advances.
type ThumbnailGenerationPayload struct {
	Envelope
	ImageID         uuid.UUID `json:"imageId"`
	CollectionID    uuid.UUID `json:"collectionId"`
	ContainerType   string    `json:"containerType"`
	CollectionPath  string    `json:"collectionPath"`
	RelativePath    string    `json:"relativePath"`
	ImageFilename   string    `json:"imageFilename"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Quality         int       `json:"quality"`
	Format          string    `json:"format"`
	JobID           uuid.UUID `json:"jobId"`
	BackgroundJobID uuid.UUID `json:"backgroundJobId"`
}

// NewThumbnailGenerationTask enqueues one thumbnail-generation message.
func NewThumbnailGenerationTask(payload ThumbnailGenerationPayload) (*asynq.Task, error) {
	payload.Envelope = newEnvelope(TypeThumbnailGeneration, payload.BackgroundJobID.String())
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeThumbnailGeneration, b,
		asynq.MaxRetry(maxRetryCount),
		asynq.Timeout(defaultTaskTimeout),
		asynq.Queue(QueueThumbnailGeneration),
	), nil
}

// CacheGenerationPayload requests one cache derivative for one image. See
// ThumbnailGenerationPayload's doc comment for the field semantics shared
// between the two sibling fan-out messages.
type CacheGenerationPayload struct {
	Envelope
	ImageID         uuid.UUID `json:"imageId"`
	CollectionID    uuid.UUID `json:"collectionId"`
	ContainerType   string    `json:"containerType"`
	CollectionPath  string    `json:"collectionPath"`
	RelativePath    string    `json:"relativePath"`
	ImageFilename   string    `json:"imageFilename"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Quality         int       `json:"quality"`
	Format          string    `json:"format"`
	JobID           uuid.UUID `json:"jobId"`
	BackgroundJobID uuid.UUID `json:"backgroundJobId"`
}

// NewCacheGenerationTask enqueues one cache-generation message.
func NewCacheGenerationTask(payload CacheGenerationPayload) (*asynq.Task, error) {
	payload.Envelope = newEnvelope(TypeCacheGeneration, payload.BackgroundJobID.String())
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCacheGeneration, b,
		asynq.MaxRetry(maxRetryCount),
		asynq.Timeout(defaultTaskTimeout),
		asynq.Queue(QueueCacheGeneration),
	), nil
}
