package jobs_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imageviewer/mediapipeline/internal/domain/backgroundjob"
	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/domain/jobstate"
	"github.com/imageviewer/mediapipeline/internal/domain/library"
)

// =============================================================================
// Fakes for the scan and creation worker tests.
// =============================================================================

type fakeScanCollectionStore struct {
	mu                sync.Mutex
	collection        *collection.Collection
	getErr            error
	addedImages       []collection.EmbeddedImage
	clearedCollection uuid.UUID
	clearCalled       bool
}

func (f *fakeScanCollectionStore) GetByID(ctx context.Context, id uuid.UUID) (*collection.Collection, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.collection, nil
}

func (f *fakeScanCollectionStore) AtomicAddImage(ctx context.Context, collectionID uuid.UUID, img collection.EmbeddedImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedImages = append(f.addedImages, img)
	return nil
}

func (f *fakeScanCollectionStore) ClearImageArrays(ctx context.Context, collectionID uuid.UUID) error {
	f.clearCalled = true
	f.clearedCollection = collectionID
	return nil
}

type fakeScanJobStateStore struct {
	mu              sync.Mutex
	created         []*jobstate.FileProcessingJobState
	statuses        []jobstate.Status
	skippedCount    int
	completedImages []uuid.UUID
}

func (f *fakeScanJobStateStore) Create(ctx context.Context, j *jobstate.FileProcessingJobState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, j)
	return nil
}

func (f *fakeScanJobStateStore) IncrementCompleted(ctx context.Context, jobID, imageID uuid.UUID, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedImages = append(f.completedImages, imageID)
	return nil
}

func (f *fakeScanJobStateStore) IncrementSkipped(ctx context.Context, jobID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skippedCount++
	return nil
}

func (f *fakeScanJobStateStore) UpdateStatus(ctx context.Context, jobID uuid.UUID, status jobstate.Status, startedAt, completedAt *time.Time, canResume bool, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

type registeredStage struct {
	jobID      uuid.UUID
	stageName  string
	totalItems int
}

type fakeScanBackgroundJobStore struct {
	mu      sync.Mutex
	created []*backgroundjob.BackgroundJob
	stages  []registeredStage
}

func (f *fakeScanBackgroundJobStore) Create(ctx context.Context, j *backgroundjob.BackgroundJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, j)
	return nil
}

func (f *fakeScanBackgroundJobStore) RegisterStage(ctx context.Context, jobID uuid.UUID, stageName string, totalItems int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, registeredStage{jobID: jobID, stageName: stageName, totalItems: totalItems})
	return nil
}

type fakeCreationLibraryStore struct {
	lib    *library.Library
	getErr error
}

func (f *fakeCreationLibraryStore) GetByID(ctx context.Context, id uuid.UUID) (*library.Library, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.lib, nil
}

type fakeCreationCollectionStore struct {
	mu      sync.Mutex
	created []*collection.Collection
}

func (f *fakeCreationCollectionStore) Create(ctx context.Context, c *collection.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, c)
	return nil
}
