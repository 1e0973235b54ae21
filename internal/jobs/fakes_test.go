package jobs_test

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/imageviewer/mediapipeline/internal/domain/cachefolder"
	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/infra/derivative"
)

// =============================================================================
// Fakes shared across the jobs-package worker tests.
// =============================================================================

type fakeCollectionStore struct {
	mu          sync.Mutex
	thumbnails  []collection.EmbeddedThumbnail
	cacheImages []collection.EmbeddedCache
	addThumbErr error
	addCacheErr error
	rejectAdd   bool // simulate losing the dedupe race: AtomicAdd* returns (false, nil)
}

func (f *fakeCollectionStore) AtomicAddThumbnail(ctx context.Context, collectionID uuid.UUID, t collection.EmbeddedThumbnail) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addThumbErr != nil {
		return false, f.addThumbErr
	}
	if f.rejectAdd {
		return false, nil
	}
	f.thumbnails = append(f.thumbnails, t)
	return true, nil
}

func (f *fakeCollectionStore) AtomicAddCacheImage(ctx context.Context, collectionID uuid.UUID, c collection.EmbeddedCache) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addCacheErr != nil {
		return false, f.addCacheErr
	}
	if f.rejectAdd {
		return false, nil
	}
	f.cacheImages = append(f.cacheImages, c)
	return true, nil
}

type jobStateCall struct {
	jobID, imageID uuid.UUID
	sizeBytes      int64
	errKind        string
}

type fakeJobStateStore struct {
	mu             sync.Mutex
	processed      map[uuid.UUID]bool
	completed      []jobStateCall
	failed         []jobStateCall
	isProcessedErr error
}

func newFakeJobStateStore() *fakeJobStateStore {
	return &fakeJobStateStore{processed: make(map[uuid.UUID]bool)}
}

func (f *fakeJobStateStore) IsProcessed(ctx context.Context, jobID, imageID uuid.UUID) (bool, error) {
	if f.isProcessedErr != nil {
		return false, f.isProcessedErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[imageID], nil
}

func (f *fakeJobStateStore) IncrementCompleted(ctx context.Context, jobID, imageID uuid.UUID, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[imageID] = true
	f.completed = append(f.completed, jobStateCall{jobID: jobID, imageID: imageID, sizeBytes: sizeBytes})
	return nil
}

func (f *fakeJobStateStore) IncrementFailed(ctx context.Context, jobID, imageID uuid.UUID, errKind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[imageID] = true
	f.failed = append(f.failed, jobStateCall{jobID: jobID, imageID: imageID, errKind: errKind})
	return nil
}

type fakeBackgroundJobStore struct {
	mu         sync.Mutex
	increments map[string]int
}

func newFakeBackgroundJobStore() *fakeBackgroundJobStore {
	return &fakeBackgroundJobStore{increments: make(map[string]int)}
}

func (f *fakeBackgroundJobStore) AtomicIncrementStage(ctx context.Context, jobID uuid.UUID, stageName string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments[stageName] += delta
	return nil
}

type fakeStorage struct {
	mu      sync.Mutex
	saved   map[string][]byte
	saveErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{saved: make(map[string][]byte)}
}

func (f *fakeStorage) SaveBytes(ctx context.Context, fullPath string, data []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.saved[fullPath] = cp
	return nil
}

func (f *fakeStorage) Get(ctx context.Context, fullPath string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.saved[fullPath]
	if !ok {
		return nil, io.EOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) Delete(ctx context.Context, fullPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, fullPath)
	return nil
}

func (f *fakeStorage) Exists(ctx context.Context, fullPath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.saved[fullPath]
	return ok, nil
}

// fakeCacheFolderStore backs a real cachealloc.Allocator in tests, the same
// conditional-reserve semantics cachealloc.Store documents.
type fakeCacheFolderStore struct {
	mu      sync.Mutex
	folders []*cachefolder.CacheFolder
}

func (f *fakeCacheFolderStore) ListActiveByPriority(ctx context.Context, kind cachefolder.Kind) ([]*cachefolder.CacheFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*cachefolder.CacheFolder
	for _, folder := range f.folders {
		if folder.Kind == kind && folder.IsActive {
			out = append(out, folder)
		}
	}
	return out, nil
}

func (f *fakeCacheFolderStore) TryReserve(ctx context.Context, folderID uuid.UUID, sizeBytes int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, folder := range f.folders {
		if folder.ID == folderID {
			if folder.CurrentSizeBytes+sizeBytes > folder.MaxSizeBytes {
				return false, nil
			}
			folder.CurrentSizeBytes += sizeBytes
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCacheFolderStore) Release(ctx context.Context, folderID uuid.UUID, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, folder := range f.folders {
		if folder.ID == folderID {
			folder.CurrentSizeBytes -= sizeBytes
			if folder.CurrentSizeBytes < 0 {
				folder.CurrentSizeBytes = 0
			}
		}
	}
	return nil
}

// fakeRenderer returns a fixed Result (or a configured error) without ever
// touching the real imaging stack, so worker tests stay independent of
// whether the source bytes actually decode as an image.
type fakeRenderer struct {
	mu        sync.Mutex
	result    derivative.Result
	err       error
	lastBytes []byte
	lastSpec  derivative.Spec
	calls     int
}

func (r *fakeRenderer) Render(sourceBytes []byte, spec derivative.Spec) (derivative.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastBytes = sourceBytes
	r.lastSpec = spec
	if r.err != nil {
		return derivative.Result{}, r.err
	}
	return r.result, nil
}

type enqueuedTask struct {
	taskType string
	queue    string
}

type fakeEnqueuer struct {
	mu         sync.Mutex
	tasks      []enqueuedTask
	enqueueErr error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, queue string) (*asynq.TaskInfo, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, enqueuedTask{taskType: task.Type(), queue: queue})
	return &asynq.TaskInfo{}, nil
}
