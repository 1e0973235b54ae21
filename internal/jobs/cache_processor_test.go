package jobs_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imageviewer/mediapipeline/internal/domain/cachefolder"
	"github.com/imageviewer/mediapipeline/internal/infra/archivereader"
	"github.com/imageviewer/mediapipeline/internal/infra/derivative"
	"github.com/imageviewer/mediapipeline/internal/infra/events"
	"github.com/imageviewer/mediapipeline/internal/jobs"
)

func TestCacheProcessor_ProcessTask_Success(t *testing.T) {
	collectionDir := t.TempDir()
	srcPath := writeSourceFile(t, collectionDir, "image1.jpg", []byte("fake-jpeg-bytes"))

	renderer := &fakeRenderer{result: derivative.Result{Bytes: []byte("cache-bytes"), Width: 1920, Height: 1080}}
	allocator, _ := newTestAllocator(t, cachefolder.KindCache, 10<<20)
	collectionStore := &fakeCollectionStore{}
	jobStateStore := newFakeJobStateStore()
	bgJobStore := newFakeBackgroundJobStore()
	storage := newFakeStorage()
	broadcaster := events.NewBroadcaster()

	proc := jobs.NewCacheProcessor(renderer, allocator, collectionStore, jobStateStore, bgJobStore, storage, broadcaster)

	imageID := uuid.New()
	jobID := uuid.New()
	bgJobID := uuid.New()

	task, err := jobs.NewCacheGenerationTask(jobs.CacheGenerationPayload{
		ImageID:         imageID,
		CollectionID:    uuid.New(),
		ContainerType:   string(archivereader.ContainerDirectory),
		CollectionPath:  collectionDir,
		RelativePath:    srcPath,
		Width:           1920,
		Height:          1080,
		Quality:         90,
		Format:          "jpeg",
		JobID:           jobID,
		BackgroundJobID: bgJobID,
	})
	require.NoError(t, err)

	require.NoError(t, proc.ProcessTask(context.Background(), task))

	assert.Len(t, collectionStore.cacheImages, 1)
	assert.Equal(t, imageID, collectionStore.cacheImages[0].ImageID)
	assert.Len(t, jobStateStore.completed, 1)
	assert.Equal(t, 1, bgJobStore.increments["cache"])
}

func TestCacheProcessor_ProcessTask_AlreadyProcessed_Skipped(t *testing.T) {
	collectionDir := t.TempDir()
	srcPath := writeSourceFile(t, collectionDir, "image1.jpg", []byte("fake-jpeg-bytes"))

	renderer := &fakeRenderer{result: derivative.Result{Bytes: []byte("cache-bytes"), Width: 1920, Height: 1080}}
	allocator, _ := newTestAllocator(t, cachefolder.KindCache, 10<<20)
	collectionStore := &fakeCollectionStore{}
	jobStateStore := newFakeJobStateStore()
	bgJobStore := newFakeBackgroundJobStore()
	storage := newFakeStorage()
	broadcaster := events.NewBroadcaster()

	proc := jobs.NewCacheProcessor(renderer, allocator, collectionStore, jobStateStore, bgJobStore, storage, broadcaster)

	imageID := uuid.New()
	jobStateStore.processed[imageID] = true

	task, err := jobs.NewCacheGenerationTask(jobs.CacheGenerationPayload{
		ImageID:        imageID,
		CollectionID:   uuid.New(),
		ContainerType:  string(archivereader.ContainerDirectory),
		CollectionPath: collectionDir,
		RelativePath:   srcPath,
		Width:          1920,
		Height:         1080,
		Quality:        90,
		Format:         "jpeg",
		JobID:          uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, proc.ProcessTask(context.Background(), task))

	assert.Empty(t, collectionStore.cacheImages)
	assert.Equal(t, 0, renderer.calls)
}

func TestCacheProcessor_ProcessTask_UnsupportedFormat_RecordsFailure(t *testing.T) {
	collectionDir := t.TempDir()
	srcPath := writeSourceFile(t, collectionDir, "image1.jpg", []byte("fake-jpeg-bytes"))

	renderer := &fakeRenderer{result: derivative.Result{Bytes: []byte("cache-bytes"), Width: 1920, Height: 1080}}
	allocator, _ := newTestAllocator(t, cachefolder.KindCache, 10<<20)
	collectionStore := &fakeCollectionStore{}
	jobStateStore := newFakeJobStateStore()
	bgJobStore := newFakeBackgroundJobStore()
	storage := newFakeStorage()
	broadcaster := events.NewBroadcaster()

	proc := jobs.NewCacheProcessor(renderer, allocator, collectionStore, jobStateStore, bgJobStore, storage, broadcaster)

	task, err := jobs.NewCacheGenerationTask(jobs.CacheGenerationPayload{
		ImageID:         uuid.New(),
		CollectionID:    uuid.New(),
		ContainerType:   string(archivereader.ContainerDirectory),
		CollectionPath:  collectionDir,
		RelativePath:    srcPath,
		Width:           1920,
		Height:          1080,
		Quality:         90,
		Format:          "bmp-raw-unsupported",
		JobID:           uuid.New(),
		BackgroundJobID: uuid.New(),
	})
	require.NoError(t, err)

	err = proc.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.Len(t, jobStateStore.failed, 1)
	assert.Equal(t, 1, bgJobStore.increments["cache"])
}

func TestCacheProcessor_ProcessTask_SourceMissing_RecordsFailure(t *testing.T) {
	collectionDir := t.TempDir()
	srcPath := filepath.Join(collectionDir, "missing.jpg")

	renderer := &fakeRenderer{result: derivative.Result{Bytes: []byte("cache-bytes"), Width: 1920, Height: 1080}}
	allocator, _ := newTestAllocator(t, cachefolder.KindCache, 10<<20)
	collectionStore := &fakeCollectionStore{}
	jobStateStore := newFakeJobStateStore()
	bgJobStore := newFakeBackgroundJobStore()
	storage := newFakeStorage()
	broadcaster := events.NewBroadcaster()

	proc := jobs.NewCacheProcessor(renderer, allocator, collectionStore, jobStateStore, bgJobStore, storage, broadcaster)

	task, err := jobs.NewCacheGenerationTask(jobs.CacheGenerationPayload{
		ImageID:         uuid.New(),
		CollectionID:    uuid.New(),
		ContainerType:   string(archivereader.ContainerDirectory),
		CollectionPath:  collectionDir,
		RelativePath:    srcPath,
		Width:           1920,
		Height:          1080,
		Quality:         90,
		Format:          "jpeg",
		JobID:           uuid.New(),
		BackgroundJobID: uuid.New(),
	})
	require.NoError(t, err)

	require.Error(t, proc.ProcessTask(context.Background(), task))
	assert.Len(t, jobStateStore.failed, 1)
}
