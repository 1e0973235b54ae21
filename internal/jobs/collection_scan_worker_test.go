package jobs_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/infra/events"
	"github.com/imageviewer/mediapipeline/internal/jobs"
)

func newTestCollection(t *testing.T, dir string, enableCache bool) *collection.Collection {
	t.Helper()
	c, err := collection.New(uuid.New(), "test-collection", dir, collection.TypeDirectory, collection.Settings{
		ThumbnailWidth:  200,
		ThumbnailHeight: 150,
		CacheWidth:      1920,
		CacheHeight:     1080,
		Quality:         85,
		EnableCache:     enableCache,
		Format:          collection.FormatJPEG,
	})
	require.NoError(t, err)
	return c
}

func TestCollectionScanWorker_ProcessTask_EnumeratesAndFansOut(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("img-a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("img-b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not an image"), 0o644))

	c := newTestCollection(t, dir, true)

	collectionStore := &fakeScanCollectionStore{collection: c}
	jobStateStore := &fakeScanJobStateStore{}
	bgJobStore := &fakeScanBackgroundJobStore{}
	enqueuer := &fakeEnqueuer{}
	broadcaster := events.NewBroadcaster()

	worker := jobs.NewCollectionScanWorker(collectionStore, jobStateStore, bgJobStore, enqueuer, nil, broadcaster)

	task, err := jobs.NewCollectionScanTask(jobs.CollectionScanPayload{CollectionID: c.ID})
	require.NoError(t, err)

	require.NoError(t, worker.ProcessTask(context.Background(), task))

	assert.Len(t, collectionStore.addedImages, 2, "readme.txt must not be counted as an image")
	assert.Len(t, enqueuer.tasks, 2)
	for _, et := range enqueuer.tasks {
		assert.Equal(t, jobs.TypeImageProcessing, et.taskType)
		assert.Equal(t, jobs.QueueImageProcessing, et.queue)
	}

	require.Len(t, jobStateStore.created, 3, "one job state each for scan, thumbnail, and cache stages")
	assert.Equal(t, 1, jobStateStore.skippedCount, "readme.txt must be tracked as a dummy entry")
	assert.Len(t, jobStateStore.completedImages, 2, "both images recorded against the scan job state")
	require.Len(t, bgJobStore.created, 1)
	require.Len(t, bgJobStore.stages, 3, "scan, thumbnails, cache stages must all be registered")
}

func TestCollectionScanWorker_ProcessTask_CacheDisabled_RegistersEmptyCacheStage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("img-a"), 0o644))

	c := newTestCollection(t, dir, false)

	collectionStore := &fakeScanCollectionStore{collection: c}
	jobStateStore := &fakeScanJobStateStore{}
	bgJobStore := &fakeScanBackgroundJobStore{}
	enqueuer := &fakeEnqueuer{}
	broadcaster := events.NewBroadcaster()

	worker := jobs.NewCollectionScanWorker(collectionStore, jobStateStore, bgJobStore, enqueuer, nil, broadcaster)

	task, err := jobs.NewCollectionScanTask(jobs.CollectionScanPayload{CollectionID: c.ID})
	require.NoError(t, err)

	require.NoError(t, worker.ProcessTask(context.Background(), task))

	require.Len(t, bgJobStore.stages, 3)
	for _, stage := range bgJobStore.stages {
		if stage.stageName == "cache" {
			assert.Equal(t, 0, stage.totalItems)
		}
	}
	require.Len(t, enqueuer.tasks, 1)
}

func TestCollectionScanWorker_ProcessTask_ForceRescan_ClearsFirst(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("img-a"), 0o644))

	c := newTestCollection(t, dir, false)

	collectionStore := &fakeScanCollectionStore{collection: c}
	jobStateStore := &fakeScanJobStateStore{}
	bgJobStore := &fakeScanBackgroundJobStore{}
	enqueuer := &fakeEnqueuer{}
	broadcaster := events.NewBroadcaster()

	worker := jobs.NewCollectionScanWorker(collectionStore, jobStateStore, bgJobStore, enqueuer, nil, broadcaster)

	task, err := jobs.NewCollectionScanTask(jobs.CollectionScanPayload{CollectionID: c.ID, ForceRescan: true})
	require.NoError(t, err)

	require.NoError(t, worker.ProcessTask(context.Background(), task))

	assert.True(t, collectionStore.clearCalled)
	assert.Equal(t, c.ID, collectionStore.clearedCollection)
}

// TestCollectionScanWorker_ProcessTask_FlatArchiveEntry_FilenameStripsArchivePrefix
// covers spec §8 Scenario 2's worked example: a flat (non-nested) zip entry's
// RelativePath is the compound "<archivePath>#<innerPath>" form, and the
// archive's own filename may itself contain a "#" (e.g. "[Artist] Title
// #3.zip"). Filename must come from splitting on the LAST "#", not a
// TrimPrefix of a leading one.
func TestCollectionScanWorker_ProcessTask_FlatArchiveEntry_FilenameStripsArchivePrefix(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "[Artist] Title #3.zip")

	zf, err := os.Create(archivePath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("page_001.jpg")
	require.NoError(t, err)
	_, err = w.Write([]byte("page-one"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	c, err := collection.New(uuid.New(), "test-collection", archivePath, collection.TypeZip, collection.Settings{
		ThumbnailWidth:  200,
		ThumbnailHeight: 150,
		CacheWidth:      1920,
		CacheHeight:     1080,
		Quality:         85,
		EnableCache:     false,
		Format:          collection.FormatJPEG,
	})
	require.NoError(t, err)

	collectionStore := &fakeScanCollectionStore{collection: c}
	jobStateStore := &fakeScanJobStateStore{}
	bgJobStore := &fakeScanBackgroundJobStore{}
	enqueuer := &fakeEnqueuer{}
	broadcaster := events.NewBroadcaster()

	worker := jobs.NewCollectionScanWorker(collectionStore, jobStateStore, bgJobStore, enqueuer, nil, broadcaster)

	task, err := jobs.NewCollectionScanTask(jobs.CollectionScanPayload{CollectionID: c.ID})
	require.NoError(t, err)

	require.NoError(t, worker.ProcessTask(context.Background(), task))

	require.Len(t, collectionStore.addedImages, 1)
	assert.Equal(t, "page_001.jpg", collectionStore.addedImages[0].Filename)
}

func TestCollectionScanWorker_ProcessTask_EmptyCollection(t *testing.T) {
	dir := t.TempDir()
	c := newTestCollection(t, dir, true)

	collectionStore := &fakeScanCollectionStore{collection: c}
	jobStateStore := &fakeScanJobStateStore{}
	bgJobStore := &fakeScanBackgroundJobStore{}
	enqueuer := &fakeEnqueuer{}
	broadcaster := events.NewBroadcaster()

	worker := jobs.NewCollectionScanWorker(collectionStore, jobStateStore, bgJobStore, enqueuer, nil, broadcaster)

	task, err := jobs.NewCollectionScanTask(jobs.CollectionScanPayload{CollectionID: c.ID})
	require.NoError(t, err)

	require.NoError(t, worker.ProcessTask(context.Background(), task))

	assert.Empty(t, collectionStore.addedImages)
	assert.Empty(t, enqueuer.tasks)
}
