package cachealloc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imageviewer/mediapipeline/internal/domain/cachefolder"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

// fakeStore is an in-memory Store double exercising the same conditional
// reserve semantics Postgres provides, for unit-testing allocator logic
// without a database.
type fakeStore struct {
	mu      sync.Mutex
	folders map[uuid.UUID]*cachefolder.CacheFolder
}

func newFakeStore(folders ...*cachefolder.CacheFolder) *fakeStore {
	s := &fakeStore{folders: make(map[uuid.UUID]*cachefolder.CacheFolder)}
	for _, f := range folders {
		s.folders[f.ID] = f
	}
	return s
}

func (s *fakeStore) ListActiveByPriority(ctx context.Context, kind cachefolder.Kind) ([]*cachefolder.CacheFolder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*cachefolder.CacheFolder
	for _, f := range s.folders {
		if f.Kind == kind && f.IsActive {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].RemainingCapacity() > out[j].RemainingCapacity()
	})
	return out, nil
}

func (s *fakeStore) TryReserve(ctx context.Context, folderID uuid.UUID, sizeBytes int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[folderID]
	if !ok {
		return false, nil
	}
	if !f.Fits(sizeBytes) {
		return false, nil
	}
	_ = f.Reserve(sizeBytes)
	return true, nil
}

func (s *fakeStore) Release(ctx context.Context, folderID uuid.UUID, sizeBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.folders[folderID]; ok {
		f.Release(sizeBytes)
	}
	return nil
}

func TestAllocate_PicksFirstFittingFolderByPriority(t *testing.T) {
	low, _ := cachefolder.New("low", "/cache/low", cachefolder.KindThumbnail, 0, 1000)
	high, _ := cachefolder.New("high", "/cache/high", cachefolder.KindThumbnail, 1, 1000)
	store := newFakeStore(low, high)
	a, err := New(store)
	require.NoError(t, err)

	alloc, err := a.Allocate(context.Background(), cachefolder.KindThumbnail, uuid.New(), "img_thumb_200x150.webp", 100)
	require.NoError(t, err)
	assert.Equal(t, low.ID, alloc.FolderID)
}

func TestAllocate_SkipsFullFolders(t *testing.T) {
	full, _ := cachefolder.New("full", "/cache/full", cachefolder.KindThumbnail, 0, 100)
	require.NoError(t, full.Reserve(100))
	spare, _ := cachefolder.New("spare", "/cache/spare", cachefolder.KindThumbnail, 1, 1000)
	store := newFakeStore(full, spare)
	a, _ := New(store)

	alloc, err := a.Allocate(context.Background(), cachefolder.KindThumbnail, uuid.New(), "img_thumb_200x150.webp", 50)
	require.NoError(t, err)
	assert.Equal(t, spare.ID, alloc.FolderID)
}

func TestAllocate_NoCapacityAnywhere(t *testing.T) {
	full, _ := cachefolder.New("full", "/cache/full", cachefolder.KindThumbnail, 0, 100)
	require.NoError(t, full.Reserve(100))
	store := newFakeStore(full)
	a, _ := New(store)

	_, err := a.Allocate(context.Background(), cachefolder.KindThumbnail, uuid.New(), "img_thumb_200x150.webp", 50)
	assert.ErrorIs(t, err, shared.ErrNoCacheCapacity)
}

func TestAllocate_ComposesPathWithCollectionAndFilename(t *testing.T) {
	folder, _ := cachefolder.New("a", "/cache/a", cachefolder.KindCache, 0, 1000)
	store := newFakeStore(folder)
	a, _ := New(store)

	collectionID := uuid.New()
	imageID := uuid.New()
	filename := fmt.Sprintf("%s_1920x1080_q85.jpg", imageID)
	alloc, err := a.Allocate(context.Background(), cachefolder.KindCache, collectionID, filename, 10)
	require.NoError(t, err)
	assert.Contains(t, alloc.FullPath, collectionID.String())
	assert.Contains(t, alloc.FullPath, filename)
}

func TestRelease_GivesBackCapacity(t *testing.T) {
	folder, _ := cachefolder.New("a", "/cache/a", cachefolder.KindCache, 0, 100)
	store := newFakeStore(folder)
	a, _ := New(store)

	_, err := a.Allocate(context.Background(), cachefolder.KindCache, uuid.New(), "img_1920x1080_q85.jpg", 100)
	require.NoError(t, err)

	require.NoError(t, a.Release(context.Background(), folder.ID, 100))

	_, err = a.Allocate(context.Background(), cachefolder.KindCache, uuid.New(), "img_1920x1080_q85.jpg", 100)
	assert.NoError(t, err)
}
