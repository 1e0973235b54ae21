//go:build integration
// +build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imageviewer/mediapipeline/internal/domain/collection"
	"github.com/imageviewer/mediapipeline/internal/domain/library"
	"github.com/imageviewer/mediapipeline/internal/shared"
)

func TestCollectionRepository_AtomicAddImage_BumpsStatistics(t *testing.T) {
	pool := setupTestPool(t)
	defer pool.Close()
	ctx := context.Background()

	lib, _ := library.New("test-lib", "/root/lib", "")
	require.NoError(t, NewLibraryRepository(pool).Create(ctx, lib))

	coll, err := collection.New(lib.ID, "coll-1", "/root/lib/coll-1", collection.TypeDirectory, collection.Settings{Format: collection.FormatWebP})
	require.NoError(t, err)
	repo := NewCollectionRepository(pool)
	require.NoError(t, repo.Create(ctx, coll))

	img := collection.EmbeddedImage{ID: shared.NewUUID(), Filename: "a.jpg", RelativePath: "a.jpg", FileSize: 1024}
	require.NoError(t, repo.AtomicAddImage(ctx, coll.ID, img))

	got, err := repo.GetByID(ctx, coll.ID)
	require.NoError(t, err)
	require.Len(t, got.Images, 1)
	require.Equal(t, 1, got.Statistics.TotalItems)
	require.Equal(t, int64(1024), got.Statistics.TotalSize)
}

func TestCollectionRepository_AtomicAddThumbnail_DedupesSameKey(t *testing.T) {
	pool := setupTestPool(t)
	defer pool.Close()
	ctx := context.Background()

	lib, _ := library.New("test-lib-2", "/root/lib2", "")
	require.NoError(t, NewLibraryRepository(pool).Create(ctx, lib))

	coll, err := collection.New(lib.ID, "coll-2", "/root/lib2/coll-2", collection.TypeDirectory, collection.Settings{})
	require.NoError(t, err)
	repo := NewCollectionRepository(pool)
	require.NoError(t, repo.Create(ctx, coll))

	imageID := shared.NewUUID()
	thumb := collection.EmbeddedThumbnail{ImageID: imageID, Width: 200, Height: 200, Format: collection.FormatWebP, FileSize: 10}

	added, err := repo.AtomicAddThumbnail(ctx, coll.ID, thumb)
	require.NoError(t, err)
	require.True(t, added)

	added, err = repo.AtomicAddThumbnail(ctx, coll.ID, thumb)
	require.NoError(t, err)
	require.False(t, added, "duplicate (imageId,width,height) must be rejected")

	got, err := repo.GetByID(ctx, coll.ID)
	require.NoError(t, err)
	require.Len(t, got.Thumbnails, 1)
	require.Equal(t, 1, got.Statistics.TotalThumbnails)
}
