package jobstate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesInput(t *testing.T) {
	_, err := New(uuid.Nil, JobTypeScan, 10)
	assert.Error(t, err)

	_, err = New(uuid.New(), "bogus", 10)
	assert.Error(t, err)

	_, err = New(uuid.New(), JobTypeScan, -1)
	assert.Error(t, err)

	job, err := New(uuid.New(), JobTypeThumbnail, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status())
	assert.Equal(t, 5, job.TotalImages())
	assert.True(t, job.CanResume())
}

func TestStart_OnlyFromPendingOrPaused(t *testing.T) {
	job, _ := New(uuid.New(), JobTypeScan, 1)
	now := time.Now()

	require.NoError(t, job.Start(now))
	assert.Equal(t, StatusRunning, job.Status())
	assert.NotNil(t, job.StartedAt())

	assert.Error(t, job.Start(now))
}

func TestMarkProcessed_IsIdempotent(t *testing.T) {
	job, _ := New(uuid.New(), JobTypeCache, 2)
	now := time.Now()
	require.NoError(t, job.Start(now))

	imgID := uuid.New()
	job.MarkProcessed(imgID, 1024, now)
	job.MarkProcessed(imgID, 1024, now) // duplicate delivery

	assert.Equal(t, 1, job.CompletedImages())
	assert.EqualValues(t, 1024, job.TotalSizeBytes())
}

func TestMarkFailed_DisjointFromProcessed(t *testing.T) {
	job, _ := New(uuid.New(), JobTypeThumbnail, 2)
	now := time.Now()
	require.NoError(t, job.Start(now))

	imgID := uuid.New()
	job.MarkProcessed(imgID, 0, now)
	job.MarkFailed(imgID, "render-failed", now) // already processed, ignored

	assert.Equal(t, 1, job.CompletedImages())
	assert.Equal(t, 0, job.FailedImages())
	assert.True(t, job.IsProcessed(imgID))
}

func TestMarkFailed_TracksErrorSummary(t *testing.T) {
	job, _ := New(uuid.New(), JobTypeThumbnail, 2)
	now := time.Now()
	require.NoError(t, job.Start(now))

	job.MarkFailed(uuid.New(), "render-failed", now)
	job.MarkFailed(uuid.New(), "render-failed", now)

	assert.Equal(t, 2, job.FailedImages())
	assert.Equal(t, 2, job.ErrorSummary()["render-failed"])
	assert.True(t, job.HasErrors())
}

func TestComplete_RequiresAllImagesAccountedFor(t *testing.T) {
	job, _ := New(uuid.New(), JobTypeScan, 2)
	now := time.Now()
	require.NoError(t, job.Start(now))

	assert.Error(t, job.Complete(now))

	job.MarkProcessed(uuid.New(), 10, now)
	job.MarkFailed(uuid.New(), "archive-corrupt", now)

	require.NoError(t, job.Complete(now))
	assert.Equal(t, StatusCompleted, job.Status())
	assert.False(t, job.CanResume())
	assert.NotNil(t, job.CompletedAt())
}

func TestPause_PreservesResumability(t *testing.T) {
	job, _ := New(uuid.New(), JobTypeScan, 3)
	now := time.Now()
	require.NoError(t, job.Start(now))
	job.MarkProcessed(uuid.New(), 1, now)

	require.NoError(t, job.Pause(now))
	assert.Equal(t, StatusPaused, job.Status())
	assert.True(t, job.CanResume())

	require.NoError(t, job.Start(now))
	assert.Equal(t, StatusRunning, job.Status())
}

func TestIsStalled(t *testing.T) {
	job, _ := New(uuid.New(), JobTypeScan, 5)
	now := time.Now()
	require.NoError(t, job.Start(now.Add(-time.Hour)))
	job.MarkProcessed(uuid.New(), 1, now.Add(-50*time.Minute))

	assert.True(t, job.IsStalled(now.Add(-10*time.Minute)))
	assert.False(t, job.IsStalled(now.Add(-time.Hour)))
}

func TestReconstruct_RoundTripsSets(t *testing.T) {
	processed := []uuid.UUID{uuid.New(), uuid.New()}
	failed := []uuid.UUID{uuid.New()}
	job := Reconstruct(
		uuid.New(), JobTypeCache, uuid.New(), StatusRunning,
		10, 2, 1, 0, 2048,
		processed, failed,
		map[string]int{"render-failed": 1},
		0, nil, nil, nil, true, "",
	)

	assert.True(t, job.IsProcessed(processed[0]))
	assert.True(t, job.IsProcessed(failed[0]))
	assert.ElementsMatch(t, processed, job.ProcessedImageIDs())
	assert.ElementsMatch(t, failed, job.FailedImageIDs())
}
