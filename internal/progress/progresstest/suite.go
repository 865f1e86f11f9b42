// Package progresstest is a conformance suite run against every
// progress.Store implementation.
package progresstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/catalog-import/internal/progress"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) progress.Store) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("UpdateOverlay", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("UpdateAbort", func(t *testing.T) { testUpdateAbort(t, newStore(t)) })
	t.Run("IncrementConcurrent", func(t *testing.T) { testIncrementConcurrent(t, newStore(t)) })
	t.Run("IncrementErrorTail", func(t *testing.T) { testErrorTail(t, newStore(t)) })
	t.Run("TotalRevisedUpward", func(t *testing.T) { testTotalRevised(t, newStore(t)) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, newStore(t)) })
}

func newJob(total int) progress.Job {
	return progress.Job{
		ID:        uuid.NewString(),
		Status:    progress.StatusPending,
		TotalRows: total,
		FileName:  "products.csv",
		Strategy:  "chunked",
		Message:   "queued",
	}
}

func testCreateGet(t *testing.T, s progress.Store) {
	ctx := context.Background()
	job := newJob(10)
	require.NoError(t, s.Create(ctx, job, time.Hour))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, progress.StatusPending, got.Status)
	assert.Equal(t, 10, got.TotalRows)
	assert.Equal(t, "products.csv", got.FileName)
	assert.Equal(t, "chunked", got.Strategy)
	assert.Equal(t, "queued", got.Message)
	assert.NotNil(t, got.Errors)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.CreatedAt.IsZero())
}

func testGetUnknown(t *testing.T, s progress.Store) {
	ctx := context.Background()
	_, err := s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, progress.ErrNotFound)

	_, err = s.Update(ctx, uuid.NewString(), time.Hour, func(*progress.Job) error { return nil })
	assert.ErrorIs(t, err, progress.ErrNotFound)

	_, err = s.Increment(ctx, uuid.NewString(), time.Hour, progress.Delta{Processed: 1}, 5)
	assert.ErrorIs(t, err, progress.ErrNotFound)
}

func testUpdate(t *testing.T, s progress.Store) {
	ctx := context.Background()
	job := newJob(4)
	require.NoError(t, s.Create(ctx, job, time.Hour))

	done := time.Now().UTC().Truncate(time.Millisecond)
	status := progress.StatusCompleted
	processed := 4
	group := "g-1"
	got, err := s.Update(ctx, job.ID, time.Hour, func(j *progress.Job) error {
		progress.Patch{
			Status:        &status,
			ProcessedRows: &processed,
			GroupID:       &group,
			Errors:        []string{"Row 2: SKU is required"},
			CompletedAt:   &done,
		}.Apply(j)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, got.Status)
	assert.Equal(t, float64(100), got.Progress)

	reread, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "g-1", reread.GroupID)
	assert.Equal(t, []string{"Row 2: SKU is required"}, reread.Errors)
	require.NotNil(t, reread.CompletedAt)
	assert.WithinDuration(t, done, *reread.CompletedAt, time.Millisecond)
	assert.Equal(t, "products.csv", reread.FileName)
}

func testUpdateAbort(t *testing.T, s progress.Store) {
	ctx := context.Background()
	job := newJob(4)
	require.NoError(t, s.Create(ctx, job, time.Hour))

	boom := errors.New("boom")
	_, err := s.Update(ctx, job.ID, time.Hour, func(j *progress.Job) error {
		j.Status = progress.StatusFailed
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusPending, got.Status)
}

func testIncrementConcurrent(t *testing.T, s progress.Store) {
	ctx := context.Background()
	job := newJob(1000)
	require.NoError(t, s.Create(ctx, job, time.Hour))

	const workers, each = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_, err := s.Increment(ctx, job.ID, time.Hour, progress.Delta{
					Processed: 10, Succeeded: 9, Failed: 1, Chunks: 1,
				}, 5)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, workers*each*10, got.ProcessedRows)
	assert.Equal(t, workers*each*9, got.SuccessfulRows)
	assert.Equal(t, workers*each, got.FailedRows)
	assert.Equal(t, workers*each, got.CompletedChunks)
	assert.LessOrEqual(t, got.Progress, float64(100))
}

func testErrorTail(t *testing.T, s progress.Store) {
	ctx := context.Background()
	job := newJob(100)
	require.NoError(t, s.Create(ctx, job, time.Hour))

	for i := 1; i <= 4; i++ {
		_, err := s.Increment(ctx, job.ID, time.Hour, progress.Delta{
			Failed: 2,
			Errors: []string{fmt.Sprintf("Row %d: a", i), fmt.Sprintf("Row %d: b", i)},
		}, 3)
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Row 3: b", "Row 4: a", "Row 4: b"}, got.Errors)
	assert.Equal(t, 8, got.FailedRows)
}

func testTotalRevised(t *testing.T, s progress.Store) {
	ctx := context.Background()
	job := newJob(5)
	require.NoError(t, s.Create(ctx, job, time.Hour))

	got, err := s.Increment(ctx, job.ID, time.Hour, progress.Delta{Processed: 3}, 5)
	require.NoError(t, err)
	assert.Equal(t, float64(60), got.Progress)

	got, err = s.Increment(ctx, job.ID, time.Hour, progress.Delta{Processed: 4}, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, got.TotalRows)
	assert.Equal(t, float64(100), got.Progress)
}

func testExpiry(t *testing.T, s progress.Store) {
	ctx := context.Background()
	short := newJob(1)
	long := newJob(1)
	require.NoError(t, s.Create(ctx, short, 20*time.Millisecond))
	require.NoError(t, s.Create(ctx, long, time.Hour))

	time.Sleep(50 * time.Millisecond)

	_, err := s.Get(ctx, short.ID)
	assert.ErrorIs(t, err, progress.ErrNotFound)

	n, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, long.ID)
	assert.NoError(t, err)

	n, err = s.DeleteExpired(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
