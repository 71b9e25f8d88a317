// Package storetest holds reusable test suites for store implementations.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gestionale/internal/store"
)

// RunProgressTrackerContract verifies that a ProgressTracker honours the
// create/update/complete/get/delete contract. Session IDs are prefixed per
// subtest so a single tracker instance can serve the whole suite.
func RunProgressTrackerContract(t *testing.T, tracker store.ProgressTracker) {
	t.Helper()
	ctx := context.Background()

	t.Run("create then get returns the same status", func(t *testing.T) {
		status := store.ImportStatus{Progress: 10, CurrentStep: "reading file"}
		require.NoError(t, tracker.Create(ctx, "create-get", status))

		got, err := tracker.Get(ctx, "create-get")
		require.NoError(t, err)
		assert.Equal(t, status, got)
	})

	t.Run("create rejects completed status without result", func(t *testing.T) {
		err := tracker.Create(ctx, "invalid", store.ImportStatus{Completed: true})
		assert.ErrorIs(t, err, store.ErrInvalidStatus)

		_, err = tracker.Get(ctx, "invalid")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("create overwrites an existing session", func(t *testing.T) {
		require.NoError(t, tracker.Create(ctx, "overwrite", store.ImportStatus{Progress: 70, CurrentStep: "old"}))
		require.NoError(t, tracker.Create(ctx, "overwrite", store.ImportStatus{CurrentStep: "new"}))

		got, err := tracker.Get(ctx, "overwrite")
		require.NoError(t, err)
		assert.Equal(t, store.ImportStatus{CurrentStep: "new"}, got)
	})

	t.Run("update changes only the provided fields", func(t *testing.T) {
		require.NoError(t, tracker.Create(ctx, "partial", store.ImportStatus{CurrentStep: "reading file"}))

		progress := 50.0
		require.NoError(t, tracker.Update(ctx, "partial", store.StatusUpdate{Progress: &progress}))

		got, err := tracker.Get(ctx, "partial")
		require.NoError(t, err)
		assert.Equal(t, store.ImportStatus{Progress: 50, CurrentStep: "reading file"}, got)
	})

	t.Run("get unknown session", func(t *testing.T) {
		_, err := tracker.Get(ctx, "never-created")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("update and complete unknown session", func(t *testing.T) {
		progress := 1.0
		assert.ErrorIs(t, tracker.Update(ctx, "missing", store.StatusUpdate{Progress: &progress}), store.ErrNotFound)
		assert.ErrorIs(t, tracker.Complete(ctx, "missing", store.ImportResult{}), store.ErrNotFound)
	})

	t.Run("import lifecycle", func(t *testing.T) {
		require.NoError(t, tracker.Create(ctx, "abc", store.ImportStatus{
			Progress:    0,
			CurrentStep: "reading file",
		}))

		progress, step := 40.0, "validating"
		require.NoError(t, tracker.Update(ctx, "abc", store.StatusUpdate{Progress: &progress, CurrentStep: &step}))

		got, err := tracker.Get(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, store.ImportStatus{Progress: 40, CurrentStep: "validating"}, got)

		result := store.ImportResult{
			Success:      true,
			TotalRows:    100,
			ImportedRows: 98,
			Errors:       []string{"row 12 invalid"},
			SessionID:    "abc",
			Duration:     1200,
		}
		require.NoError(t, tracker.Complete(ctx, "abc", result))

		got, err = tracker.Get(ctx, "abc")
		require.NoError(t, err)
		assert.True(t, got.Completed)
		require.NotNil(t, got.Result)
		assert.Equal(t, result, *got.Result)
		assert.Equal(t, 40.0, got.Progress)
		assert.Equal(t, "validating", got.CurrentStep)
	})

	t.Run("update after completion is rejected", func(t *testing.T) {
		require.NoError(t, tracker.Create(ctx, "done", store.ImportStatus{CurrentStep: "writing"}))
		result := store.ImportResult{Success: true, SessionID: "done", Errors: []string{}}
		require.NoError(t, tracker.Complete(ctx, "done", result))

		progress, step := 99.0, "late"
		err := tracker.Update(ctx, "done", store.StatusUpdate{Progress: &progress, CurrentStep: &step})
		assert.ErrorIs(t, err, store.ErrSessionCompleted)

		got, err := tracker.Get(ctx, "done")
		require.NoError(t, err)
		assert.Equal(t, "writing", got.CurrentStep)
		assert.Zero(t, got.Progress)
	})

	t.Run("complete twice keeps the last result", func(t *testing.T) {
		require.NoError(t, tracker.Create(ctx, "twice", store.ImportStatus{}))
		first := store.ImportResult{Success: false, SessionID: "twice", Errors: []string{"a", "a"}}
		require.NoError(t, tracker.Complete(ctx, "twice", first))
		require.NoError(t, tracker.Complete(ctx, "twice", first))

		got, err := tracker.Get(ctx, "twice")
		require.NoError(t, err)
		assert.Equal(t, first, *got.Result)

		second := store.ImportResult{Success: true, SessionID: "twice", TotalRows: 3, ImportedRows: 3, Errors: []string{}}
		require.NoError(t, tracker.Complete(ctx, "twice", second))
		got, err = tracker.Get(ctx, "twice")
		require.NoError(t, err)
		assert.Equal(t, second, *got.Result)
	})

	t.Run("get returns an isolated snapshot", func(t *testing.T) {
		require.NoError(t, tracker.Create(ctx, "snapshot", store.ImportStatus{}))
		require.NoError(t, tracker.Complete(ctx, "snapshot", store.ImportResult{
			SessionID: "snapshot",
			Errors:    []string{"row 1 invalid"},
		}))

		got, err := tracker.Get(ctx, "snapshot")
		require.NoError(t, err)
		got.Result.Errors[0] = "mutated"

		again, err := tracker.Get(ctx, "snapshot")
		require.NoError(t, err)
		assert.Equal(t, []string{"row 1 invalid"}, again.Result.Errors)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, tracker.Create(ctx, "delete-me", store.ImportStatus{}))
		require.NoError(t, tracker.Delete(ctx, "delete-me"))

		_, err := tracker.Get(ctx, "delete-me")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, tracker.Delete(ctx, "delete-me"), store.ErrNotFound)
	})

	t.Run("concurrent sessions", func(t *testing.T) {
		ids := []string{"c-1", "c-2", "c-3", "c-4"}
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				assert.NoError(t, tracker.Create(ctx, id, store.ImportStatus{}))
				for i := 1; i <= 20; i++ {
					progress := float64(i * 5)
					assert.NoError(t, tracker.Update(ctx, id, store.StatusUpdate{Progress: &progress}))
					_, err := tracker.Get(ctx, id)
					assert.NoError(t, err)
				}
			}(id)
		}
		wg.Wait()

		for _, id := range ids {
			got, err := tracker.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 100.0, got.Progress)
		}
	})
}
