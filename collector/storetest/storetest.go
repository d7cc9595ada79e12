// Package storetest checks collector.Store implementations against the
// shared contract.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/checkpoint/collector"
)

// Run exercises store. The store must start empty.
func Run(t *testing.T, store collector.Store) {
	ctx := context.Background()
	require.NoError(t, store.CreateSchema(ctx))

	t.Run("create and get", func(t *testing.T) {
		completed := int64(2000)
		created, err := store.CreateTrace(ctx, &collector.Trace{
			Org:          "acme",
			ExecutionID:  "exec-1",
			WorkflowName: "Agent",
			Version:      1,
			StartedAt:    1000,
			CompletedAt:  &completed,
			Steps:        3,
			Runtime:      "sdk",
			RawExecution: "raw-1",
		})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := store.GetTrace(ctx, "acme", created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, 3, got.Steps)
		assert.Equal(t, "raw-1", got.RawExecution)
		require.NotNil(t, got.CompletedAt)
		assert.Equal(t, completed, *got.CompletedAt)

		other, err := store.GetTrace(ctx, "other-org", created.ID)
		require.NoError(t, err)
		assert.Nil(t, other)
	})

	t.Run("get missing", func(t *testing.T) {
		got, err := store.GetTrace(ctx, "acme", "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("update only moves forward", func(t *testing.T) {
		created, err := store.CreateTrace(ctx, &collector.Trace{
			Org: "acme", ExecutionID: "exec-2", Version: 2, RawExecution: "v2",
		})
		require.NoError(t, err)

		next := *created
		next.Version, next.RawExecution = 5, "v5"
		applied, err := store.UpdateTrace(ctx, &next)
		require.NoError(t, err)
		assert.True(t, applied)

		stale := *created
		stale.Version, stale.RawExecution = 4, "v4"
		applied, err = store.UpdateTrace(ctx, &stale)
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := store.GetTrace(ctx, "acme", created.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Version)
		assert.Equal(t, "v5", got.RawExecution)
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := store.UpdateTrace(ctx, &collector.Trace{Org: "acme", ID: "missing", Version: 9})
		assert.ErrorIs(t, err, collector.ErrTraceNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		traces, err := store.ListTraces(ctx, "listing")
		require.NoError(t, err)
		assert.Empty(t, traces)

		first, err := store.CreateTrace(ctx, &collector.Trace{Org: "listing", ExecutionID: "a", Version: 1, RawExecution: "r"})
		require.NoError(t, err)
		_, err = store.CreateTrace(ctx, &collector.Trace{Org: "listing", ExecutionID: "b", Version: 1, RawExecution: "r"})
		require.NoError(t, err)

		traces, err = store.ListTraces(ctx, "listing")
		require.NoError(t, err)
		require.Len(t, traces, 2)
		assert.ElementsMatch(t, []string{"a", "b"}, []string{traces[0].ExecutionID, traces[1].ExecutionID})
		for _, tr := range traces {
			assert.Empty(t, tr.RawExecution)
		}

		require.NoError(t, store.DeleteTrace(ctx, "listing", first.ID))
		require.NoError(t, store.DeleteTrace(ctx, "listing", "never-existed"))
		traces, err = store.ListTraces(ctx, "listing")
		require.NoError(t, err)
		require.Len(t, traces, 1)
		assert.Equal(t, "b", traces[0].ExecutionID)
	})

	require.NoError(t, store.DropSchema(ctx))
}
