package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perspective-engine/backend/pkg/models"
)

// runRepositorySuite exercises the behavior every backend must share.
func runRepositorySuite(t *testing.T, store Repository) {
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Ping(ctx))

	t.Run("Decisions newest first", func(t *testing.T) {
		user := "user-" + uuid.New().String()
		for i := 1; i <= 5; i++ {
			entry := &models.DecisionEntry{
				UserID:   user,
				Prompt:   fmt.Sprintf("prompt %d", i),
				Analysis: fmt.Sprintf("analysis %d", i),
			}
			require.NoError(t, store.SaveDecision(ctx, entry))
			assert.NotZero(t, entry.ID)
			assert.False(t, entry.Timestamp.IsZero())
		}
		require.NoError(t, store.SaveDecision(ctx, &models.DecisionEntry{UserID: "someone-else", Prompt: "x", Analysis: "y"}))

		recent, err := store.RecentDecisions(ctx, user, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, "prompt 5", recent[0].Prompt)
		assert.Equal(t, "prompt 4", recent[1].Prompt)
		assert.Equal(t, "prompt 3", recent[2].Prompt)

		all, err := store.ListDecisions(ctx, user)
		require.NoError(t, err)
		assert.Len(t, all, 5)
		assert.Equal(t, "analysis 5", all[0].Analysis)
	})

	t.Run("Decisions non-positive limit is empty", func(t *testing.T) {
		user := "user-" + uuid.New().String()
		require.NoError(t, store.SaveDecision(ctx, &models.DecisionEntry{UserID: user, Prompt: "p", Analysis: "a"}))

		for _, limit := range []int{0, -1} {
			recent, err := store.RecentDecisions(ctx, user, limit)
			require.NoError(t, err)
			assert.NotNil(t, recent)
			assert.Empty(t, recent, "limit %d", limit)
		}
	})

	t.Run("Decisions empty for unknown user", func(t *testing.T) {
		recent, err := store.RecentDecisions(ctx, "nobody-"+uuid.New().String(), 3)
		require.NoError(t, err)
		assert.NotNil(t, recent)
		assert.Empty(t, recent)
	})

	t.Run("Step results are write once", func(t *testing.T) {
		instanceID := uuid.New().String()

		ok, err := store.HasResult(ctx, instanceID, "reason")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.GetResult(ctx, instanceID, "reason")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.PutResult(ctx, instanceID, "fetch-history", []byte(`[]`)))
		require.NoError(t, store.PutResult(ctx, instanceID, "reason", []byte(`"first"`)))
		err = store.PutResult(ctx, instanceID, "reason", []byte(`"second"`))
		assert.ErrorIs(t, err, ErrDuplicateStep)

		ok, err = store.HasResult(ctx, instanceID, "reason")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := store.GetResult(ctx, instanceID, "reason")
		require.NoError(t, err)
		assert.Equal(t, `"first"`, string(got))

		steps, err := store.ListSteps(ctx, instanceID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "fetch-history", steps[0].StepName)
		assert.Equal(t, "reason", steps[1].StepName)

		// another instance never sees these records
		ok, err = store.HasResult(ctx, uuid.New().String(), "reason")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Concurrent writers record a single result", func(t *testing.T) {
		instanceID := uuid.New().String()
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- store.PutResult(ctx, instanceID, "persist", []byte(fmt.Sprintf("%d", i)))
			}(i)
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrDuplicateStep)
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("Instance lifecycle", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		inst := &models.Instance{
			ID:        uuid.New().String(),
			Status:    models.StatusRunning,
			Input:     models.AnalysisInput{Prompt: "Should I move?", UserID: "user_1"},
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, store.CreateInstance(ctx, inst))
		assert.ErrorIs(t, store.CreateInstance(ctx, inst), ErrDuplicateInstance)

		running, err := store.ListInstances(ctx, models.StatusRunning)
		require.NoError(t, err)
		assert.True(t, containsInstance(running, inst.ID))

		done := *inst
		done.Status = models.StatusTerminated
		done.Output = "consider both"
		done.UpdatedAt = now.Add(time.Second)
		require.NoError(t, store.UpdateInstance(ctx, &done))

		got, err := store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusTerminated, got.Status)
		assert.Equal(t, "consider both", got.Output)
		assert.Equal(t, "Should I move?", got.Input.Prompt)
		assert.Equal(t, "user_1", got.Input.UserID)

		again := done
		again.Status = models.StatusErrored
		assert.ErrorIs(t, store.UpdateInstance(ctx, &again), ErrTerminalInstance)

		got, err = store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusTerminated, got.Status)

		running, err = store.ListInstances(ctx, models.StatusRunning)
		require.NoError(t, err)
		assert.False(t, containsInstance(running, inst.ID))
	})

	t.Run("Unknown instance", func(t *testing.T) {
		_, err := store.GetInstance(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.UpdateInstance(ctx, &models.Instance{ID: "missing", Status: models.StatusErrored})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func containsInstance(list []*models.Instance, id string) bool {
	for _, inst := range list {
		if inst.ID == id {
			return true
		}
	}
	return false
}
