package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perspective-engine/backend/internal/logging"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/pkg/models"
)

func newTestRegistry(store *repository.MemoryStore, handler Handler) *Registry {
	logger := logging.Discard()
	runner := NewRunner(store, NewExecutor(store, logger), handler, logger)
	return NewRegistry(store, store, runner, logger)
}

func TestRegistry_CreateReturnsBeforeCompletion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	release := make(chan struct{})

	registry := newTestRegistry(store, func(ctx context.Context, run *Run) (string, error) {
		if _, err := Step(ctx, run, "wait", func(context.Context) (bool, error) {
			<-release
			return true, nil
		}); err != nil {
			return "", err
		}
		return "answer for " + run.Input().UserID, nil
	})

	id, err := registry.Create(ctx, models.AnalysisInput{Prompt: "Take the job?", UserID: "user_1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	inst, err := registry.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, inst.Status)
	assert.Equal(t, "Take the job?", inst.Input.Prompt)

	close(release)
	registry.Wait()

	inst, err = registry.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, inst.Status)
	assert.Equal(t, "answer for user_1", inst.Output)
	assert.Equal(t, []string{"wait"}, inst.Steps)
}

func TestRegistry_CreateRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	registry := newTestRegistry(store, func(context.Context, *Run) (string, error) { return "", nil })

	_, err := registry.Create(ctx, models.AnalysisInput{Prompt: "   ", UserID: "user_1"})
	require.Error(t, err)

	all, err := store.ListInstances(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	registry := newTestRegistry(store, func(context.Context, *Run) (string, error) { return "ok", nil })

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := registry.Create(ctx, models.AnalysisInput{Prompt: "p", UserID: "u"})
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	registry.Wait()
}

func TestRegistry_StatusUnknown(t *testing.T) {
	store := repository.NewMemoryStore()
	registry := newTestRegistry(store, func(context.Context, *Run) (string, error) { return "", nil })

	_, err := registry.Status(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRegistry_ResumeRunning(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	newRunningInstance(t, store, "left-over")
	require.NoError(t, store.PutResult(ctx, "left-over", "first", []byte(`"cached"`)))

	firstRuns := 0
	registry := newTestRegistry(store, func(ctx context.Context, run *Run) (string, error) {
		first, err := Step(ctx, run, "first", func(context.Context) (string, error) {
			firstRuns++
			return "fresh", nil
		})
		if err != nil {
			return "", err
		}
		return Step(ctx, run, "second", func(context.Context) (string, error) {
			return first + "+second", nil
		})
	})

	n, err := registry.ResumeRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	registry.Wait()

	inst, err := registry.Status(ctx, "left-over")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, inst.Status)
	assert.Equal(t, "cached+second", inst.Output)
	assert.Equal(t, 0, firstRuns)
	assert.Equal(t, []string{"first", "second"}, inst.Steps)
}

func TestRegistry_ShutdownLeavesInstancesResumable(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	started := make(chan struct{})

	registry := newTestRegistry(store, func(ctx context.Context, run *Run) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	id, err := registry.Create(ctx, models.AnalysisInput{Prompt: "p", UserID: "u"})
	require.NoError(t, err)
	<-started

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, registry.Shutdown(shutdownCtx))

	inst, err := store.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, inst.Status)
}
