package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perspective-engine/backend/internal/logging"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/pkg/models"
)

func newRunningInstance(t *testing.T, store repository.InstanceStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateInstance(context.Background(), &models.Instance{
		ID:        id,
		Status:    models.StatusRunning,
		Input:     models.AnalysisInput{Prompt: "Should I move?", UserID: "user_1"},
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestRunner_StepsRunInOrder(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	newRunningInstance(t, store, "inst-1")

	var order []string
	handler := func(ctx context.Context, run *Run) (string, error) {
		for _, name := range []string{"one", "two", "three"} {
			if _, err := Step(ctx, run, name, func(context.Context) (string, error) {
				order = append(order, name)
				return name, nil
			}); err != nil {
				return "", err
			}
		}
		return run.Input().Prompt, nil
	}

	runner := NewRunner(store, NewExecutor(store, logging.Discard()), handler, logging.Discard())
	inst, err := runner.Run(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, inst.Status)
	assert.Equal(t, "Should I move?", inst.Output)
	assert.Equal(t, []string{"one", "two", "three"}, order)

	steps, err := store.ListSteps(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "one", steps[0].StepName)
	assert.Equal(t, "three", steps[2].StepName)
}

func TestRunner_HandlerErrorMarksErrored(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	newRunningInstance(t, store, "inst-1")

	later := false
	handler := func(ctx context.Context, run *Run) (string, error) {
		if _, err := Step(ctx, run, "first", func(context.Context) (string, error) {
			return "", errors.New("upstream 503")
		}); err != nil {
			return "", err
		}
		later = true
		return "unreachable", nil
	}

	runner := NewRunner(store, NewExecutor(store, logging.Discard()), handler, logging.Discard())
	inst, err := runner.Run(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusErrored, inst.Status)
	assert.Empty(t, inst.Output)
	assert.Contains(t, inst.Error, "upstream 503")
	assert.False(t, later)

	stored, err := store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusErrored, stored.Status)
}

func TestRunner_TerminalInstanceIsStable(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	newRunningInstance(t, store, "inst-1")

	calls := 0
	handler := func(context.Context, *Run) (string, error) {
		calls++
		return "done", nil
	}
	runner := NewRunner(store, NewExecutor(store, logging.Discard()), handler, logging.Discard())

	first, err := runner.Run(ctx, "inst-1")
	require.NoError(t, err)
	second, err := runner.Run(ctx, "inst-1")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, "done", second.Output)
}

func TestRunner_SkipsRecordedSteps(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	newRunningInstance(t, store, "inst-1")
	require.NoError(t, store.PutResult(ctx, "inst-1", "reason", []byte(`"recorded analysis"`)))

	handler := func(ctx context.Context, run *Run) (string, error) {
		return Step(ctx, run, "reason", func(context.Context) (string, error) {
			t.Error("recorded step executed again")
			return "fresh", nil
		})
	}

	runner := NewRunner(store, NewExecutor(store, logging.Discard()), handler, logging.Discard())
	inst, err := runner.Run(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, inst.Status)
	assert.Equal(t, "recorded analysis", inst.Output)
}

func TestRunner_CancellationLeavesInstanceRunning(t *testing.T) {
	store := repository.NewMemoryStore()
	newRunningInstance(t, store, "inst-1")

	ctx, cancel := context.WithCancel(context.Background())
	handler := func(ctx context.Context, run *Run) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	runner := NewRunner(store, NewExecutor(store, logging.Discard()), handler, logging.Discard())
	_, err := runner.Run(ctx, "inst-1")
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := store.GetInstance(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, stored.Status)
}

func TestRunner_UnknownInstance(t *testing.T) {
	store := repository.NewMemoryStore()
	runner := NewRunner(store, NewExecutor(store, logging.Discard()), func(context.Context, *Run) (string, error) {
		return "", nil
	}, logging.Discard())

	_, err := runner.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
