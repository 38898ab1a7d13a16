package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/pkg/models"
)

// Registry creates workflow instances and runs them in the background.
type Registry struct {
	store  repository.InstanceStore
	ledger repository.StepLedger
	runner *Runner
	logger Logger

	// base outlives the requests that create instances; Shutdown cancels it.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry.
func NewRegistry(store repository.InstanceStore, ledger repository.StepLedger, runner *Runner, logger Logger) *Registry {
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:  store,
		ledger: ledger,
		runner: runner,
		logger: logger,
		base:   base,
		cancel: cancel,
	}
}

// Create stores a running instance for input and starts it without waiting.
func (r *Registry) Create(ctx context.Context, input models.AnalysisInput) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	inst := &models.Instance{
		ID:        ulid.Make().String(),
		Status:    models.StatusRunning,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateInstance(ctx, inst); err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}

	r.logger.Info("instance created", "instance_id", inst.ID, "user_id", input.UserID)
	r.start(inst.ID)
	return inst.ID, nil
}

// Status returns a snapshot of the instance, including the names of its
// completed steps. Unknown ids yield repository.ErrNotFound.
func (r *Registry) Status(ctx context.Context, id string) (*models.Instance, error) {
	inst, err := r.store.GetInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", id, err)
	}

	records, err := r.ledger.ListSteps(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("instance %s steps: %w", id, err)
	}
	for _, rec := range records {
		inst.Steps = append(inst.Steps, rec.StepName)
	}
	return inst, nil
}

// ResumeRunning restarts every instance left running by a previous process.
// Recorded steps are not executed again. Errored instances are not retried.
func (r *Registry) ResumeRunning(ctx context.Context) (int, error) {
	running, err := r.store.ListInstances(ctx, models.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running instances: %w", err)
	}
	for _, inst := range running {
		r.logger.Info("resuming instance", "instance_id", inst.ID)
		r.start(inst.ID)
	}
	return len(running), nil
}

func (r *Registry) start(id string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.runner.Run(r.base, id); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("instance run failed", "instance_id", id, "error", err)
		}
	}()
}

// Wait blocks until every background run has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Shutdown stops background runs and waits for them, up to ctx's deadline.
// Interrupted instances remain running and are picked up by ResumeRunning.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
