package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"perspective-engine/backend/internal/metrics"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/internal/tracing"
	"perspective-engine/backend/pkg/models"
)

// Handler is the body of a workflow. It runs its steps through Step and
// returns the instance output.
type Handler func(ctx context.Context, run *Run) (string, error)

// Run is the execution context handed to a Handler for one instance.
type Run struct {
	instance *models.Instance
	executor *Executor
}

// InstanceID returns the id of the running instance.
func (r *Run) InstanceID() string { return r.instance.ID }

// Input returns the parameters the instance was created with.
func (r *Run) Input() models.AnalysisInput { return r.instance.Input }

// Step executes a named step of the run. See Execute.
func Step[T any](ctx context.Context, run *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Execute(ctx, run.executor, run.instance.ID, name, fn)
}

// Runner drives instances through their handler and records the terminal state.
type Runner struct {
	store    repository.InstanceStore
	executor *Executor
	handler  Handler
	logger   Logger
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(store repository.InstanceStore, executor *Executor, handler Handler, logger Logger) *Runner {
	return &Runner{
		store:    store,
		executor: executor,
		handler:  handler,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the instance and returns its final snapshot. A terminal
// instance is returned unchanged without running anything. A handler error
// moves the instance to errored; the returned error is reserved for storage
// failures and cancellation.
//
// If ctx is cancelled while the handler runs, the instance stays running so
// it can be resumed later.
func (r *Runner) Run(ctx context.Context, instanceID string) (*models.Instance, error) {
	inst, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	if inst.Status.Terminal() {
		return inst, nil
	}

	ctx, span := tracing.StartSpan(ctx, "workflow.run", attribute.String("workflow.instance_id", instanceID))
	metrics.InstanceStarted()

	output, runErr := r.handler(ctx, &Run{instance: inst, executor: r.executor})
	if runErr != nil && ctx.Err() != nil {
		metrics.InstanceFinished("interrupted")
		tracing.End(span, ctx.Err())
		r.logger.Info("instance interrupted", "instance_id", instanceID)
		return inst, ctx.Err()
	}

	inst.UpdatedAt = r.now()
	if runErr != nil {
		inst.Status = models.StatusErrored
		inst.Error = runErr.Error()
		inst.Output = ""
		r.logger.Error("instance errored", "instance_id", instanceID, "error", runErr)
	} else {
		inst.Status = models.StatusTerminated
		inst.Output = output
		r.logger.Info("instance terminated", "instance_id", instanceID)
	}
	metrics.InstanceFinished(string(inst.Status))

	if err := r.store.UpdateInstance(ctx, inst); err != nil {
		tracing.End(span, err)
		if errors.Is(err, repository.ErrTerminalInstance) {
			// another run of the same instance finished first; its state stands
			return r.store.GetInstance(ctx, instanceID)
		}
		return nil, fmt.Errorf("store instance %s: %w", instanceID, err)
	}

	tracing.End(span, runErr)
	return inst, nil
}
