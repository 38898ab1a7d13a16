package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"perspective-engine/backend/internal/metrics"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/internal/tracing"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Executor runs named steps at most once per instance, backed by a ledger.
type Executor struct {
	ledger repository.StepLedger
	logger Logger
}

// NewExecutor creates an Executor that records results in ledger.
func NewExecutor(ledger repository.StepLedger, logger Logger) *Executor {
	return &Executor{ledger: ledger, logger: logger}
}

// Execute returns the recorded result for (instanceID, stepName) if there is
// one. Otherwise it calls fn and records its result. A failing fn records
// nothing and is reported as a *StepError.
func (e *Executor) Execute(ctx context.Context, instanceID, stepName string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.step",
		attribute.String("workflow.instance_id", instanceID),
		attribute.String("workflow.step", stepName),
	)
	result, err := e.execute(ctx, instanceID, stepName, fn)
	tracing.End(span, err)
	return result, err
}

func (e *Executor) execute(ctx context.Context, instanceID, stepName string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	done, err := e.ledger.HasResult(ctx, instanceID, stepName)
	if err != nil {
		return nil, fmt.Errorf("step %q: check ledger: %w", stepName, err)
	}
	if done {
		data, err := e.ledger.GetResult(ctx, instanceID, stepName)
		if err != nil {
			return nil, fmt.Errorf("step %q: read ledger: %w", stepName, err)
		}
		e.logger.Debug("skipping recorded step", "instance_id", instanceID, "step", stepName)
		metrics.RecordStep(stepName, metrics.OutcomeMemoized, 0)
		return data, nil
	}

	start := time.Now()
	data, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordStep(stepName, metrics.OutcomeFailed, elapsed)
		e.logger.Warn("step failed", "instance_id", instanceID, "step", stepName, "error", err)
		return nil, &StepError{Step: stepName, Err: err}
	}

	if err := e.ledger.PutResult(ctx, instanceID, stepName, data); err != nil {
		if errors.Is(err, repository.ErrDuplicateStep) {
			e.logger.Error("step result recorded twice", "instance_id", instanceID, "step", stepName)
		}
		return nil, fmt.Errorf("step %q: record result: %w", stepName, err)
	}

	metrics.RecordStep(stepName, metrics.OutcomeExecuted, elapsed)
	e.logger.Debug("step completed", "instance_id", instanceID, "step", stepName, "elapsed", elapsed)
	return data, nil
}

// Execute runs a step producing a typed value. Results are stored as JSON, and
// a fresh result is decoded from its stored form so a resumed run sees exactly
// what the first run saw.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func Execute[T any](ctx context.Context, e *Executor, instanceID, stepName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := e.Execute(ctx, instanceID, stepName, func(ctx context.Context) ([]byte, error) {
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, fmt.Errorf("step %q: decode result: %w", stepName, err)
	}
	return result, nil
}
