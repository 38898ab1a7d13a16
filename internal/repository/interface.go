package repository

import (
	"context"
	"errors"

	"perspective-engine/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateStep is returned when a step result is written twice for the same instance.
	ErrDuplicateStep = errors.New("repository: step result already recorded")
	// ErrTerminalInstance is returned when an update targets an instance that already finished.
	ErrTerminalInstance = errors.New("repository: instance already terminal")
	// ErrDuplicateInstance is returned when an instance id is reused.
	ErrDuplicateInstance = errors.New("repository: instance already exists")
)

// DecisionStore is an interface for the append-only decision history.
type DecisionStore interface {
	// SaveDecision appends an entry and fills in its ID and Timestamp.
	SaveDecision(ctx context.Context, entry *models.DecisionEntry) error
	// RecentDecisions returns at most limit entries for the user, newest first.
	// A limit of zero or less yields an empty slice.
	RecentDecisions(ctx context.Context, userID string, limit int) ([]models.DecisionEntry, error)
	// ListDecisions returns every entry for the user, newest first.
	ListDecisions(ctx context.Context, userID string) ([]models.DecisionEntry, error)
}

// StepLedger records the durable result of each completed step.
// Results are write-once per (instanceID, stepName).
type StepLedger interface {
	HasResult(ctx context.Context, instanceID, stepName string) (bool, error)
	// GetResult returns ErrNotFound when no result was recorded.
	GetResult(ctx context.Context, instanceID, stepName string) ([]byte, error)
	// PutResult returns ErrDuplicateStep when a result was already recorded.
	PutResult(ctx context.Context, instanceID, stepName string, value []byte) error
	// ListSteps returns the instance's records in the order they were written.
	ListSteps(ctx context.Context, instanceID string) ([]models.StepRecord, error)
}

// InstanceStore persists workflow instances.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst *models.Instance) error
	// GetInstance returns ErrNotFound for unknown ids.
	GetInstance(ctx context.Context, id string) (*models.Instance, error)
	// UpdateInstance stores status, output and error. It returns ErrTerminalInstance
	// if the stored instance is no longer running.
	UpdateInstance(ctx context.Context, inst *models.Instance) error
	ListInstances(ctx context.Context, status models.Status) ([]*models.Instance, error)
}

// Repository is the full storage surface used by the server.
type Repository interface {
	DecisionStore
	StepLedger
	InstanceStore
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
