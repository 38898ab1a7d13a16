package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"perspective-engine/backend/pkg/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// SaveDecision appends a decision entry.
func (s *PostgresStore) SaveDecision(ctx context.Context, entry *models.DecisionEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx,
		"INSERT INTO decisions (user_id, prompt, analysis, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
		entry.UserID, entry.Prompt, entry.Analysis, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit entries for userID, newest first.
func (s *PostgresStore) RecentDecisions(ctx context.Context, userID string, limit int) ([]models.DecisionEntry, error) {
	if limit <= 0 {
		return make([]models.DecisionEntry, 0), nil
	}
	rows, err := s.db.Query(ctx,
		"SELECT id, user_id, prompt, analysis, created_at FROM decisions WHERE user_id = $1 ORDER BY id DESC LIMIT $2",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	return scanDecisions(rows)
}

// ListDecisions returns all entries for userID, newest first.
func (s *PostgresStore) ListDecisions(ctx context.Context, userID string) ([]models.DecisionEntry, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, user_id, prompt, analysis, created_at FROM decisions WHERE user_id = $1 ORDER BY id DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return scanDecisions(rows)
}

func scanDecisions(rows pgx.Rows) ([]models.DecisionEntry, error) {
	defer rows.Close()

	entries := make([]models.DecisionEntry, 0)
	for rows.Next() {
		var e models.DecisionEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Prompt, &e.Analysis, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasResult reports whether a step result exists.
func (s *PostgresStore) HasResult(ctx context.Context, instanceID, stepName string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM workflow_steps WHERE instance_id = $1 AND step_name = $2)",
		instanceID, stepName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check step %q: %w", stepName, err)
	}
	return exists, nil
}

// GetResult returns the stored step result.
func (s *PostgresStore) GetResult(ctx context.Context, instanceID, stepName string) ([]byte, error) {
	var result []byte
	err := s.db.QueryRow(ctx,
		"SELECT result FROM workflow_steps WHERE instance_id = $1 AND step_name = $2",
		instanceID, stepName,
	).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step %q: %w", stepName, err)
	}
	return result, nil
}

// PutResult records a step result once; the primary key enforces uniqueness.
func (s *PostgresStore) PutResult(ctx context.Context, instanceID, stepName string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO workflow_steps (instance_id, step_name, result) VALUES ($1, $2, $3)",
		instanceID, stepName, value,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateStep
	}
	if err != nil {
		return fmt.Errorf("put step %q: %w", stepName, err)
	}
	return nil
}

// ListSteps returns the instance's step records in write order.
func (s *PostgresStore) ListSteps(ctx context.Context, instanceID string) ([]models.StepRecord, error) {
	rows, err := s.db.Query(ctx,
		"SELECT instance_id, step_name, result, created_at FROM workflow_steps WHERE instance_id = $1 ORDER BY seq",
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	records := make([]models.StepRecord, 0)
	for rows.Next() {
		var r models.StepRecord
		if err := rows.Scan(&r.InstanceID, &r.StepName, &r.Result, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CreateInstance stores a new instance.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *models.Instance) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_instances (id, status, prompt, user_id, output, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, string(inst.Status), inst.Input.Prompt, inst.Input.UserID, inst.Output, inst.Error, inst.CreatedAt, inst.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateInstance
	}
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

const instanceColumns = "id, status, prompt, user_id, output, error, created_at, updated_at"

// GetInstance retrieves an instance by its ID.
func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	row := s.db.QueryRow(ctx, "SELECT "+instanceColumns+" FROM workflow_instances WHERE id = $1", id)
	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance moves a running instance to its new state.
func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *models.Instance) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_instances SET status = $1, output = $2, error = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(inst.Status), inst.Output, inst.Error, inst.UpdatedAt, inst.ID, string(models.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetInstance(ctx, inst.ID); getErr != nil {
			return getErr
		}
		return ErrTerminalInstance
	}
	return nil
}

// ListInstances returns instances with the given status, oldest first.
func (s *PostgresStore) ListInstances(ctx context.Context, status models.Status) ([]*models.Instance, error) {
	query := "SELECT " + instanceColumns + " FROM workflow_instances"
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*models.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row pgx.Row) (*models.Instance, error) {
	var inst models.Instance
	var status string
	err := row.Scan(&inst.ID, &status, &inst.Input.Prompt, &inst.Input.UserID,
		&inst.Output, &inst.Error, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = models.Status(status)
	if !inst.Status.Valid() {
		return nil, fmt.Errorf("instance %s has unknown status %q", inst.ID, status)
	}
	return &inst, nil
}

var _ Repository = (*PostgresStore)(nil)
