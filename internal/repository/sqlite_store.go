package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"perspective-engine/backend/pkg/models"
)

// SQLiteStore is a single-file implementation of the Repository interface.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps write-once inserts serialized
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// SaveDecision appends a decision entry.
func (s *SQLiteStore) SaveDecision(ctx context.Context, entry *models.DecisionEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO decisions (user_id, prompt, analysis, created_at) VALUES (?, ?, ?, ?)",
		entry.UserID, entry.Prompt, entry.Analysis, unixNano(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("decision id: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit entries for userID, newest first.
func (s *SQLiteStore) RecentDecisions(ctx context.Context, userID string, limit int) ([]models.DecisionEntry, error) {
	if limit <= 0 {
		return make([]models.DecisionEntry, 0), nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, prompt, analysis, created_at FROM decisions WHERE user_id = ? ORDER BY id DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	return scanSQLiteDecisions(rows)
}

// ListDecisions returns all entries for userID, newest first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, userID string) ([]models.DecisionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, prompt, analysis, created_at FROM decisions WHERE user_id = ? ORDER BY id DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return scanSQLiteDecisions(rows)
}

func scanSQLiteDecisions(rows *sql.Rows) ([]models.DecisionEntry, error) {
	defer rows.Close()

	entries := make([]models.DecisionEntry, 0)
	for rows.Next() {
		var e models.DecisionEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Prompt, &e.Analysis, &ts); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Timestamp = fromUnixNano(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasResult reports whether a step result exists.
func (s *SQLiteStore) HasResult(ctx context.Context, instanceID, stepName string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM workflow_steps WHERE instance_id = ? AND step_name = ?",
		instanceID, stepName,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check step %q: %w", stepName, err)
	}
	return n > 0, nil
}

// GetResult returns the stored step result.
func (s *SQLiteStore) GetResult(ctx context.Context, instanceID, stepName string) ([]byte, error) {
	var result []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT result FROM workflow_steps WHERE instance_id = ? AND step_name = ?",
		instanceID, stepName,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step %q: %w", stepName, err)
	}
	return result, nil
}

// PutResult records a step result once.
func (s *SQLiteStore) PutResult(ctx context.Context, instanceID, stepName string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO workflow_steps (instance_id, step_name, result, created_at) VALUES (?, ?, ?, ?)",
		instanceID, stepName, value, unixNano(time.Now()),
	)
	if isSQLiteConstraint(err) {
		return ErrDuplicateStep
	}
	if err != nil {
		return fmt.Errorf("put step %q: %w", stepName, err)
	}
	return nil
}

// ListSteps returns the instance's step records in write order.
func (s *SQLiteStore) ListSteps(ctx context.Context, instanceID string) ([]models.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT instance_id, step_name, result, created_at FROM workflow_steps WHERE instance_id = ? ORDER BY rowid",
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	records := make([]models.StepRecord, 0)
	for rows.Next() {
		var r models.StepRecord
		var ts int64
		if err := rows.Scan(&r.InstanceID, &r.StepName, &r.Result, &ts); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		r.CreatedAt = fromUnixNano(ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CreateInstance stores a new instance.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *models.Instance) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_instances (id, status, prompt, user_id, output, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, string(inst.Status), inst.Input.Prompt, inst.Input.UserID, inst.Output, inst.Error,
		unixNano(inst.CreatedAt), unixNano(inst.UpdatedAt),
	)
	if isSQLiteConstraint(err) {
		return ErrDuplicateInstance
	}
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by its ID.
func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+instanceColumns+" FROM workflow_instances WHERE id = ?", id)
	inst, err := scanSQLiteInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance moves a running instance to its new state.
func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *models.Instance) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE workflow_instances SET status = ?, output = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(inst.Status), inst.Output, inst.Error, unixNano(inst.UpdatedAt), inst.ID, string(models.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetInstance(ctx, inst.ID); getErr != nil {
			return getErr
		}
		return ErrTerminalInstance
	}
	return nil
}

// ListInstances returns instances with the given status, oldest first.
func (s *SQLiteStore) ListInstances(ctx context.Context, status models.Status) ([]*models.Instance, error) {
	query := "SELECT " + instanceColumns + " FROM workflow_instances"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*models.Instance, 0)
	for rows.Next() {
		inst, err := scanSQLiteInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteInstance(row sqlScanner) (*models.Instance, error) {
	var inst models.Instance
	var status string
	var created, updated int64
	err := row.Scan(&inst.ID, &status, &inst.Input.Prompt, &inst.Input.UserID,
		&inst.Output, &inst.Error, &created, &updated)
	if err != nil {
		return nil, err
	}
	inst.Status = models.Status(status)
	if !inst.Status.Valid() {
		return nil, fmt.Errorf("instance %s has unknown status %q", inst.ID, status)
	}
	inst.CreatedAt = fromUnixNano(created)
	inst.UpdatedAt = fromUnixNano(updated)
	return &inst, nil
}

var _ Repository = (*SQLiteStore)(nil)
