package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"perspective-engine/backend/pkg/models"
)

// MemoryStore is an in-process implementation of Repository. It does not
// survive restarts and is meant for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	decisions []models.DecisionEntry
	steps     map[string]models.StepRecord // key: "instanceID\x00stepName"
	order     map[string][]string          // instanceID -> step names in write order
	instances map[string]*models.Instance
}

// NewMemoryStore creates a new, empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:     make(map[string]models.StepRecord),
		order:     make(map[string][]string),
		instances: make(map[string]*models.Instance),
	}
}

func stepKey(instanceID, stepName string) string {
	return instanceID + "\x00" + stepName
}

// Migrate is a no-op for the memory store.
func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }

// SaveDecision appends a decision entry.
func (m *MemoryStore) SaveDecision(_ context.Context, entry *models.DecisionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	entry.ID = m.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.decisions = append(m.decisions, *entry)
	return nil
}

// RecentDecisions returns up to limit entries for userID, newest first.
func (m *MemoryStore) RecentDecisions(_ context.Context, userID string, limit int) ([]models.DecisionEntry, error) {
	if limit <= 0 {
		return make([]models.DecisionEntry, 0), nil
	}
	return m.decisionsFor(userID, limit), nil
}

// ListDecisions returns all entries for userID, newest first.
func (m *MemoryStore) ListDecisions(_ context.Context, userID string) ([]models.DecisionEntry, error) {
	return m.decisionsFor(userID, -1), nil
}

// decisionsFor collects userID's entries newest first; a negative max means all.
func (m *MemoryStore) decisionsFor(userID string, max int) []models.DecisionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.DecisionEntry, 0)
	for i := len(m.decisions) - 1; i >= 0; i-- {
		if max >= 0 && len(out) == max {
			break
		}
		if m.decisions[i].UserID == userID {
			out = append(out, m.decisions[i])
		}
	}
	return out
}

// HasResult reports whether a step result exists.
func (m *MemoryStore) HasResult(_ context.Context, instanceID, stepName string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.steps[stepKey(instanceID, stepName)]
	return ok, nil
}

// GetResult returns a copy of the stored step result.
func (m *MemoryStore) GetResult(_ context.Context, instanceID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.steps[stepKey(instanceID, stepName)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.Result...), nil
}

// PutResult records a step result once.
func (m *MemoryStore) PutResult(_ context.Context, instanceID, stepName string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stepKey(instanceID, stepName)
	if _, ok := m.steps[key]; ok {
		return ErrDuplicateStep
	}
	m.steps[key] = models.StepRecord{
		InstanceID: instanceID,
		StepName:   stepName,
		Result:     append([]byte(nil), value...),
		CreatedAt:  time.Now().UTC(),
	}
	m.order[instanceID] = append(m.order[instanceID], stepName)
	return nil
}

// ListSteps returns the instance's step records in write order.
func (m *MemoryStore) ListSteps(_ context.Context, instanceID string) ([]models.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := m.order[instanceID]
	out := make([]models.StepRecord, 0, len(names))
	for _, name := range names {
		out = append(out, m.steps[stepKey(instanceID, name)])
	}
	return out, nil
}

// CreateInstance stores a new instance.
func (m *MemoryStore) CreateInstance(_ context.Context, inst *models.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[inst.ID]; ok {
		return ErrDuplicateInstance
	}
	cp := *inst
	m.instances[inst.ID] = &cp
	return nil
}

// GetInstance returns a snapshot of the instance.
func (m *MemoryStore) GetInstance(_ context.Context, id string) (*models.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

// UpdateInstance moves a running instance to its new state.
func (m *MemoryStore) UpdateInstance(_ context.Context, inst *models.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status.Terminal() {
		return ErrTerminalInstance
	}
	cur.Status = inst.Status
	cur.Output = inst.Output
	cur.Error = inst.Error
	cur.UpdatedAt = inst.UpdatedAt
	return nil
}

// ListInstances returns instances with the given status, oldest first.
// An empty status matches every instance.
func (m *MemoryStore) ListInstances(_ context.Context, status models.Status) ([]*models.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Instance, 0)
	for _, inst := range m.instances {
		if status != "" && inst.Status != status {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ Repository = (*MemoryStore)(nil)
