package checkpoint

import (
	"context"
	"slices"
	"sync"

	"github.com/catalogsync/importer/internal/domain"
)

// MemoryStore is a thread-safe in-process checkpoint store for dry runs and tests
type MemoryStore struct {
	data  map[string]domain.Checkpoint
	mutex sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]domain.Checkpoint)}
}

func (m *MemoryStore) Load(ctx context.Context, jobID string) (*domain.Checkpoint, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	cp, ok := m.data[jobID]
	if !ok {
		return nil, nil
	}
	cp.Failures = slices.Clone(cp.Failures)
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	cp.Failures = slices.Clone(cp.Failures)
	m.data[cp.JobID] = cp
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, jobID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.data, jobID)
	return nil
}

// Size returns the number of stored checkpoints
func (m *MemoryStore) Size() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.data)
}

// MemoryLock is an in-process job lock
type MemoryLock struct {
	held  map[string]bool
	mutex sync.Mutex
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]bool)}
}

func (m *MemoryLock) Acquire(ctx context.Context, jobID string) (*domain.JobLock, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.held[jobID] {
		return nil, domain.ErrJobAlreadyRunning
	}
	m.held[jobID] = true

	return domain.NewJobLock(func() error {
		m.mutex.Lock()
		delete(m.held, jobID)
		m.mutex.Unlock()
		return nil
	}), nil
}
