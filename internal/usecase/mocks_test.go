package usecase

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/catalogsync/importer/internal/domain"
)

// MockRowReader serves rows parsed from an in-memory CSV-like table
type MockRowReader struct {
	rows   []domain.RawRow
	errs   map[int]error
	pos    int
	closed bool
}

// newRows builds rows from a header line and comma-separated value lines
func newRows(header string, lines ...string) *MockRowReader {
	h := strings.Split(header, ",")
	r := &MockRowReader{errs: make(map[int]error)}
	for i, line := range lines {
		r.rows = append(r.rows, domain.RawRow{Line: i + 2, Header: h, Values: strings.Split(line, ",")})
	}
	return r
}

func (m *MockRowReader) Next() (domain.RawRow, error) {
	if m.pos >= len(m.rows) {
		return domain.RawRow{}, io.EOF
	}
	row := m.rows[m.pos]
	err := m.errs[m.pos]
	m.pos++
	if err != nil {
		return domain.RawRow{Line: row.Line}, err
	}
	return row, nil
}

func (m *MockRowReader) Close() error {
	m.closed = true
	return nil
}

// opener returns a SourceOpener producing fresh readers over the same rows
func opener(header string, lines ...string) SourceOpener {
	return func() (domain.RowReader, error) {
		return newRows(header, lines...), nil
	}
}

// MockCheckpointStore is an in-memory domain.CheckpointStore that records every save
type MockCheckpointStore struct {
	mu       sync.Mutex
	data     map[string]domain.Checkpoint
	saves    []int
	clears   int
	loadErr  error
	saveErr  error
	failAt   int
	saveHook func(domain.Checkpoint)
}

func NewMockCheckpointStore() *MockCheckpointStore {
	return &MockCheckpointStore{data: make(map[string]domain.Checkpoint), failAt: -2}
}

func (m *MockCheckpointStore) Load(ctx context.Context, jobID string) (*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	cp, ok := m.data[jobID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *MockCheckpointStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil || cp.LastCommittedIndex == m.failAt {
		return fmt.Errorf("disk full")
	}
	m.data[cp.JobID] = cp
	m.saves = append(m.saves, cp.LastCommittedIndex)
	if m.saveHook != nil {
		m.saveHook(cp)
	}
	return nil
}

func (m *MockCheckpointStore) Clear(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, jobID)
	m.clears++
	return nil
}

// MockLocker is a domain.JobLocker backed by a set of held job locks
type MockLocker struct {
	mu   sync.Mutex
	held map[string]*domain.JobLock
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]*domain.JobLock)}
}

func (m *MockLocker) Acquire(ctx context.Context, jobID string) (*domain.JobLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[jobID] != nil {
		return nil, domain.ErrJobAlreadyRunning
	}
	lock := domain.NewJobLock(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, jobID)
		return nil
	})
	m.held[jobID] = lock
	return lock, nil
}

// lose marks the held lock of a job as taken by someone else
func (m *MockLocker) lose(jobID string) {
	m.mu.Lock()
	lock := m.held[jobID]
	m.mu.Unlock()
	if lock != nil {
		lock.MarkLost()
	}
}

// MockCatalogStore is an idempotent in-memory catalog with scripted failures
type MockCatalogStore struct {
	mu            sync.Mutex
	products      map[string]domain.CanonicalProduct
	variants      map[string]domain.CanonicalVariant
	productCalls  map[string]int
	variantCalls  map[string]int
	productErrs   map[string][]error
	variantErrs   map[string][]error
	delay         time.Duration
	onProductCall func(sku string)
}

func NewMockCatalogStore() *MockCatalogStore {
	return &MockCatalogStore{
		products:     make(map[string]domain.CanonicalProduct),
		variants:     make(map[string]domain.CanonicalVariant),
		productCalls: make(map[string]int),
		variantCalls: make(map[string]int),
		productErrs:  make(map[string][]error),
		variantErrs:  make(map[string][]error),
	}
}

func (m *MockCatalogStore) UpsertProduct(ctx context.Context, p domain.CanonicalProduct) (string, error) {
	if m.onProductCall != nil {
		m.onProductCall(p.SKU)
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productCalls[p.SKU]++
	if errs := m.productErrs[p.SKU]; len(errs) > 0 {
		m.productErrs[p.SKU] = errs[1:]
		if errs[0] != nil {
			return "", errs[0]
		}
	}
	m.products[p.SKU] = p
	return "id-" + p.SKU, nil
}

func (m *MockCatalogStore) UpsertVariant(ctx context.Context, productID string, v domain.CanonicalVariant) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variantCalls[v.SKU]++
	if errs := m.variantErrs[v.SKU]; len(errs) > 0 {
		m.variantErrs[v.SKU] = errs[1:]
		if errs[0] != nil {
			return "", errs[0]
		}
	}
	m.variants[v.SKU] = v
	return "id-" + v.SKU, nil
}

func (m *MockCatalogStore) productCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products)
}

func (m *MockCatalogStore) variantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.variants)
}

// MockReporter accumulates outcomes and builds a summary the way the real reporter does
type MockReporter struct {
	mu        sync.Mutex
	outcomes  []domain.RunOutcome
	anomalies []domain.Anomaly
}

func (m *MockReporter) RecordOutcome(o domain.RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

func (m *MockReporter) RecordAnomaly(a domain.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, a)
	return nil
}

func (m *MockReporter) Finish(info domain.RunInfo) (*domain.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &domain.RunSummary{
		JobID:         info.JobID,
		RunID:         info.RunID,
		PriceScale:    info.PriceScale,
		TotalRecords:  info.TotalRecords,
		ResumedFrom:   info.ResumedFrom,
		MalformedRows: info.MalformedRows,
		Anomalies:     m.anomalies,
		State:         domain.RunCompleted,
		Failed:        len(info.PriorFailures),
		PriorFailed:   len(info.PriorFailures),
		Failures:      append([]domain.FailedRecord{}, info.PriorFailures...),
	}
	for _, o := range m.outcomes {
		s.Processed++
		switch o.Status {
		case domain.StatusCommitted:
			s.Committed++
		case domain.StatusSkipped:
			s.Skipped++
		case domain.StatusFailed:
			s.Failed++
			s.Failures = append(s.Failures, domain.FailedRecord{Index: o.Index, SKU: o.SKU, Error: o.Error})
		}
	}
	switch {
	case info.Fatal != nil:
		s.State = domain.RunFatal
	case info.Interrupted:
		s.State = domain.RunInterrupted
	case s.Failed > 0:
		s.State = domain.RunPartial
	}
	return s, nil
}

func (m *MockReporter) indices() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.outcomes))
	for _, o := range m.outcomes {
		out = append(out, o.Index)
	}
	return out
}
