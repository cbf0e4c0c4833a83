package domain

import (
	"context"
	"sync"
)

// RowReader streams raw rows from an export.
// Next returns io.EOF at the end; an error wrapping ErrMalformedRow means the
// row was skipped and reading may continue. Any other error is fatal.
type RowReader interface {
	Next() (RawRow, error)
	Close() error
}

// CheckpointStore persists job progress across process restarts
type CheckpointStore interface {
	// Load returns nil, nil when the job has no checkpoint
	Load(ctx context.Context, jobID string) (*Checkpoint, error)
	// Save atomically replaces the job's checkpoint
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context, jobID string) error
}

// JobLocker prevents concurrent runs of the same job.
// Acquire fails with ErrJobAlreadyRunning when the lock is held elsewhere.
type JobLocker interface {
	Acquire(ctx context.Context, jobID string) (*JobLock, error)
}

// JobLock is a held job lock. Lost is closed when the holder finds that it
// no longer owns the lock, after an expiry or a takeover.
type JobLock struct {
	release     func() error
	lost        chan struct{}
	lostOnce    sync.Once
	releaseOnce sync.Once
	releaseErr  error
}

// NewJobLock wraps the backend's release function
func NewJobLock(release func() error) *JobLock {
	return &JobLock{release: release, lost: make(chan struct{})}
}

func (l *JobLock) Lost() <-chan struct{} {
	return l.lost
}

// MarkLost signals that ownership is gone; it is safe to call more than once
func (l *JobLock) MarkLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// Release gives the lock back. Only the first call reaches the backend.
func (l *JobLock) Release() error {
	l.releaseOnce.Do(func() {
		if l.release != nil {
			l.releaseErr = l.release()
		}
	})
	return l.releaseErr
}

// CatalogStore is the remote catalog's idempotent write API, keyed by SKU
type CatalogStore interface {
	UpsertProduct(ctx context.Context, product CanonicalProduct) (productID string, err error)
	UpsertVariant(ctx context.Context, productID string, variant CanonicalVariant) (variantID string, err error)
}

// Reporter records per-record outcomes and produces the run summary
type Reporter interface {
	RecordOutcome(outcome RunOutcome) error
	RecordAnomaly(anomaly Anomaly) error
	Finish(info RunInfo) (*RunSummary, error)
}
