package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

// SchedulerConfig holds pacing settings
type SchedulerConfig struct {
	BatchSize   int
	RecordDelay time.Duration
	BatchDelay  time.Duration
}

// BatchScheduler walks records in fixed windows with fixed delays between them
type BatchScheduler struct {
	cfg SchedulerConfig
}

// NewBatchScheduler creates a scheduler; batch size defaults to 5
func NewBatchScheduler(cfg SchedulerConfig) *BatchScheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &BatchScheduler{cfg: cfg}
}

// Delay returns the pause before the record at position (0-based within the run)
func (s *BatchScheduler) Delay(position int) time.Duration {
	if position == 0 {
		return 0
	}
	if position%s.cfg.BatchSize == 0 {
		return s.cfg.BatchDelay
	}
	return s.cfg.RecordDelay
}

// Run calls fn for each record in order. Every delay is a cancellation point;
// the context is also checked before each record. An error from fn stops the walk.
func (s *BatchScheduler) Run(ctx context.Context, records []domain.ImportRecord, fn func(context.Context, domain.ImportRecord) error) error {
	for i, rec := range records {
		if i > 0 && i%s.cfg.BatchSize == 0 {
			zap.L().Debug("batch boundary",
				zap.Int("batch", i/s.cfg.BatchSize),
				zap.Int("nextIndex", rec.Index),
				zap.Duration("delay", s.cfg.BatchDelay))
		}
		if err := sleepContext(ctx, s.Delay(i)); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
