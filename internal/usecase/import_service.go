package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/catalogsync/importer/internal/domain"
)

// SourceOpener opens a fresh reader over the export. It is called once per pass.
type SourceOpener func() (domain.RowReader, error)

// ImportServiceConfig holds per-run settings
type ImportServiceConfig struct {
	JobID   string
	Source  string
	Fresh   bool
	DryRun  bool
	Workers int
}

// ImportService runs one import job: canonicalize, resume, write, checkpoint, report
type ImportService struct {
	open        SourceOpener
	prices      *PriceNormalizer
	classifier  *CategoryClassifier
	checkpoints domain.CheckpointStore
	locker      domain.JobLocker
	writer      *CatalogWriter
	scheduler   *BatchScheduler
	reporter    domain.Reporter
	config      ImportServiceConfig

	mu       sync.RWMutex
	progress domain.Progress
	lastSave int
}

// ImportDeps groups the collaborators of an ImportService
type ImportDeps struct {
	Open        SourceOpener
	Prices      *PriceNormalizer
	Classifier  *CategoryClassifier
	Checkpoints domain.CheckpointStore
	Locker      domain.JobLocker
	Writer      *CatalogWriter
	Scheduler   *BatchScheduler
	Reporter    domain.Reporter
}

// NewImportService creates an import service with dependencies
func NewImportService(deps ImportDeps, config ImportServiceConfig) *ImportService {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewBatchScheduler(SchedulerConfig{})
	}
	if deps.Prices == nil {
		deps.Prices = NewPriceNormalizer(domain.PriceScaleAuto, 0, 0)
	}
	return &ImportService{
		open:        deps.Open,
		prices:      deps.Prices,
		classifier:  deps.Classifier,
		checkpoints: deps.Checkpoints,
		locker:      deps.Locker,
		writer:      deps.Writer,
		scheduler:   deps.Scheduler,
		reporter:    deps.Reporter,
		config:      config,
		progress:    domain.Progress{JobID: config.JobID, State: "pending", LastCommittedIndex: -1},
	}
}

// errInterrupted marks a run stopped by cancellation at a suspension point
var errInterrupted = errors.New("import interrupted")

type recordResult struct {
	record      domain.ImportRecord
	outcome     domain.RunOutcome
	interrupted bool
}

// Run executes the job. The summary is returned whenever the reporter could
// produce one, including alongside a fatal error.
func (s *ImportService) Run(ctx context.Context) (*domain.RunSummary, error) {
	info := domain.RunInfo{
		JobID:     s.config.JobID,
		RunID:     uuid.New().String(),
		Source:    s.config.Source,
		DryRun:    s.config.DryRun,
		StartedAt: time.Now().UTC(),
	}
	log := zap.L().With(zap.String("jobId", info.JobID), zap.String("runId", info.RunID))

	s.mu.Lock()
	s.progress.RunID = info.RunID
	s.progress.StartedAt = info.StartedAt
	s.progress.State = "starting"
	s.mu.Unlock()

	lock, err := s.locker.Acquire(ctx, s.config.JobID)
	if err != nil {
		return s.finish(info, err)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			log.Warn("releasing job lock", zap.Error(rerr))
		}
	}()

	// losing the lock mid-run stops the run; another process may own the job now
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	go func() {
		select {
		case <-lock.Lost():
			log.Error("job lock lost, stopping run")
			cancelRun(domain.ErrLockNotHeld)
		case <-runCtx.Done():
		}
	}()
	lockLost := func() error {
		if errors.Is(context.Cause(runCtx), domain.ErrLockNotHeld) {
			return fmt.Errorf("%w: lost during run of job %s", domain.ErrLockNotHeld, s.config.JobID)
		}
		return nil
	}

	stream, scale, err := s.canonicalize()
	if err != nil {
		return s.finish(info, err)
	}
	info.PriceScale = scale
	info.TotalRecords = len(stream.Records)
	info.MalformedRows = stream.MalformedRows
	for _, a := range stream.Anomalies {
		if err := s.reporter.RecordAnomaly(a); err != nil {
			return s.finish(info, fmt.Errorf("recording anomaly: %w", err))
		}
	}
	log.Info("source canonicalized",
		zap.Int("rows", stream.Rows),
		zap.Int("records", len(stream.Records)),
		zap.Int("malformedRows", stream.MalformedRows),
		zap.Int("anomalies", len(stream.Anomalies)),
		zap.String("priceScale", string(scale)))

	cp, err := s.resumePoint(runCtx, info, len(stream.Records))
	if err != nil {
		if lerr := lockLost(); lerr != nil {
			return s.finish(info, lerr)
		}
		return s.finish(info, err)
	}
	info.ResumedFrom = cp.NextIndex()
	info.PriorFailures = slices.Clone(cp.Failures)
	s.lastSave = cp.LastCommittedIndex

	s.mu.Lock()
	s.progress.TotalRecords = info.TotalRecords
	s.progress.ResumedFrom = info.ResumedFrom
	s.progress.LastCommittedIndex = cp.LastCommittedIndex
	s.progress.Failed = len(cp.Failures)
	s.progress.State = "running"
	s.mu.Unlock()

	pending := stream.Records[cp.NextIndex():]
	if len(pending) > 0 {
		log.Info("processing records",
			zap.Int("from", info.ResumedFrom),
			zap.Int("count", len(pending)),
			zap.Int("workers", s.config.Workers))
	}

	ckpt := *cp
	ckpt.RunID = info.RunID
	ckpt.Failures = slices.Clone(cp.Failures)
	if s.config.Workers > 1 {
		err = s.runPool(runCtx, &ckpt, pending)
	} else {
		err = s.runSequential(runCtx, &ckpt, pending)
	}

	if lerr := lockLost(); lerr != nil {
		return s.finish(info, lerr)
	}
	switch {
	case errors.Is(err, errInterrupted), err != nil && runCtx.Err() != nil && errors.Is(err, runCtx.Err()):
		info.Interrupted = true
		log.Warn("import interrupted, checkpoint kept for resume", zap.Int("lastCommittedIndex", ckpt.LastCommittedIndex))
		return s.finish(info, nil)
	case err != nil:
		return s.finish(info, err)
	}

	if !s.config.DryRun {
		if err := s.checkpoints.Clear(runCtx, s.config.JobID); err != nil {
			if lerr := lockLost(); lerr != nil {
				return s.finish(info, lerr)
			}
			return s.finish(info, fmt.Errorf("clearing checkpoint: %w", err))
		}
	}
	return s.finish(info, nil)
}

// Progress returns a snapshot of the running job
func (s *ImportService) Progress() domain.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *ImportService) canonicalize() (*CanonicalStream, domain.PriceScale, error) {
	prices := s.prices
	if prices.Scale() == domain.PriceScaleAuto {
		r, err := s.open()
		if err != nil {
			return nil, "", err
		}
		scale, err := DetectScale(r)
		r.Close()
		if err != nil {
			return nil, "", err
		}
		prices = prices.WithScale(scale)
	}

	r, err := s.open()
	if err != nil {
		return nil, "", err
	}
	defer r.Close()

	stream, err := NewCanonicalizer(prices, s.classifier).Canonicalize(r)
	if err != nil {
		return nil, "", err
	}
	return stream, prices.Scale(), nil
}

// resumePoint loads or creates the job checkpoint and validates it against the stream
func (s *ImportService) resumePoint(ctx context.Context, info domain.RunInfo, total int) (*domain.Checkpoint, error) {
	if s.config.Fresh && !s.config.DryRun {
		if err := s.checkpoints.Clear(ctx, s.config.JobID); err != nil {
			return nil, fmt.Errorf("%w: clearing for fresh run: %v", domain.ErrCheckpointCorrupt, err)
		}
	}

	cp, err := s.checkpoints.Load(ctx, s.config.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrCheckpointCorrupt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrCheckpointCorrupt, err)
	}
	if cp != nil && s.config.Fresh {
		cp = nil
	}

	if cp != nil {
		switch {
		case cp.TotalRecords != total:
			return nil, fmt.Errorf("%w: checkpoint covers %d records, source now yields %d (use --fresh)",
				domain.ErrCheckpointCorrupt, cp.TotalRecords, total)
		case cp.LastCommittedIndex < -1 || cp.LastCommittedIndex >= total:
			return nil, fmt.Errorf("%w: last committed index %d out of range", domain.ErrCheckpointCorrupt, cp.LastCommittedIndex)
		}
		zap.L().Info("resuming from checkpoint",
			zap.String("jobId", cp.JobID),
			zap.Int("lastCommittedIndex", cp.LastCommittedIndex),
			zap.Time("updatedAt", cp.UpdatedAt))
		return cp, nil
	}

	cp = &domain.Checkpoint{
		JobID:              s.config.JobID,
		RunID:              info.RunID,
		Source:             s.config.Source,
		LastCommittedIndex: -1,
		TotalRecords:       total,
		UpdatedAt:          time.Now().UTC(),
	}
	if !s.config.DryRun {
		if err := s.checkpoints.Save(ctx, *cp); err != nil {
			return nil, fmt.Errorf("creating checkpoint: %w", err)
		}
	}
	return cp, nil
}

func (s *ImportService) runSequential(ctx context.Context, cp *domain.Checkpoint, records []domain.ImportRecord) error {
	return s.scheduler.Run(ctx, records, func(ctx context.Context, rec domain.ImportRecord) error {
		res := s.processRecord(ctx, rec)
		if res.interrupted {
			return errInterrupted
		}
		return s.commit(ctx, cp, res)
	})
}

// runPool processes records on a bounded worker pool. Results are committed
// strictly in index order, so the checkpoint only ever covers a contiguous prefix.
func (s *ImportService) runPool(ctx context.Context, cp *domain.Checkpoint, records []domain.ImportRecord) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	jobs := make(chan domain.ImportRecord)
	results := make(chan recordResult, s.config.Workers)

	group.Go(func() error {
		defer close(jobs)
		return s.scheduler.Run(groupCtx, records, func(ctx context.Context, rec domain.ImportRecord) error {
			select {
			case jobs <- rec:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	group.Go(func() error {
		defer close(results)
		var workers errgroup.Group
		for i := 0; i < s.config.Workers; i++ {
			workers.Go(func() error {
				for rec := range jobs {
					results <- s.processRecord(groupCtx, rec)
				}
				return nil
			})
		}
		return workers.Wait()
	})

	var fatal error
	interrupted := false
	next := 0
	if len(records) > 0 {
		next = records[0].Index
	}
	buffered := make(map[int]recordResult)

	for res := range results {
		if fatal != nil || interrupted {
			continue
		}
		buffered[res.record.Index] = res
		for {
			r, ok := buffered[next]
			if !ok {
				break
			}
			delete(buffered, next)
			if r.interrupted {
				interrupted = true
				cancel()
				break
			}
			if err := s.commit(ctx, cp, r); err != nil {
				fatal = err
				cancel()
				break
			}
			next++
		}
	}

	gerr := group.Wait()
	switch {
	case fatal != nil:
		return fatal
	case interrupted:
		return errInterrupted
	case ctx.Err() != nil:
		return errInterrupted
	case gerr != nil && !errors.Is(gerr, context.Canceled):
		return gerr
	}
	return nil
}

// processRecord writes one record. It never returns an error: record-level
// failures become outcomes and cancellation is flagged for the caller.
func (s *ImportService) processRecord(ctx context.Context, rec domain.ImportRecord) recordResult {
	res := recordResult{record: rec}
	out := domain.RunOutcome{Index: rec.Index, SKU: rec.Product.SKU}

	switch {
	case rec.Rejection != nil:
		out.Status = domain.StatusFailed
		out.Error = rec.Rejection.Error()
	case s.config.DryRun:
		out.Status = domain.StatusSkipped
	default:
		up, err := s.writer.Upsert(ctx, rec.Product)
		out.Attempt = up.Attempts
		out.Partial = up.Partial
		if err != nil {
			if ctx.Err() != nil {
				res.interrupted = true
				return res
			}
			out.Status = domain.StatusFailed
			out.Error = err.Error()
			zap.L().Warn("record failed",
				zap.Int("index", rec.Index),
				zap.String("sku", rec.Product.SKU),
				zap.Int("attempts", up.Attempts),
				zap.Bool("partial", up.Partial),
				zap.Error(err))
		} else {
			out.Status = domain.StatusCommitted
		}
	}

	res.outcome = out
	return res
}

// commit advances the checkpoint past a finished record and reports its outcome.
// Failed records advance the checkpoint too.
func (s *ImportService) commit(ctx context.Context, cp *domain.Checkpoint, res recordResult) error {
	idx := res.record.Index
	if !s.config.DryRun && idx > s.lastSave {
		cp.LastCommittedIndex = idx
		cp.UpdatedAt = time.Now().UTC()
		if res.outcome.Status == domain.StatusFailed {
			cp.Failures = append(cp.Failures, domain.FailedRecord{
				Index:   idx,
				SKU:     res.outcome.SKU,
				Error:   res.outcome.Error,
				Attempt: res.outcome.Attempt,
			})
		}
		// a finished record is always checkpointed, even after cancellation
		if err := s.checkpoints.Save(context.WithoutCancel(ctx), *cp); err != nil {
			return fmt.Errorf("saving checkpoint at index %d: %w", idx, err)
		}
		s.lastSave = idx
	}

	if err := s.reporter.RecordOutcome(res.outcome); err != nil {
		return fmt.Errorf("recording outcome for index %d: %w", idx, err)
	}

	s.mu.Lock()
	if !s.config.DryRun {
		s.progress.LastCommittedIndex = idx
	}
	switch res.outcome.Status {
	case domain.StatusCommitted:
		s.progress.Committed++
	case domain.StatusFailed:
		s.progress.Failed++
	case domain.StatusSkipped:
		s.progress.Skipped++
	}
	s.mu.Unlock()
	return nil
}

func (s *ImportService) finish(info domain.RunInfo, fatal error) (*domain.RunSummary, error) {
	info.Fatal = fatal
	summary, err := s.reporter.Finish(info)

	s.mu.Lock()
	if summary != nil {
		s.progress.State = summary.State
	} else {
		s.progress.State = domain.RunFatal
	}
	s.mu.Unlock()

	if fatal != nil {
		zap.L().Error("import failed", zap.String("jobId", info.JobID), zap.Error(fatal))
		return summary, fatal
	}
	if err != nil {
		return summary, fmt.Errorf("writing run summary: %w", err)
	}
	zap.L().Info("import finished",
		zap.String("jobId", info.JobID),
		zap.String("state", summary.State),
		zap.Int("committed", summary.Committed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.String("elapsed", summary.Elapsed))
	return summary, nil
}
