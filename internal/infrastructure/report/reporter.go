package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

// Reporter appends one line per record outcome to <dir>/<job>.log and writes
// <dir>/<job>.summary.json at the end of the run. Every line is synced before
// RecordOutcome returns, so a crashed run still leaves a readable log.
type Reporter struct {
	dir   string
	jobID string
	now   func() time.Time

	mu        sync.Mutex
	log       *os.File
	outcomes  []domain.RunOutcome
	anomalies []domain.Anomaly
	closed    bool
}

// NewReporter opens (or appends to) the job's log file
func NewReporter(dir, jobID string) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir: %w", err)
	}
	r := &Reporter{dir: dir, jobID: jobID, now: time.Now}
	f, err := os.OpenFile(r.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	r.log = f
	return r, nil
}

func (r *Reporter) LogPath() string {
	return filepath.Join(r.dir, fileName(r.jobID)+".log")
}

func (r *Reporter) SummaryPath() string {
	return filepath.Join(r.dir, fileName(r.jobID)+".summary.json")
}

// RecordOutcome appends the outcome to the log
func (r *Reporter) RecordOutcome(o domain.RunOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes = append(r.outcomes, o)
	line := fmt.Sprintf("%s index=%d sku=%s status=%s attempt=%d",
		r.now().UTC().Format(time.RFC3339), o.Index, o.SKU, o.Status, o.Attempt)
	if o.Partial {
		line += " partial=true"
	}
	if o.Error != "" {
		line += " error=" + strconv.Quote(o.Error)
	}
	return r.appendLine(line)
}

// RecordAnomaly appends the anomaly to the log and keeps it for the summary
func (r *Reporter) RecordAnomaly(a domain.Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.anomalies = append(r.anomalies, a)
	line := fmt.Sprintf("%s anomaly=%s line=%d", r.now().UTC().Format(time.RFC3339), a.Kind, a.Line)
	if a.SKU != "" {
		line += " sku=" + a.SKU
	}
	line += " message=" + strconv.Quote(a.Message)
	return r.appendLine(line)
}

func (r *Reporter) appendLine(line string) error {
	if r.closed {
		return fmt.Errorf("run log %s already closed", r.LogPath())
	}
	if _, err := r.log.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing run log: %w", err)
	}
	if err := r.log.Sync(); err != nil {
		return fmt.Errorf("syncing run log: %w", err)
	}
	return nil
}

// Finish builds the summary, writes it next to the log and closes the log
func (r *Reporter) Finish(info domain.RunInfo) (*domain.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summarize(info, r.outcomes, r.anomalies, r.now())

	line := fmt.Sprintf("%s run=%s state=%s committed=%d skipped=%d failed=%d elapsed=%s",
		summary.FinishedAt.UTC().Format(time.RFC3339), summary.RunID, summary.State,
		summary.Committed, summary.Skipped, summary.Failed, summary.Elapsed)
	if err := r.appendLine(line); err != nil {
		return summary, err
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return summary, fmt.Errorf("encoding summary: %w", err)
	}
	if err := writeFileAtomic(r.SummaryPath(), data); err != nil {
		return summary, err
	}

	r.closed = true
	if err := r.log.Close(); err != nil {
		return summary, fmt.Errorf("closing run log: %w", err)
	}
	zap.L().Debug("run report written", zap.String("summary", r.SummaryPath()), zap.String("log", r.LogPath()))
	return summary, nil
}

// Close releases the log file if Finish was never reached
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.log.Close()
}

// Summarize folds the run's outcomes and anomalies into a RunSummary.
// Failures carried over from earlier runs of the job count towards the state.
func Summarize(info domain.RunInfo, outcomes []domain.RunOutcome, anomalies []domain.Anomaly, finishedAt time.Time) *domain.RunSummary {
	s := &domain.RunSummary{
		JobID:         info.JobID,
		RunID:         info.RunID,
		Source:        info.Source,
		DryRun:        info.DryRun,
		PriceScale:    info.PriceScale,
		TotalRecords:  info.TotalRecords,
		ResumedFrom:   info.ResumedFrom,
		MalformedRows: info.MalformedRows,
		Failed:        len(info.PriorFailures),
		PriorFailed:   len(info.PriorFailures),
		Failures:      append([]domain.FailedRecord{}, info.PriorFailures...),
		Anomalies:     append([]domain.Anomaly{}, anomalies...),
		AnomalyCounts: make(map[string]int),
		StartedAt:     info.StartedAt,
		FinishedAt:    finishedAt,
		Elapsed:       finishedAt.Sub(info.StartedAt).Round(time.Millisecond).String(),
	}

	for _, o := range outcomes {
		s.Processed++
		switch o.Status {
		case domain.StatusCommitted:
			s.Committed++
		case domain.StatusSkipped:
			s.Skipped++
		case domain.StatusFailed:
			s.Failed++
			s.Failures = append(s.Failures, domain.FailedRecord{Index: o.Index, SKU: o.SKU, Error: o.Error, Attempt: o.Attempt})
		}
	}
	for _, a := range anomalies {
		s.AnomalyCounts[a.Kind]++
	}

	switch {
	case info.Fatal != nil:
		s.State = domain.RunFatal
		s.FatalError = info.Fatal.Error()
	case info.Interrupted:
		s.State = domain.RunInterrupted
	case s.Failed > 0:
		s.State = domain.RunPartial
	default:
		s.State = domain.RunCompleted
	}
	return s
}
