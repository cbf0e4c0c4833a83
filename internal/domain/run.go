package domain

import "time"

// Checkpoint is the durable progress marker of a job
type Checkpoint struct {
	JobID              string    `json:"jobId"`
	RunID              string    `json:"runId,omitempty"`
	Source             string    `json:"source,omitempty"`
	LastCommittedIndex int       `json:"lastCommittedIndex"`
	TotalRecords       int       `json:"totalRecords"`
	UpdatedAt          time.Time `json:"updatedAt"`
	// Failures carries records that failed before the checkpoint, so a resumed
	// run still reports them
	Failures []FailedRecord `json:"failures,omitempty"`
}

// NextIndex is the index a run resumes at
func (c Checkpoint) NextIndex() int {
	return c.LastCommittedIndex + 1
}

// OutcomeStatus is the terminal state of one processed record
type OutcomeStatus string

const (
	StatusCommitted OutcomeStatus = "committed"
	StatusSkipped   OutcomeStatus = "skipped"
	StatusFailed    OutcomeStatus = "failed"
)

// RunOutcome is what happened to a single record in this run
type RunOutcome struct {
	Index   int           `json:"index"`
	SKU     string        `json:"sku"`
	Status  OutcomeStatus `json:"status"`
	Error   string        `json:"error,omitempty"`
	Attempt int           `json:"attempt"`
	Partial bool          `json:"partial,omitempty"`
}

// Anomaly kinds reported in the summary
const (
	AnomalyPriceOutOfBounds = "price_out_of_bounds"
	AnomalyVariantCollision = "variant_collision"
	AnomalyMalformedRow     = "malformed_row"
	AnomalyMissingKey       = "missing_key"
	AnomalyInvalidStock     = "invalid_stock"
)

// Anomaly is a warning that did not stop processing
type Anomaly struct {
	Kind    string `json:"kind"`
	Line    int    `json:"line,omitempty"`
	SKU     string `json:"sku,omitempty"`
	Message string `json:"message"`
}

// Run states reported in the summary
const (
	RunCompleted   = "completed"
	RunPartial     = "partial"
	RunInterrupted = "interrupted"
	RunFatal       = "fatal"
)

// FailedRecord lists a failing SKU and its last error
type FailedRecord struct {
	Index   int    `json:"index"`
	SKU     string `json:"sku"`
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

// RunSummary is the machine-readable end-of-run report
type RunSummary struct {
	JobID         string         `json:"jobId"`
	RunID         string         `json:"runId"`
	Source        string         `json:"source"`
	State         string         `json:"state"`
	DryRun        bool           `json:"dryRun,omitempty"`
	PriceScale    PriceScale     `json:"priceScale,omitempty"`
	TotalRecords  int            `json:"totalRecords"`
	ResumedFrom   int            `json:"resumedFrom"`
	Processed     int            `json:"processed"`
	Committed     int            `json:"committed"`
	Skipped       int            `json:"skipped"`
	Failed        int            `json:"failed"`
	PriorFailed   int            `json:"priorFailed,omitempty"`
	MalformedRows int            `json:"malformedRows"`
	Failures      []FailedRecord `json:"failures"`
	Anomalies     []Anomaly      `json:"anomalies"`
	AnomalyCounts map[string]int `json:"anomalyCounts"`
	FatalError    string         `json:"fatalError,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	Elapsed       string         `json:"elapsed"`
}

// RunInfo is what the pipeline knows about a run when it hands over to the reporter
type RunInfo struct {
	JobID         string
	RunID         string
	Source        string
	DryRun        bool
	PriceScale    PriceScale
	TotalRecords  int
	ResumedFrom   int
	MalformedRows int
	PriorFailures []FailedRecord
	Interrupted   bool
	Fatal         error
	StartedAt     time.Time
}

// Progress is a live snapshot of a running import
type Progress struct {
	JobID              string    `json:"jobId"`
	RunID              string    `json:"runId"`
	State              string    `json:"state"`
	TotalRecords       int       `json:"totalRecords"`
	ResumedFrom        int       `json:"resumedFrom"`
	LastCommittedIndex int       `json:"lastCommittedIndex"`
	Committed          int       `json:"committed"`
	Failed             int       `json:"failed"`
	Skipped            int       `json:"skipped"`
	StartedAt          time.Time `json:"startedAt"`
}
