package models

import "time"

// Run status constants
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// RunMetrics are the counters recorded when a run finishes
type RunMetrics struct {
	Symbols               int `json:"symbols"`
	ExtractedRows         int `json:"extracted_rows"`
	LoadedPrices          int `json:"loaded_prices"`
	DQNullViolations      int `json:"dq_null_violations"`
	DQDuplicateViolations int `json:"dq_duplicate_violations"`
	DQNonPositivePrice    int `json:"dq_nonpositive_price"`
}

// AddViolations folds validator counts into the run metrics
func (m *RunMetrics) AddViolations(v ViolationCounts) {
	m.DQNullViolations += v.NullViolations
	m.DQDuplicateViolations += v.DuplicateViolations
	m.DQNonPositivePrice += v.NonPositivePrice
}

// RunAudit is one row of etl_run_audit
type RunAudit struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	RunMetrics
	Message *string `json:"message,omitempty"`
}

// IsTerminal reports whether the run has finished
func (r *RunAudit) IsTerminal() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusFailed
}
