package models

import "time"

// Event type constants
const (
	EventRunCompleted = "RUN_COMPLETED"
	EventRunRequested = "RUN_REQUESTED"
)

// RunEvent is published to Kafka when a pipeline run reaches a terminal status
type RunEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	RunID       string     `json:"run_id"`
	ProcessDate string     `json:"process_date"`
	Status      string     `json:"status"`
	Metrics     RunMetrics `json:"metrics"`
	Message     string     `json:"message,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// RunRequest asks a listener to run the pipeline for one date or an inclusive range
type RunRequest struct {
	EventType string `json:"event_type"`
	Date      string `json:"date,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
}
