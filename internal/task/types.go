package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusPartialSuccess Status = "partial_success"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether a task in this status will never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartialSuccess, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed,
		StatusPartialSuccess, StatusCancelled:
		return true
	}
	return false
}

// Task is one persisted unit of pollable work. A main task represents a whole
// analysis request; a subtask is the slice of that request delegated to one
// backend service. Subtasks carry a non-empty Service and a ParentID pointing
// at their main task; main tasks carry neither.
type Task struct {
	ID           string     `json:"id"`
	ParentID     string     `json:"parent_id,omitempty"`
	IsMain       bool       `json:"is_main"`
	Service      string     `json:"service,omitempty"`
	Model        string     `json:"model"`
	App          int        `json:"app"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// ResultSummary holds the aggregated result payload as JSON once the
	// task is terminal. Metadata holds the resolved tool list and other
	// per-task context set at dispatch time.
	ResultSummary string `json:"result_summary,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
}

// Metadata is the structured content of Task.Metadata.
type Metadata struct {
	Tools        []string `json:"tools"`
	LocalTools   []string `json:"local_tools,omitempty"`
	DroppedTools []string `json:"dropped_tools,omitempty"`
	Priority     string   `json:"priority,omitempty"`
}
