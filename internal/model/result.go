package model

import "time"

// Status is the terminal verdict a kernel reports for one submission.
type Status string

// Terminal status constants.
const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// ParseStatus maps a wire status string to a Status. Anything unrecognized
// is treated as an error.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusOK, StatusAborted:
		return Status(s)
	default:
		return StatusError
	}
}

// ExecutionRequest is the input for running one cell. An empty KernelID asks
// for a fresh kernel to be started first.
type ExecutionRequest struct {
	KernelID string `json:"kernel_id,omitempty"`
	Code     string `json:"code"`
}

// ExecutionResult is the aggregated outcome of one cell execution. Error is
// nil, and encodes as null, when the cell reported no error.
type ExecutionResult struct {
	Success  bool            `json:"success"`
	KernelID string          `json:"kernel_id"`
	Error    *string         `json:"error"`
	Stdout   string          `json:"stdout"`
	Stderr   string          `json:"stderr"`
	Result   *DisplayBundle  `json:"execute_result"`
	Displays []DisplayBundle `json:"displays"`
}

// ErrorMessage returns the error text, or "" when there is none.
func (r *ExecutionResult) ErrorMessage() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return *r.Error
}

// KernelInfo describes a live kernel.
type KernelInfo struct {
	ID        string    `json:"kernel_id"`
	Spec      string    `json:"spec"`
	StartedAt time.Time `json:"started_at"`
}

// ExecutionRecord is one entry of the execution history.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	KernelID   string    `json:"kernel_id"`
	Code       string    `json:"code"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	DurationMS int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
