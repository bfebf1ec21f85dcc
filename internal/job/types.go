package job

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is a job lifecycle state. Transitions are monotonic: running is the
// only non-terminal state and no terminal state ever reverts.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Progress tracks completion counters for a running job.
type Progress struct {
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	CurrentLabel string `json:"current_label,omitempty"`
}

// Job is a handle to a long-running operation, tracked independently of any
// single request/response exchange.
type Job struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Status       Status          `json:"status"`
	Params       map[string]any  `json:"params,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	LastUpdateAt time.Time       `json:"last_update_at"`
	Progress     Progress        `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

var (
	// ErrConflict means an exclusive-kind job of the same kind is already
	// running. No new record is created; the caller retries after the running
	// job finishes.
	ErrConflict = errors.New("job: a job of this kind is already running")

	// ErrNotFound means the id is unknown or the record has been evicted.
	// Distinct from a failed job, which is found and carries its error.
	ErrNotFound = errors.New("job: no such job")

	// ErrTerminal means a mutation was attempted on a job that already
	// reached a terminal status.
	ErrTerminal = errors.New("job: job already finished")
)
