// Package tasks runs background AI jobs one at a time in FIFO order.
//
// Heavy work such as document processing or embedding is memory hungry, so
// the queue never runs two jobs at once. Pending jobs can be cancelled; a
// running job always runs to completion.
package tasks

import (
	"context"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority is informational; execution order is always FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Work is the unit of work of a task. progress accepts values in [0,1].
type Work func(ctx context.Context, progress func(float64)) error

// Request describes a task to enqueue.
type Request struct {
	Type     string
	Title    string
	Priority Priority
	Work     Work
}

// Task is a snapshot of a queued task.
type Task struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Priority   Priority  `json:"priority"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Duration is the run time of a started task.
func (t Task) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Notification reports a task reaching a new status.
type Notification struct {
	TaskID   string
	Title    string
	Status   Status
	Error    string
	Duration time.Duration
}
