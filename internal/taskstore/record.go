// Package taskstore provides durable CRUD for task records.
package taskstore

import "time"

// Status is one of the task record's lifecycle states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is one of the three terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Mode is the dispatch mode a task record was created under.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeStream Mode = "stream"
	ModeBatch  Mode = "batch"
)

// Record is the durable row for one translation request.
type Record struct {
	TaskID        string
	UserID        string
	Status        Status
	Mode          Mode
	Config        map[string]any
	QueuePosition int
	ResultPath    string
	Error         string
	Meta          map[string]any
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	UpdatedAt     time.Time
}

// Update is a sparse mutation: only non-nil fields change. updated_at is
// always refreshed by the store regardless of which fields are set.
type Update struct {
	Status        *Status
	QueuePosition *int
	ResultPath    *string
	Error         *string
	Meta          map[string]any
	StartedAt     *time.Time
	FinishedAt    *time.Time
}
