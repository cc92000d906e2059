package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// DefaultMaxAttempts is the attempt budget a stage job gets unless the
// trigger that created it says otherwise.
const DefaultMaxAttempts = 3

// Job is one attempt at executing one stage for one report. A report has at
// most one running job at any time; a new job row is created for each stage
// and for each retry.
type Job struct {
	ID             uuid.UUID       `db:"id"              json:"id"`
	ReportID       uuid.UUID       `db:"report_id"       json:"report_id"`
	Stage          Stage           `db:"stage"           json:"stage"`
	Status         string          `db:"status"          json:"status"`
	Attempts       int             `db:"attempts"        json:"attempts"`
	MaxAttempts    int             `db:"max_attempts"    json:"max_attempts"`
	ScheduledAt    time.Time       `db:"scheduled_at"    json:"scheduled_at"`
	StartedAt      *time.Time      `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt    *time.Time      `db:"completed_at"    json:"completed_at,omitempty"`
	ProcessingData json.RawMessage `db:"processing_data" json:"processing_data,omitempty"`
	ErrorMessage   *string         `db:"error_message"   json:"error_message,omitempty"`
	CreatedAt      time.Time       `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"      json:"updated_at"`
}

// CanRetry reports whether another attempt is allowed after a failure.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}
