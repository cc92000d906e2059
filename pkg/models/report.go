package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ReportStatusRunning   = "running"
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)

// Report is the per-(brand, date) unit of work. It is created by a trigger
// (nightly batch or onboarding), advanced stage by stage by the job
// processor, and ends completed or failed. Reports are never deleted.
type Report struct {
	ID           uuid.UUID  `db:"id"             json:"id"`
	BrandID      uuid.UUID  `db:"brand_id"       json:"brand_id"`
	ReportDate   time.Time  `db:"report_date"    json:"report_date"`
	Status       string     `db:"status"         json:"status"`
	Stage        Stage      `db:"stage"          json:"stage"`
	CurrentJobID *uuid.UUID `db:"current_job_id" json:"current_job_id,omitempty"`

	// Per-stage counters, accumulated by the job processor while it owns
	// the report's running job.
	PromptsTotal    int `db:"prompts_total"    json:"prompts_total"`
	AnswersTotal    int `db:"answers_total"    json:"answers_total"`
	MentionsTotal   int `db:"mentions_total"   json:"mentions_total"`
	CitationsTotal  int `db:"citations_total"  json:"citations_total"`
	ClassifiedTotal int `db:"classified_total" json:"classified_total"`
	ExtractedTotal  int `db:"extracted_total"  json:"extracted_total"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the report can make no further progress.
func (r *Report) Terminal() bool {
	return r.Status == ReportStatusCompleted || r.Status == ReportStatusFailed
}
