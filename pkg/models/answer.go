package models

import (
	"time"

	"github.com/google/uuid"
)

// Answer is one prompt's response collected by the query stage. Later stages
// enrich it in place: classify sets the label, extract resolves citations.
type Answer struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	ReportID        uuid.UUID  `db:"report_id"        json:"report_id"`
	PromptID        uuid.UUID  `db:"prompt_id"        json:"prompt_id"`
	Position        int        `db:"position"         json:"position"`
	ResponseText    string     `db:"response_text"    json:"response_text"`
	Citations       []string   `db:"citations"        json:"citations"`
	Label           *string    `db:"label"            json:"label,omitempty"`
	LabelConfidence *float64   `db:"label_confidence" json:"label_confidence,omitempty"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
}

// Citation is one cited URL lifted from an answer, resolved by the extract
// stage into a page title. Resolution failures are recorded per citation.
type Citation struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	ReportID     uuid.UUID `db:"report_id"     json:"report_id"`
	AnswerID     uuid.UUID `db:"answer_id"     json:"answer_id"`
	URL          string    `db:"url"           json:"url"`
	Domain       string    `db:"domain"        json:"domain"`
	Title        *string   `db:"title"         json:"title,omitempty"`
	Excerpt      *string   `db:"excerpt"       json:"excerpt,omitempty"`
	Resolved     bool      `db:"resolved"      json:"resolved"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
