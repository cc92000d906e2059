package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a credential handle for the automation service. Each account
// backs at most one unit of work (running batch, running onboarding, or a
// reservation inside the look-ahead window) at any instant.
type Account struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Label        string     `db:"label"         json:"label"`
	SessionToken string     `db:"session_token" json:"-"`
	Eligible     bool       `db:"eligible"      json:"eligible"`
	LastUsedAt   *time.Time `db:"last_used_at"  json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

const (
	BatchStatusScheduled = "scheduled"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
)

// ScheduledBatch is a planned nightly run for one brand. While scheduled and
// inside the reservation window it holds an account reservation; while
// running it holds the account outright.
type ScheduledBatch struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	BrandID   uuid.UUID  `db:"brand_id"   json:"brand_id"`
	AccountID *uuid.UUID `db:"account_id" json:"account_id,omitempty"`
	ExecuteAt time.Time  `db:"execute_at" json:"execute_at"`
	Size      int        `db:"size"       json:"size"`
	Status    string     `db:"status"     json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

const (
	OnboardingStatusRunning   = "running"
	OnboardingStatusCompleted = "completed"
)

// Onboarding is the one-off first run for a new signup, competing with
// scheduled batches for the same account pool.
type Onboarding struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	BrandID   uuid.UUID  `db:"brand_id"   json:"brand_id"`
	AccountID *uuid.UUID `db:"account_id" json:"account_id,omitempty"`
	Remaining int        `db:"remaining"  json:"remaining"`
	Status    string     `db:"status"     json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
