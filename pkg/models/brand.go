package models

import (
	"time"

	"github.com/google/uuid"
)

// Brand is a monitored customer brand. Aliases are alternate spellings
// counted as mentions alongside the canonical name.
type Brand struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Domain    string    `db:"domain"     json:"domain"`
	Aliases   []string  `db:"aliases"    json:"aliases"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Prompt is one question from a brand's fixed nightly question set.
// Position fixes the order prompts are asked in.
type Prompt struct {
	ID       uuid.UUID `db:"id"       json:"id"`
	BrandID  uuid.UUID `db:"brand_id" json:"brand_id"`
	Position int       `db:"position" json:"position"`
	Text     string    `db:"text"     json:"text"`
}
