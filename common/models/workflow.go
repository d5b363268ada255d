package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Workflow represents a stored workflow definition
// Maps to: workflows table
type Workflow struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID string    `db:"user_id" json:"user_id"`

	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description,omitempty"`

	// Definition holds the workflow graph as submitted (JSONB).
	// The engine compiles it on every submission; nothing derived
	// from it is stored here.
	Definition json.RawMessage `db:"definition" json:"definition"`

	// Version increments on every update and guards concurrent edits
	// (compare-and-swap on UPDATE).
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
