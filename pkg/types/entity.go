package types

import "time"

// Entity represents a named thing the assistant knows about: a person, an
// object, a project, a place. Identity is the Name field, matched exactly
// and case-sensitively; there is no alias or fuzzy resolution. Entities are
// created on first mention and enriched afterwards; the core never deletes
// them (deletion is an external admin operation).
type Entity struct {
	ID          string    `json:"id"`                    // Unique identifier (format: ent:uuid)
	Name        string    `json:"name"`                  // Identity key, case-sensitive exact match
	Type        string    `json:"type"`                  // Entity type (person, object, project, ...)
	Description string    `json:"description,omitempty"` // Human-readable description
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Tags     []string               `json:"tags,omitempty"`     // User-defined tags
	Metadata map[string]interface{} `json:"metadata,omitempty"` // Type-specific metadata
}
