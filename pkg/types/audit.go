package types

import "time"

// AuditEntry is an append-only record of a mutating operation. The core only
// writes audit entries; it never reads them back.
type AuditEntry struct {
	ID        string                 `json:"id"`     // Unique identifier (format: aud:uuid)
	Action    string                 `json:"action"` // Operation name ("note.create", "graph.autolink", ...)
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
