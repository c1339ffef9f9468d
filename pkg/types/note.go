// Package types defines the shared data model for the Cortex cognitive core:
// notes, entities, relationships, tasks, the user profile, and the
// classification result produced by the intent router.
package types

import "time"

// Note is an immutable memory fragment. Once created its content never
// changes; only entity associations may be added. The matching vector record
// in the vector index shares the note's ID so the two can be created and
// deleted together.
type Note struct {
	ID        string    `json:"id"`         // Unique identifier (format: note:uuid)
	Content   string    `json:"content"`    // Raw note content
	CreatedAt time.Time `json:"created_at"` // Creation timestamp

	// EntityIDs lists the entities mentioned by this note (many-to-many).
	// Populated on read; not every store method fills it.
	EntityIDs []string `json:"entity_ids,omitempty"`
}
