package types

import "time"

// Task status values. Tasks move PENDING → IN_PROGRESS → DONE; ARCHIVED is a
// terminal state for abandoned tasks.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskDone       = "DONE"
	TaskArchived   = "ARCHIVED"
)

// Task is an actionable item created by the pipeline when intent resolves to
// task creation. DueDate drives the urgent-task block appended to retrieval
// context.
type Task struct {
	ID        string     `json:"id"`                  // Unique identifier (format: task:uuid)
	Title     string     `json:"title"`               // Task title
	Status    string     `json:"status"`              // One of the Task* status constants
	Priority  int        `json:"priority"`            // 1 (lowest) to 5 (highest)
	DueDate   *time.Time `json:"due_date,omitempty"`  // Optional deadline
	EntityID  string     `json:"entity_id,omitempty"` // Optional linked entity
	NoteID    string     `json:"note_id,omitempty"`   // Optional originating note
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
