package storage

import (
	"context"
	"time"

	"github.com/ceobrain/cortex/pkg/types"
)

// VectorIndex provides embedding storage and cosine similarity search.
// Implementations: pgvector on PostgreSQL, in-process cosine on SQLite.
type VectorIndex interface {
	// Upsert stores or replaces the embedding for the given ID.
	Upsert(ctx context.Context, id string, embedding []float32, meta VectorMetadata) error

	// Search returns up to topK matches ranked by cosine similarity
	// descending. When userID is non-empty, results are filtered to vectors
	// whose metadata carries that user. Tie order between equal scores
	// follows backend return order.
	Search(ctx context.Context, embedding []float32, topK int, userID string) ([]VectorMatch, error)

	// Delete removes the embedding for the given ID. Deleting a missing ID
	// is not an error.
	Delete(ctx context.Context, id string) error
}

// NoteStore manages immutable notes and their entity associations.
type NoteStore interface {
	// CreateNote persists a note and links it to the given entity IDs in one
	// transaction.
	CreateNote(ctx context.Context, note *types.Note, entityIDs []string) error

	// GetNotes resolves the given IDs, skipping any that do not exist.
	// The returned slice preserves the order of the input IDs.
	GetNotes(ctx context.Context, ids []string) ([]*types.Note, error)

	// NoteEntities returns the entities linked to a note. Empty slice when
	// the note has no links.
	NoteEntities(ctx context.Context, noteID string) ([]*types.Entity, error)

	// DeleteNote removes a note and its entity links.
	// Returns ErrNotFound if the note does not exist.
	DeleteNote(ctx context.Context, id string) error
}

// EntityStore manages entities keyed by exact, case-sensitive name.
type EntityStore interface {
	// UpsertEntity creates the entity on first mention or enriches the
	// existing record's description and metadata. The stored record's ID is
	// written back into e.
	UpsertEntity(ctx context.Context, e *types.Entity) error

	// GetEntity retrieves an entity by ID.
	// Returns ErrNotFound if it does not exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// GetEntityByName retrieves an entity by exact name match.
	// Returns ErrNotFound if it does not exist.
	GetEntityByName(ctx context.Context, name string) (*types.Entity, error)
}

// RelationshipStore manages directed edges between entities.
type RelationshipStore interface {
	// CreateRelationships persists the given edges and the audit entry for
	// the operation in one transaction. An edge that duplicates an existing
	// (source, target, type) triple is ignored rather than duplicated.
	CreateRelationships(ctx context.Context, rels []*types.Relationship, audit *types.AuditEntry) error

	// Traverse walks the edge graph outward from the entities named in
	// seedNames, following edges in either direction for at most hops steps,
	// and returns the visited edges as (source, relation, target) facts.
	// At most limit facts are returned; empty slice when no seed matches.
	Traverse(ctx context.Context, seedNames []string, hops int, limit int) ([]types.Fact, error)
}

// TaskStore manages tasks created by the pipeline.
type TaskStore interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, t *types.Task) error

	// DueTasks returns non-DONE, non-ARCHIVED tasks due at or before the
	// given time, sorted by due date ascending.
	DueTasks(ctx context.Context, before time.Time) ([]*types.Task, error)
}

// ProfileStore manages the singleton user profile.
type ProfileStore interface {
	// LoadOrCreateProfile returns the deployment's profile, creating it from
	// defaults when none exists yet.
	LoadOrCreateProfile(ctx context.Context, defaults *types.UserProfile) (*types.UserProfile, error)

	// UpdateProfile writes the profile back. Last writer wins; stats updates
	// from concurrent runs are not serialized (single-user deployment).
	UpdateProfile(ctx context.Context, p *types.UserProfile) error
}

// AuditStore is the append-only audit log. The core never reads it.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *types.AuditEntry) error
}

// Store aggregates the relational interfaces one backend provides.
type Store interface {
	NoteStore
	EntityStore
	RelationshipStore
	TaskStore
	ProfileStore
	AuditStore

	// Close releases any resources held by the store.
	Close() error
}
