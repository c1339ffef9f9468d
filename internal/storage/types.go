// Package storage provides composable storage interfaces for the Cortex core.
//
// The layer is split into small, focused interfaces (notes, entities, graph
// edges, tasks, profile, audit, vectors) that backends implement
// independently and the engine composes as needed. Both the PostgreSQL and
// SQLite backends implement the full Store aggregate.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// VectorMetadata is stored alongside each embedding in the vector index.
// The vector record's ID equals the backing note's ID; NoteID is duplicated
// into metadata so matches can be resolved without assuming that convention.
type VectorMetadata struct {
	NoteID    string    `json:"note_id"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Entities  []string  `json:"entities,omitempty"`
}

// VectorMatch is a single ranked result from a similarity search.
// Score is cosine similarity in [0, 1].
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata VectorMetadata
}
