package types

import "time"

// Relation vocabulary the linker prompts the classifier with. The storage
// layer treats relation types as free-form uppercase tokens, so values
// outside this list are legal on disk; the classifier is just steered
// towards these.
const (
	RelationPartOf          = "PART_OF"
	RelationRelatedTo       = "RELATED_TO"
	RelationRequisiteFor    = "REQUISITE_FOR"
	RelationFinancialImpact = "FINANCIAL_IMPACT"
	RelationOwnerOf         = "OWNER_OF"
	RelationMemberOf        = "MEMBER_OF"
	RelationBlocks          = "BLOCKS"

	// RelationNone is the classifier's "no relationship" answer. It is never
	// stored as an edge.
	RelationNone = "NONE"
)

// Edge strength conventions. Explicitly stated facts get full strength,
// auto-discovered links slightly less, and same-utterance co-occurrence the
// least.
const (
	StrengthExplicit     = 1.0
	StrengthAutoLink     = 0.8
	StrengthCooccurrence = 0.5
)

// Relationship is a directed edge between two entities. Multiple edges of
// different types between the same ordered pair are allowed; duplicates of
// the same type are avoided by an upsert in the store.
type Relationship struct {
	ID        string    `json:"id"`        // Unique identifier (format: rel:uuid)
	SourceID  string    `json:"source_id"` // Source entity ID
	TargetID  string    `json:"target_id"` // Target entity ID
	Type      string    `json:"type"`      // Free-form uppercase relation token
	Strength  float64   `json:"strength"`  // Edge strength (0.0-1.0)
	CreatedAt time.Time `json:"created_at"`
}

// Fact is a subject-relation-target triple produced by graph traversal and
// rendered into retrieval context ("Sony WH-CH520 PART_OF Audio Gear").
type Fact struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}
