// Package engine implements the cognitive core: intent routing, memory
// scoring and retrieval, knowledge graph linking, and the orchestration
// pipeline that ties them together per conversation turn.
package engine

import "time"

const (
	// similarityWeight and recencyWeight blend semantic match against
	// freshness. Similarity dominates so an old but exact memory still
	// outranks a recent tangent.
	similarityWeight = 0.7
	recencyWeight    = 0.3

	// decayRate controls how fast the recency component falls off, in
	// units of inverse days. At 0.1 a memory keeps half its recency
	// weight after ten days.
	decayRate = 0.1
)

// TimeDecay maps a memory's age to a recency factor in (0, 1]. Brand new
// memories score 1.0; the factor decays hyperbolically with age so old
// memories approach zero without ever reaching it.
func TimeDecay(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 1 / (1 + ageDays*decayRate)
}

// FinalScore blends cosine similarity with recency into the ranking score.
// Both inputs are expected in [0, 1]; the output stays in [0, 1].
func FinalScore(similarity float64, createdAt, now time.Time) float64 {
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 1 {
		similarity = 1
	}
	return similarity*similarityWeight + TimeDecay(createdAt, now)*recencyWeight
}
