package types

import "time"

// BioMemory holds the slowly-evolving facts the assistant has learned about
// its user. The Reflect stage appends to it best-effort after interactions.
type BioMemory struct {
	Routines    []string          `json:"routines"`    // Recurring habits ("gym Tuesdays")
	Preferences map[string]string `json:"preferences"` // Stable likes/dislikes
	Tone        string            `json:"tone"`        // Preferred response register
	LifeEvents  []string          `json:"life_events,omitempty"`
}

// ProfileStats carries interaction counters. Concurrent pipeline runs update
// these last-writer-wins; acceptable for a single-user deployment.
type ProfileStats struct {
	LoyaltyScore     float64 `json:"loyalty_score"`     // 0-100, nudged up each interaction
	InteractionCount int     `json:"interaction_count"` // Total completed interactions
}

// UserProfile is the singleton-per-deployment user record. It is load-bearing
// for personalization: a turn that cannot load it does not proceed.
type UserProfile struct {
	ID        string       `json:"id"` // Unique identifier (format: usr:uuid)
	Name      string       `json:"name"`
	BioMemory BioMemory    `json:"bio_memory"`
	Stats     ProfileStats `json:"stats"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// DefaultProfile returns a fresh profile with the fixed defaults used when
// none exists yet.
func DefaultProfile(name string) *UserProfile {
	return &UserProfile{
		Name: name,
		BioMemory: BioMemory{
			Routines:    []string{},
			Preferences: map[string]string{},
			Tone:        "Professional",
		},
		Stats: ProfileStats{
			LoyaltyScore:     50,
			InteractionCount: 0,
		},
	}
}
