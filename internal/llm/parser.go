package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ceobrain/cortex/pkg/types"
)

// extractJSON extracts the first complete JSON object from a string that may
// contain extra text. This handles cases where LLMs add explanations before
// or after the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return text[start:]
}

// classificationWire mirrors the JSON shape the classification prompt demands.
type classificationWire struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Facts      []struct {
		Subject   string `json:"subject"`
		Predicate string `json:"predicate"`
		Object    string `json:"object"`
		FullFact  string `json:"full_fact"`
	} `json:"facts"`
	Entities []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Task *struct {
		Title    string `json:"title"`
		DueDate  string `json:"due_date"`
		Priority int    `json:"priority"`
	} `json:"task"`
	SearchQuery string `json:"search_query"`
}

// ParseClassification parses the router's JSON response into a
// ClassificationResult. An unrecognized intent string is an error; the
// caller decides the fallback.
func ParseClassification(raw string) (types.ClassificationResult, error) {
	var wire classificationWire
	if err := json.Unmarshal([]byte(extractJSON(raw)), &wire); err != nil {
		return types.ClassificationResult{}, fmt.Errorf("parse classification: %w", err)
	}

	intent := types.Intent(strings.ToUpper(strings.TrimSpace(wire.Intent)))
	if !intent.Valid() {
		return types.ClassificationResult{}, fmt.Errorf("parse classification: unknown intent %q", wire.Intent)
	}

	result := types.ClassificationResult{
		Intent:      intent,
		Confidence:  clamp01(wire.Confidence),
		Reasoning:   wire.Reasoning,
		SearchQuery: strings.TrimSpace(wire.SearchQuery),
	}

	for _, f := range wire.Facts {
		if f.Subject == "" && f.FullFact == "" {
			continue
		}
		result.Facts = append(result.Facts, types.ExtractedFact{
			Subject:   strings.TrimSpace(f.Subject),
			Predicate: strings.TrimSpace(f.Predicate),
			Object:    strings.TrimSpace(f.Object),
			FullFact:  strings.TrimSpace(f.FullFact),
		})
	}
	for _, e := range wire.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		result.Entities = append(result.Entities, types.ExtractedEntity{
			Name:        name,
			Type:        strings.ToUpper(strings.TrimSpace(e.Type)),
			Description: strings.TrimSpace(e.Description),
		})
	}
	if wire.Task != nil && strings.TrimSpace(wire.Task.Title) != "" {
		priority := wire.Task.Priority
		if priority < 1 || priority > 5 {
			priority = 3
		}
		result.Task = &types.TaskDetails{
			Title:    strings.TrimSpace(wire.Task.Title),
			DueDate:  strings.TrimSpace(wire.Task.DueDate),
			Priority: priority,
		}
	}
	return result, nil
}

// relationWire mirrors the relation prompt's JSON shape.
type relationWire struct {
	Relation  string `json:"relation"`
	Reasoning string `json:"reasoning"`
}

var validRelations = map[string]bool{
	types.RelationPartOf:          true,
	types.RelationRelatedTo:       true,
	types.RelationRequisiteFor:    true,
	types.RelationFinancialImpact: true,
	types.RelationOwnerOf:         true,
	types.RelationMemberOf:        true,
	types.RelationBlocks:          true,
	types.RelationNone:            true,
}

// ParseRelation parses the relation labeler's response. It returns the
// validated label; NONE means no edge should be created.
func ParseRelation(raw string) (string, error) {
	var wire relationWire
	if err := json.Unmarshal([]byte(extractJSON(raw)), &wire); err != nil {
		return "", fmt.Errorf("parse relation: %w", err)
	}
	label := strings.ToUpper(strings.TrimSpace(wire.Relation))
	if !validRelations[label] {
		return "", fmt.Errorf("parse relation: unknown label %q", wire.Relation)
	}
	return label, nil
}

// Critique is the parsed outcome of the internal critic call.
type Critique struct {
	Approved bool   `json:"approved"`
	Concern  string `json:"concern"`
}

// ParseCritique parses the critic's response. A rejection with no concern
// text is treated as malformed.
func ParseCritique(raw string) (Critique, error) {
	var c Critique
	if err := json.Unmarshal([]byte(extractJSON(raw)), &c); err != nil {
		return Critique{}, fmt.Errorf("parse critique: %w", err)
	}
	c.Concern = strings.TrimSpace(c.Concern)
	if !c.Approved && c.Concern == "" {
		return Critique{}, fmt.Errorf("parse critique: rejection without a concern")
	}
	return c, nil
}

// BioFacts is the parsed outcome of the reflection call.
type BioFacts struct {
	Routines    []string          `json:"routines"`
	Preferences map[string]string `json:"preferences"`
	LifeEvents  []string          `json:"life_events"`
}

// Empty reports whether reflection found nothing worth keeping.
func (b BioFacts) Empty() bool {
	return len(b.Routines) == 0 && len(b.Preferences) == 0 && len(b.LifeEvents) == 0
}

// ParseBioFacts parses the reflection response.
func ParseBioFacts(raw string) (BioFacts, error) {
	var b BioFacts
	if err := json.Unmarshal([]byte(extractJSON(raw)), &b); err != nil {
		return BioFacts{}, fmt.Errorf("parse bio facts: %w", err)
	}
	return b, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
