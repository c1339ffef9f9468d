package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/ceobrain/cortex/internal/llm"
	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/pkg/types"
)

// maxLinkCandidates caps how many graph neighbors one new entity is tested
// against. Each candidate costs an LLM call.
const maxLinkCandidates = 5

// Linker grows the knowledge graph. Three edge sources, by strength:
// explicitly stated facts (1.0), LLM-labeled links against semantically
// nearby entities (0.8), and same-utterance co-occurrence (0.5).
type Linker struct {
	store     storage.Store
	index     storage.VectorIndex
	embedder  llm.EmbeddingGenerator
	generator llm.TextGenerator
}

// NewLinker creates the graph linker.
func NewLinker(store storage.Store, index storage.VectorIndex, embedder llm.EmbeddingGenerator, generator llm.TextGenerator) *Linker {
	return &Linker{
		store:     store,
		index:     index,
		embedder:  embedder,
		generator: generator,
	}
}

// Autolink finds entities semantically near the subject and asks the LLM to
// label the relationship with each. Candidates come from a pure similarity
// search; recency is irrelevant to graph structure. Failed candidates are
// skipped, surviving edges are written atomically with one audit entry.
func (l *Linker) Autolink(ctx context.Context, subject *types.Entity, contextText, userID string) error {
	if subject == nil || subject.ID == "" {
		return storage.ErrInvalidInput
	}

	seed := contextText
	if strings.TrimSpace(seed) == "" {
		seed = subject.Name + " " + subject.Description
	}
	embedding, err := l.embedder.Embed(ctx, seed)
	if err != nil {
		return fmt.Errorf("autolink %s: embed: %w", subject.Name, err)
	}

	matches, err := l.index.Search(ctx, embedding, maxLinkCandidates, userID)
	if err != nil {
		return fmt.Errorf("autolink %s: search: %w", subject.Name, err)
	}

	candidates := l.candidateEntities(ctx, matches, subject)
	if len(candidates) == 0 {
		return nil
	}

	var edges []*types.Relationship
	details := map[string]interface{}{"subject": subject.Name, "candidates": len(candidates)}
	for _, candidate := range candidates {
		raw, err := l.generator.Complete(ctx,
			llm.RelationPrompt(subject.Name, subject.Type, candidate.Name, candidate.Type, contextText))
		if err != nil {
			log.Printf("Linker: relation call failed for %s -> %s, skipping: %v", subject.Name, candidate.Name, err)
			continue
		}
		label, err := llm.ParseRelation(raw)
		if err != nil {
			log.Printf("Linker: unparseable relation for %s -> %s, skipping: %v", subject.Name, candidate.Name, err)
			continue
		}
		if label == types.RelationNone {
			continue
		}
		edges = append(edges, &types.Relationship{
			SourceID: subject.ID,
			TargetID: candidate.ID,
			Type:     label,
			Strength: types.StrengthAutoLink,
		})
		details[candidate.Name] = label
	}
	if len(edges) == 0 {
		return nil
	}

	audit := &types.AuditEntry{
		ID:      "aud:" + uuid.NewString(),
		Action:  "autolink",
		Details: details,
	}
	if err := l.store.CreateRelationships(ctx, edges, audit); err != nil {
		return fmt.Errorf("autolink %s: persist edges: %w", subject.Name, err)
	}
	log.Printf("Linker: created %d edges for %s", len(edges), subject.Name)
	return nil
}

// candidateEntities resolves search matches to distinct entities, excluding
// the subject itself.
func (l *Linker) candidateEntities(ctx context.Context, matches []storage.VectorMatch, subject *types.Entity) []*types.Entity {
	seen := map[string]bool{subject.Name: true}
	var out []*types.Entity
	for _, match := range matches {
		for _, name := range match.Metadata.Entities {
			if seen[name] {
				continue
			}
			seen[name] = true
			e, err := l.store.GetEntityByName(ctx, name)
			if err != nil {
				continue
			}
			out = append(out, e)
			if len(out) == maxLinkCandidates {
				return out
			}
		}
	}
	return out
}

// LinkCooccurrence writes a weak RELATED_TO edge between every pair of
// entities mentioned in the same utterance.
func (l *Linker) LinkCooccurrence(ctx context.Context, entities []*types.Entity) error {
	if len(entities) < 2 {
		return nil
	}

	var edges []*types.Relationship
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			edges = append(edges, &types.Relationship{
				SourceID: entities[i].ID,
				TargetID: entities[j].ID,
				Type:     types.RelationRelatedTo,
				Strength: types.StrengthCooccurrence,
			})
		}
	}

	audit := &types.AuditEntry{
		ID:      "aud:" + uuid.NewString(),
		Action:  "cooccurrence",
		Details: map[string]interface{}{"entities": strings.Join(names, ", "), "edges": len(edges)},
	}
	if err := l.store.CreateRelationships(ctx, edges, audit); err != nil {
		return fmt.Errorf("cooccurrence link: %w", err)
	}
	return nil
}

// LinkExplicit writes full-strength edges for facts the user stated
// outright, when both ends resolve to known entities.
func (l *Linker) LinkExplicit(ctx context.Context, facts []types.ExtractedFact) error {
	var edges []*types.Relationship
	details := map[string]interface{}{}
	for _, fact := range facts {
		if fact.Subject == "" || fact.Object == "" || fact.Predicate == "" {
			continue
		}
		src, err := l.store.GetEntityByName(ctx, fact.Subject)
		if err != nil {
			continue
		}
		tgt, err := l.store.GetEntityByName(ctx, fact.Object)
		if err != nil {
			continue
		}
		relation := relationToken(fact.Predicate)
		edges = append(edges, &types.Relationship{
			SourceID: src.ID,
			TargetID: tgt.ID,
			Type:     relation,
			Strength: types.StrengthExplicit,
		})
		details[fact.Subject+" -> "+fact.Object] = relation
	}
	if len(edges) == 0 {
		return nil
	}

	audit := &types.AuditEntry{
		ID:      "aud:" + uuid.NewString(),
		Action:  "explicit_fact",
		Details: details,
	}
	if err := l.store.CreateRelationships(ctx, edges, audit); err != nil {
		return fmt.Errorf("explicit link: %w", err)
	}
	return nil
}

// GraphFacts walks the graph outward from the seed names and renders the
// discovered edges as prompt-ready lines. Errors degrade to an empty block.
func (l *Linker) GraphFacts(ctx context.Context, seedNames []string, hops, limit int) string {
	if len(seedNames) == 0 {
		return ""
	}
	facts, err := l.store.Traverse(ctx, seedNames, hops, limit)
	if err != nil {
		log.Printf("Linker: graph traversal failed, continuing without graph context: %v", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = fmt.Sprintf("%s %s %s", f.Source, f.Relation, f.Target)
	}
	return strings.Join(lines, "\n")
}

// relationToken normalizes a free-text predicate into the uppercase token
// form the store uses for relation types.
func relationToken(predicate string) string {
	token := strings.ToUpper(strings.TrimSpace(predicate))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range token {
		switch {
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
