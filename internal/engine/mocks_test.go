package engine

// Hand-written fakes shared by the engine tests. The generator fakes are
// scripted by prompt substring so one fake can answer classification,
// relation, critique, and response calls differently within a single
// pipeline run.

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/pkg/types"
)

type genRule struct {
	match string // substring of the prompt
	reply string
	err   error
}

type fakeGenerator struct {
	mu    sync.Mutex
	rules []genRule
	calls []string
}

func (g *fakeGenerator) on(match, reply string) *fakeGenerator {
	g.rules = append(g.rules, genRule{match: match, reply: reply})
	return g
}

func (g *fakeGenerator) failOn(match string, err error) *fakeGenerator {
	g.rules = append(g.rules, genRule{match: match, err: err})
	return g
}

func (g *fakeGenerator) Complete(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, prompt)
	rules := g.rules
	g.mu.Unlock()

	for _, rule := range rules {
		if strings.Contains(prompt, rule.match) {
			return rule.reply, rule.err
		}
	}
	return "", fmt.Errorf("fakeGenerator: no scripted reply for prompt: %.80s", prompt)
}

func (g *fakeGenerator) GetModel() string { return "fake-model" }

func (g *fakeGenerator) callCount(match string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}

type fakeStreamer struct {
	tokens []string
	err    error
	delay  time.Duration
}

func (s *fakeStreamer) Stream(ctx context.Context, _ string) (<-chan string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan string)
	go func() {
		defer close(out)
		for _, tok := range s.tokens {
			if s.delay > 0 {
				select {
				case <-time.After(s.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// fakeEmbedder returns canned vectors by exact text, falling back to a
// fixed default so unnamed texts still embed.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{}}
}

func (e *fakeEmbedder) set(text string, vec []float32) *fakeEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
	return e
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0.1, 0.1, 0.1}, nil
}

func (e *fakeEmbedder) GetModel() string { return "fake-embedder" }

// memStore is an in-memory storage.Store plus storage.VectorIndex.
type memStore struct {
	mu       sync.Mutex
	notes    map[string]*types.Note
	entities map[string]*types.Entity // keyed by ID
	byName   map[string]string        // name -> ID
	rels     map[string]*types.Relationship
	tasks    map[string]*types.Task
	profile  *types.UserProfile
	audits   []*types.AuditEntry

	vectors map[string]vecEntry

	relErr  error // injected failure for CreateRelationships
	profErr error // injected failure for LoadOrCreateProfile
}

type vecEntry struct {
	vec  []float32
	meta storage.VectorMetadata
}

var _ storage.Store = (*memStore)(nil)
var _ storage.VectorIndex = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		notes:    map[string]*types.Note{},
		entities: map[string]*types.Entity{},
		byName:   map[string]string{},
		rels:     map[string]*types.Relationship{},
		tasks:    map[string]*types.Task{},
		vectors:  map[string]vecEntry{},
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) CreateNote(_ context.Context, note *types.Note, entityIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.ID == "" {
		note.ID = fmt.Sprintf("note:%d", len(s.notes)+1)
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	note.EntityIDs = entityIDs
	s.notes[note.ID] = note
	return nil
}

func (s *memStore) GetNotes(_ context.Context, ids []string) ([]*types.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Note
	for _, id := range ids {
		if n, ok := s.notes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) NoteEntities(_ context.Context, noteID string) ([]*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[noteID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var out []*types.Entity
	for _, id := range n.EntityIDs {
		if e, ok := s.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

func (s *memStore) UpsertEntity(_ context.Context, e *types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[e.Name]; ok {
		existing := s.entities[id]
		if e.Description != "" {
			existing.Description = e.Description
		}
		*e = *existing
		return nil
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("ent:%d", len(s.entities)+1)
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	s.entities[e.ID] = e
	s.byName[e.Name] = e.ID
	return nil
}

func (s *memStore) GetEntity(_ context.Context, id string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[id]; ok {
		return e, nil
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) GetEntityByName(_ context.Context, name string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[name]; ok {
		return s.entities[id], nil
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) CreateRelationships(_ context.Context, rels []*types.Relationship, audit *types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relErr != nil {
		return s.relErr
	}
	for _, rel := range rels {
		key := rel.SourceID + "|" + rel.TargetID + "|" + rel.Type
		if _, ok := s.rels[key]; ok {
			continue
		}
		if rel.ID == "" {
			rel.ID = fmt.Sprintf("rel:%d", len(s.rels)+1)
		}
		rel.CreatedAt = time.Now()
		s.rels[key] = rel
	}
	if audit != nil {
		s.audits = append(s.audits, audit)
	}
	return nil
}

func (s *memStore) Traverse(_ context.Context, seedNames []string, hops, limit int) ([]types.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seeds := map[string]bool{}
	for _, name := range seedNames {
		if id, ok := s.byName[name]; ok {
			seeds[id] = true
		}
	}
	var facts []types.Fact
	for _, rel := range s.rels {
		if len(facts) >= limit {
			break
		}
		if seeds[rel.SourceID] || seeds[rel.TargetID] {
			facts = append(facts, types.Fact{
				Source:   s.entityName(rel.SourceID),
				Relation: rel.Type,
				Target:   s.entityName(rel.TargetID),
			})
		}
	}
	return facts, nil
}

func (s *memStore) entityName(id string) string {
	if e, ok := s.entities[id]; ok {
		return e.Name
	}
	return id
}

func (s *memStore) CreateTask(_ context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = fmt.Sprintf("task:%d", len(s.tasks)+1)
	}
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *memStore) DueTasks(_ context.Context, before time.Time) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		if t.Status == types.TaskDone || t.Status == types.TaskArchived {
			continue
		}
		if t.DueDate != nil && !t.DueDate.After(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) LoadOrCreateProfile(_ context.Context, defaults *types.UserProfile) (*types.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profErr != nil {
		return nil, s.profErr
	}
	if s.profile == nil {
		p := *defaults
		if p.ID == "" {
			p.ID = "usr:test"
		}
		s.profile = &p
	}
	copied := *s.profile
	return &copied, nil
}

func (s *memStore) UpdateProfile(_ context.Context, p *types.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.profile = &copied
	return nil
}

func (s *memStore) AppendAudit(_ context.Context, e *types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

func (s *memStore) Upsert(_ context.Context, id string, embedding []float32, meta storage.VectorMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[id] = vecEntry{vec: embedding, meta: meta}
	return nil
}

func (s *memStore) Search(_ context.Context, embedding []float32, topK int, userID string) ([]storage.VectorMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []storage.VectorMatch
	for id, entry := range s.vectors {
		if userID != "" && entry.meta.UserID != userID {
			continue
		}
		matches = append(matches, storage.VectorMatch{
			ID:       id,
			Score:    cosine32(embedding, entry.vec),
			Metadata: entry.meta,
		})
	}
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Score > matches[i].Score {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, id)
	return nil
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
