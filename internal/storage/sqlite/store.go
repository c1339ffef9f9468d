package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/pkg/types"
)

// Ensure *Store implements the full aggregate at compile time.
var _ storage.Store = (*Store)(nil)

// Store implements the relational storage interfaces on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// Single writer; avoids SQLITE_BUSY under concurrent pipeline runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: pragmas: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying connection so the vector index can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateNote persists a note and its entity links in one transaction.
func (s *Store) CreateNote(ctx context.Context, note *types.Note, entityIDs []string) error {
	if note == nil || note.Content == "" {
		return storage.ErrInvalidInput
	}
	if note.ID == "" {
		note.ID = "note:" + uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin CreateNote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes (id, content, created_at) VALUES (?, ?, ?)`,
		note.ID, note.Content, note.CreatedAt,
	); err != nil {
		return fmt.Errorf("sqlite: insert note: %w", err)
	}
	for _, entityID := range entityIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entity_notes (entity_id, note_id) VALUES (?, ?)`,
			entityID, note.ID,
		); err != nil {
			return fmt.Errorf("sqlite: link note to entity %s: %w", entityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit CreateNote: %w", err)
	}
	note.EntityIDs = entityIDs
	return nil
}

// GetNotes resolves IDs to notes, preserving input order and skipping
// missing rows.
func (s *Store) GetNotes(ctx context.Context, ids []string) ([]*types.Note, error) {
	notes := make([]*types.Note, 0, len(ids))
	for _, id := range ids {
		var n types.Note
		err := s.db.QueryRowContext(ctx,
			`SELECT id, content, created_at FROM notes WHERE id = ?`, id,
		).Scan(&n.ID, &n.Content, &n.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite: get note %s: %w", id, err)
		}
		notes = append(notes, &n)
	}
	return notes, nil
}

// NoteEntities returns the entities linked to a note.
func (s *Store) NoteEntities(ctx context.Context, noteID string) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.name, e.type, e.description, e.metadata, e.tags, e.created_at, e.updated_at
		FROM entities e
		JOIN entity_notes en ON en.entity_id = e.id
		WHERE en.note_id = ?
		ORDER BY e.name`, noteID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: note entities %s: %w", noteID, err)
	}
	defer func() { _ = rows.Close() }()

	var entities []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// DeleteNote removes a note; entity links cascade.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete note %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertEntity creates the entity on first mention or enriches the existing
// record. SQLite lacks a JSON merge operator so the merge happens in Go.
func (s *Store) UpsertEntity(ctx context.Context, e *types.Entity) error {
	if e == nil || e.Name == "" {
		return storage.ErrInvalidInput
	}
	now := time.Now()

	existing, err := s.GetEntityByName(ctx, e.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if existing != nil {
		if e.Description != "" {
			existing.Description = e.Description
		}
		if len(e.Metadata) > 0 {
			if existing.Metadata == nil {
				existing.Metadata = map[string]interface{}{}
			}
			for k, v := range e.Metadata {
				existing.Metadata[k] = v
			}
		}
		existing.UpdatedAt = now

		metadata, merr := json.Marshal(existing.Metadata)
		if merr != nil {
			return fmt.Errorf("sqlite: marshal entity metadata: %w", merr)
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE entities SET description = ?, metadata = ?, updated_at = ? WHERE id = ?`,
			existing.Description, metadata, existing.UpdatedAt, existing.ID,
		); err != nil {
			return fmt.Errorf("sqlite: update entity %q: %w", e.Name, err)
		}
		*e = *existing
		return nil
	}

	if e.ID == "" {
		e.ID = "ent:" + uuid.NewString()
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal entity metadata: %w", err)
	}
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: marshal entity tags: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, type, description, metadata, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Type, e.Description, metadata, tags, e.CreatedAt, e.UpdatedAt,
	); err != nil {
		return fmt.Errorf("sqlite: insert entity %q: %w", e.Name, err)
	}
	return nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	return s.getEntity(ctx, `id = ?`, id)
}

// GetEntityByName retrieves an entity by exact name match.
func (s *Store) GetEntityByName(ctx context.Context, name string) (*types.Entity, error) {
	return s.getEntity(ctx, `name = ?`, name)
}

func (s *Store) getEntity(ctx context.Context, where string, arg interface{}) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, description, metadata, tags, created_at, updated_at
		FROM entities WHERE `+where, arg)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get entity: %w", err)
	}
	return e, nil
}

// CreateRelationships persists edges and the audit entry in one transaction.
func (s *Store) CreateRelationships(ctx context.Context, rels []*types.Relationship, audit *types.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin CreateRelationships: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rel := range rels {
		if rel.ID == "" {
			rel.ID = "rel:" + uuid.NewString()
		}
		if rel.CreatedAt.IsZero() {
			rel.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO relationships (id, source_id, target_id, type, strength, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rel.ID, rel.SourceID, rel.TargetID, rel.Type, rel.Strength, rel.CreatedAt,
		); err != nil {
			return fmt.Errorf("sqlite: insert relationship %s-[%s]->%s: %w", rel.SourceID, rel.Type, rel.TargetID, err)
		}
	}

	if audit != nil {
		if err := appendAuditTx(ctx, tx, audit); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit CreateRelationships: %w", err)
	}
	return nil
}

// Traverse walks edges outward from the seed entities, one hop per query.
func (s *Store) Traverse(ctx context.Context, seedNames []string, hops int, limit int) ([]types.Fact, error) {
	if len(seedNames) == 0 || hops < 1 || limit < 1 {
		return []types.Fact{}, nil
	}

	frontier := make(map[string]bool)
	for _, name := range seedNames {
		e, err := s.GetEntityByName(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		frontier[e.ID] = true
	}

	visited := make(map[string]bool)
	seenEdge := make(map[string]bool)
	var facts []types.Fact

	for hop := 0; hop < hops && len(frontier) > 0 && len(facts) < limit; hop++ {
		next := make(map[string]bool)
		for id := range frontier {
			if visited[id] {
				continue
			}
			visited[id] = true

			rows, err := s.db.QueryContext(ctx, `
				SELECT r.id, src.name, r.type, tgt.name, src.id, tgt.id
				FROM relationships r
				JOIN entities src ON src.id = r.source_id
				JOIN entities tgt ON tgt.id = r.target_id
				WHERE r.source_id = ? OR r.target_id = ?`, id, id)
			if err != nil {
				return nil, fmt.Errorf("sqlite: traverse from %s: %w", id, err)
			}

			for rows.Next() {
				var edgeID, srcName, relType, tgtName, srcID, tgtID string
				if err := rows.Scan(&edgeID, &srcName, &relType, &tgtName, &srcID, &tgtID); err != nil {
					_ = rows.Close()
					return nil, fmt.Errorf("sqlite: traverse scan: %w", err)
				}
				if !seenEdge[edgeID] && len(facts) < limit {
					seenEdge[edgeID] = true
					facts = append(facts, types.Fact{Source: srcName, Relation: relType, Target: tgtName})
				}
				if !visited[srcID] {
					next[srcID] = true
				}
				if !visited[tgtID] {
					next[tgtID] = true
				}
			}
			if err := rows.Err(); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("sqlite: traverse rows: %w", err)
			}
			_ = rows.Close()
		}
		frontier = next
	}

	return facts, nil
}

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *types.Task) error {
	if t == nil || t.Title == "" {
		return storage.ErrInvalidInput
	}
	if t.ID == "" {
		t.ID = "task:" + uuid.NewString()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	if t.Priority < 1 {
		t.Priority = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, due_date, entity_id, note_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
		t.ID, t.Title, t.Status, t.Priority, t.DueDate, t.EntityID, t.NoteID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: insert task: %w", err)
	}
	return nil
}

// DueTasks returns open tasks due at or before the given time, soonest first.
func (s *Store) DueTasks(ctx context.Context, before time.Time) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, priority, due_date, COALESCE(entity_id, ''), COALESCE(note_id, ''), created_at, updated_at
		FROM tasks
		WHERE status NOT IN (?, ?) AND due_date IS NOT NULL AND due_date <= ?
		ORDER BY due_date ASC`,
		types.TaskDone, types.TaskArchived, before)
	if err != nil {
		return nil, fmt.Errorf("sqlite: due tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.Task
	for rows.Next() {
		var t types.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.Priority, &t.DueDate, &t.EntityID, &t.NoteID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: due tasks scan: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// LoadOrCreateProfile returns the deployment's profile, creating it from
// defaults when the table is empty.
func (s *Store) LoadOrCreateProfile(ctx context.Context, defaults *types.UserProfile) (*types.UserProfile, error) {
	var (
		p         types.UserProfile
		bioJSON   []byte
		statsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, bio_memory, stats, created_at, updated_at
		FROM user_profile ORDER BY created_at LIMIT 1`,
	).Scan(&p.ID, &p.Name, &bioJSON, &statsJSON, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return s.createProfile(ctx, defaults)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load profile: %w", err)
	}

	if err := json.Unmarshal(bioJSON, &p.BioMemory); err != nil {
		return nil, fmt.Errorf("sqlite: decode bio_memory: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &p.Stats); err != nil {
		return nil, fmt.Errorf("sqlite: decode stats: %w", err)
	}
	return &p, nil
}

func (s *Store) createProfile(ctx context.Context, defaults *types.UserProfile) (*types.UserProfile, error) {
	if defaults == nil {
		return nil, storage.ErrInvalidInput
	}
	p := *defaults
	if p.ID == "" {
		p.ID = "usr:" + uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	bioJSON, err := json.Marshal(p.BioMemory)
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal bio_memory: %w", err)
	}
	statsJSON, err := json.Marshal(p.Stats)
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal stats: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profile (id, name, bio_memory, stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, bioJSON, statsJSON, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("sqlite: create profile: %w", err)
	}
	return &p, nil
}

// UpdateProfile writes the profile back (last writer wins).
func (s *Store) UpdateProfile(ctx context.Context, p *types.UserProfile) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}
	bioJSON, err := json.Marshal(p.BioMemory)
	if err != nil {
		return fmt.Errorf("sqlite: marshal bio_memory: %w", err)
	}
	statsJSON, err := json.Marshal(p.Stats)
	if err != nil {
		return fmt.Errorf("sqlite: marshal stats: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE user_profile SET name = ?, bio_memory = ?, stats = ?, updated_at = ? WHERE id = ?`,
		p.Name, bioJSON, statsJSON, time.Now(), p.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendAudit writes a single audit entry.
func (s *Store) AppendAudit(ctx context.Context, e *types.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin AppendAudit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendAuditTx(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, e *types.AuditEntry) error {
	if e == nil || e.Action == "" {
		return storage.ErrInvalidInput
	}
	if e.ID == "" {
		e.ID = "aud:" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit details: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, details, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.Action, details, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("sqlite: insert audit entry: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for entity scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scanner) (*types.Entity, error) {
	var (
		e           types.Entity
		description sql.NullString
		metadata    []byte
		tags        []byte
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &description, &metadata, &tags, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Description = description.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode entity metadata: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("decode entity tags: %w", err)
		}
	}
	return &e, nil
}
