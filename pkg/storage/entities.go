package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by get_entity and similar lookups when no row
// matches the requested id.
var ErrNotFound = errors.New("storage: not found")

// UpsertEntity implements upsert_entity(entity) -> Result<(), Error>. One
// code path serves every entity table named in the data model (Campaign,
// Session, NPC, Faction, Location); domain-specific fields live in
// Attributes so the table and the upsert statement never need to change
// shape when a new entity type is added.
func (s *Store) UpsertEntity(ctx context.Context, e Entity) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("storage: upsert entity: marshal attributes: %w", err)
	}

	const q = `
		INSERT INTO entities (id, type, name, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET
		    type       = EXCLUDED.type,
		    name       = EXCLUDED.name,
		    attributes = EXCLUDED.attributes,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, e.ID, string(e.Type), e.Name, attrs); err != nil {
		return fmt.Errorf("storage: upsert entity: %w", err)
	}
	return nil
}

// GetEntity implements get_entity(id) -> Result<Entity, Error>.
func (s *Store) GetEntity(ctx context.Context, id string) (Entity, error) {
	const q = `SELECT id, type, name, attributes, created_at, updated_at FROM entities WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	e, err := scanEntityRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("storage: get entity: %w", err)
	}
	return e, nil
}

// DeleteEntity implements delete_entity(id) -> Result<(), Error>. Deleting
// an entity also removes every relationship that references it, so the
// graph never retains a dangling edge.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: delete entity: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE source_id = $1 OR target_id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete entity: delete edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: delete entity: delete entity: %w", err)
	}
	return tx.Commit(ctx)
}

// ListEntitiesByType returns every entity of the given type, e.g. every
// Campaign or every NPC.
func (s *Store) ListEntitiesByType(ctx context.Context, t EntityType) ([]Entity, error) {
	const q = `SELECT id, type, name, attributes, created_at, updated_at FROM entities WHERE type = $1 ORDER BY name`

	rows, err := s.pool.Query(ctx, q, string(t))
	if err != nil {
		return nil, fmt.Errorf("storage: list entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list entities: scan: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanEntityRow(row pgx.Row) (Entity, error) {
	var (
		e       Entity
		typ     string
		rawAttr []byte
	)
	if err := row.Scan(&e.ID, &typ, &e.Name, &rawAttr, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entity{}, err
	}
	e.Type = EntityType(typ)
	if len(rawAttr) > 0 {
		if err := json.Unmarshal(rawAttr, &e.Attributes); err != nil {
			return Entity{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return e, nil
}

// UpsertRelationship inserts or refreshes a first-class graph edge. Edges are
// never derived from foreign keys: every connection in the property graph —
// including chunk provenance and continuation links — goes through this path.
func (s *Store) UpsertRelationship(ctx context.Context, r Relationship) error {
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return fmt.Errorf("storage: upsert relationship: marshal attributes: %w", err)
	}

	const q = `
		INSERT INTO relationships (source_id, target_id, rel_type, strength, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (source_id, target_id, rel_type) DO UPDATE SET
		    strength   = EXCLUDED.strength,
		    attributes = EXCLUDED.attributes`

	if _, err := s.pool.Exec(ctx, q, r.SourceID, r.TargetID, string(r.RelType), r.Strength, attrs); err != nil {
		return fmt.Errorf("storage: upsert relationship: %w", err)
	}
	return nil
}

// DeleteRelationship removes one specific edge.
func (s *Store) DeleteRelationship(ctx context.Context, sourceID, targetID string, relType RelType) error {
	const q = `DELETE FROM relationships WHERE source_id = $1 AND target_id = $2 AND rel_type = $3`
	if _, err := s.pool.Exec(ctx, q, sourceID, targetID, string(relType)); err != nil {
		return fmt.Errorf("storage: delete relationship: %w", err)
	}
	return nil
}
