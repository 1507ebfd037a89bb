// Package sqlite provides the SQLite-backed entity graph.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loremind/loremind/core"
	"github.com/loremind/loremind/graph"
)

// Graph stores entity nodes, their properties, and inferred edges in SQLite.
type Graph struct {
	db   *sql.DB
	opts graph.Options
}

// New opens or creates the graph database at path.
func New(path string, opts graph.Options) (*Graph, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	db.SetMaxOpenConns(1)

	g := &Graph{db: db, opts: opts}
	if err := g.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate graph db: %w", err)
	}
	return g, nil
}

func (g *Graph) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id       TEXT PRIMARY KEY,
		user_id  TEXT NOT NULL,
		name     TEXT NOT NULL,
		name_key TEXT NOT NULL,
		type     TEXT NOT NULL,
		UNIQUE (user_id, name_key)
	);
	CREATE TABLE IF NOT EXISTS properties (
		entity_id TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     TEXT NOT NULL,
		value_key TEXT NOT NULL,
		PRIMARY KEY (entity_id, key)
	);
	CREATE TABLE IF NOT EXISTS edges (
		user_id   TEXT NOT NULL,
		source_id TEXT NOT NULL,
		relation  TEXT NOT NULL,
		target_id TEXT NOT NULL,
		PRIMARY KEY (source_id, relation, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_scope ON entities(user_id, name_key);
	CREATE INDEX IF NOT EXISTS idx_properties_value ON properties(value_key);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);`
	_, err := g.db.Exec(schema)
	return err
}

// Upsert merges the entity into the user's scope and re-runs edge inference
// for its properties. Safe to replay: the same input converges to the same
// graph state.
func (g *Graph) Upsert(ctx context.Context, userID string, entity core.Entity) (core.EntityID, error) {
	name := strings.TrimSpace(entity.Name)
	if name == "" {
		return "", fmt.Errorf("entity has no name")
	}
	nameKey := core.NormalizeName(name)
	entityType := entity.Type
	typeProvided := entityType != ""
	if !typeProvided {
		entityType = core.EntityThing
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin upsert: %v", core.ErrGraphUnavailable, err)
	}
	defer tx.Rollback()

	// First upsert for a key allocates the stable id; later ones reuse it.
	// The first-seen display casing of the name is kept for rendering. A
	// draft that arrived without a type never demotes an established one.
	newID := uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities (id, user_id, name, name_key, type) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, name_key) DO UPDATE SET type = CASE WHEN ? THEN excluded.type ELSE type END`,
		newID, userID, name, nameKey, string(entityType), typeProvided); err != nil {
		return "", fmt.Errorf("%w: upsert node: %v", core.ErrGraphUnavailable, err)
	}

	var id, storedType string
	if err := tx.QueryRowContext(ctx,
		`SELECT id, type FROM entities WHERE user_id = ? AND name_key = ?`,
		userID, nameKey).Scan(&id, &storedType); err != nil {
		return "", fmt.Errorf("%w: resolve node id: %v", core.ErrGraphUnavailable, err)
	}

	for key, value := range entity.Properties {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO properties (entity_id, key, value, value_key) VALUES (?, ?, ?, ?)
			 ON CONFLICT (entity_id, key) DO UPDATE SET value = excluded.value, value_key = excluded.value_key`,
			id, key, value, core.NormalizeName(value)); err != nil {
			return "", fmt.Errorf("%w: upsert property %q: %v", core.ErrGraphUnavailable, key, err)
		}
	}

	if err := g.inferEdgesTx(ctx, tx, userID, id, core.EntityType(storedType), nameKey); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit upsert: %v", core.ErrGraphUnavailable, err)
	}
	log.Printf("[GRAPH] Upserted entity %q (%s) for user %s", name, storedType, userID)
	return core.EntityID(id), nil
}

// inferEdgesTx materializes edges in both directions around the entity:
// its own property values that name existing entities, and other entities'
// property values that name it. Matching only against existing nodes keeps
// a stray string from spawning a node, and makes inference independent of
// upsert order within a batch. Both sides of the match are normalized in Go
// (value_key is written at upsert time); SQLite's lower() folds ASCII only
// and would miss accented names.
func (g *Graph) inferEdgesTx(ctx context.Context, tx *sql.Tx, userID, id string, entityType core.EntityType, nameKey string) error {
	if !g.opts.Linkless(entityType) {
		rows, err := tx.QueryContext(ctx,
			`SELECT p.key, e.id FROM properties p
			 JOIN entities e ON e.user_id = ? AND e.name_key = p.value_key
			 WHERE p.entity_id = ? AND e.id != ?`,
			userID, id, id)
		if err != nil {
			return fmt.Errorf("%w: match outgoing edges: %v", core.ErrGraphUnavailable, err)
		}
		type edge struct{ relation, target string }
		var out []edge
		for rows.Next() {
			var key, target string
			if err := rows.Scan(&key, &target); err != nil {
				rows.Close()
				return fmt.Errorf("%w: scan edge match: %v", core.ErrGraphUnavailable, err)
			}
			out = append(out, edge{graph.RelationLabel(key), target})
		}
		rows.Close()
		for _, e := range out {
			if e.relation == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO edges (user_id, source_id, relation, target_id) VALUES (?, ?, ?, ?)`,
				userID, id, e.relation, e.target); err != nil {
				return fmt.Errorf("%w: create edge: %v", core.ErrGraphUnavailable, err)
			}
		}
	}

	// Reverse direction: properties already in the scope that name this entity.
	rows, err := tx.QueryContext(ctx,
		`SELECT p.entity_id, p.key, e.type FROM properties p
		 JOIN entities e ON e.id = p.entity_id
		 WHERE e.user_id = ? AND p.value_key = ? AND p.entity_id != ?`,
		userID, nameKey, id)
	if err != nil {
		return fmt.Errorf("%w: match incoming edges: %v", core.ErrGraphUnavailable, err)
	}
	type rev struct{ source, relation string }
	var in []rev
	for rows.Next() {
		var source, key, sourceType string
		if err := rows.Scan(&source, &key, &sourceType); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan incoming match: %v", core.ErrGraphUnavailable, err)
		}
		if g.opts.Linkless(core.EntityType(sourceType)) {
			continue
		}
		in = append(in, rev{source, graph.RelationLabel(key)})
	}
	rows.Close()
	for _, e := range in {
		if e.relation == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (user_id, source_id, relation, target_id) VALUES (?, ?, ?, ?)`,
			userID, e.source, e.relation, id); err != nil {
			return fmt.Errorf("%w: create incoming edge: %v", core.ErrGraphUnavailable, err)
		}
	}
	return nil
}

// Context renders the entity and one hop of its edges for prompt injection.
func (g *Graph) Context(ctx context.Context, userID string, id core.EntityID) (string, error) {
	var name, entityType string
	err := g.db.QueryRowContext(ctx,
		`SELECT name, type FROM entities WHERE id = ? AND user_id = ?`,
		string(id), userID).Scan(&name, &entityType)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: entity %s", core.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("%w: load entity: %v", core.ErrGraphUnavailable, err)
	}

	lines := []string{fmt.Sprintf("Here is what is known about %s (a %s):", name, entityType)}

	rows, err := g.db.QueryContext(ctx,
		`SELECT key, value FROM properties WHERE entity_id = ? ORDER BY key`, string(id))
	if err != nil {
		return "", fmt.Errorf("%w: load properties: %v", core.ErrGraphUnavailable, err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return "", fmt.Errorf("%w: scan property: %v", core.ErrGraphUnavailable, err)
		}
		lines = append(lines, fmt.Sprintf("- %s's %s is %s.", name, key, value))
	}
	rows.Close()

	// Outgoing edges.
	rows, err = g.db.QueryContext(ctx,
		`SELECT ed.relation, e.name FROM edges ed
		 JOIN entities e ON e.id = ed.target_id
		 WHERE ed.source_id = ? ORDER BY ed.relation, e.name`, string(id))
	if err != nil {
		return "", fmt.Errorf("%w: load outgoing edges: %v", core.ErrGraphUnavailable, err)
	}
	for rows.Next() {
		var relation, target string
		if err := rows.Scan(&relation, &target); err != nil {
			rows.Close()
			return "", fmt.Errorf("%w: scan edge: %v", core.ErrGraphUnavailable, err)
		}
		lines = append(lines, fmt.Sprintf("- %s %s %s.", name, graph.RelationPhrase(relation), target))
	}
	rows.Close()

	// Incoming edges.
	rows, err = g.db.QueryContext(ctx,
		`SELECT e.name, ed.relation FROM edges ed
		 JOIN entities e ON e.id = ed.source_id
		 WHERE ed.target_id = ? ORDER BY e.name, ed.relation`, string(id))
	if err != nil {
		return "", fmt.Errorf("%w: load incoming edges: %v", core.ErrGraphUnavailable, err)
	}
	for rows.Next() {
		var source, relation string
		if err := rows.Scan(&source, &relation); err != nil {
			rows.Close()
			return "", fmt.Errorf("%w: scan incoming edge: %v", core.ErrGraphUnavailable, err)
		}
		lines = append(lines, fmt.Sprintf("- %s %s %s.", source, graph.RelationPhrase(relation), name))
	}
	rows.Close()

	return strings.Join(lines, "\n"), nil
}

// DeleteUserScope removes every node, property, and edge in the user's scope.
func (g *Graph) DeleteUserScope(ctx context.Context, userID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete scope: %v", core.ErrGraphUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("%w: delete edges: %v", core.ErrGraphUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM properties WHERE entity_id IN (SELECT id FROM entities WHERE user_id = ?)`,
		userID); err != nil {
		return fmt.Errorf("%w: delete properties: %v", core.ErrGraphUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("%w: delete entities: %v", core.ErrGraphUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete scope: %v", core.ErrGraphUnavailable, err)
	}
	log.Printf("[GRAPH] Deleted graph scope for user %s", userID)
	return nil
}

// Close closes the underlying database.
func (g *Graph) Close() error {
	return g.db.Close()
}
