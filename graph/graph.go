// Package graph defines the durable per-user entity graph: typed nodes with
// key-value properties, plus directed edges inferred from properties whose
// value names another entity in the same user scope.
package graph

import (
	"context"
	"strings"

	"github.com/loremind/loremind/core"
)

// Graph is the entity graph backend.
//
// Backend failures wrap core.ErrGraphUnavailable; a missing entity is
// core.ErrNotFound. The two are distinct on purpose — "no context found"
// must never mask an unreachable store.
type Graph interface {
	// Upsert merges an entity into the user's scope, keyed by the normalized
	// entity name. The first upsert for a key allocates a stable id;
	// subsequent upserts reuse it. Property merge is last-write-wins per
	// field; no property is ever deleted by a merge. Edge inference runs as
	// a side effect and is idempotent.
	Upsert(ctx context.Context, userID string, entity core.Entity) (core.EntityID, error)

	// Context renders the entity's properties plus one hop of outgoing and
	// incoming edges as natural language for prompt injection.
	Context(ctx context.Context, userID string, id core.EntityID) (string, error)

	// DeleteUserScope removes all nodes and edges for a user.
	DeleteUserScope(ctx context.Context, userID string) error

	// Close releases resources.
	Close() error
}

// Options tunes relationship inference.
type Options struct {
	// LinklessTypes lists entity types whose properties never produce edges.
	// The name-match heuristic has false positives; callers can switch it
	// off for types where coincidental matches are common.
	LinklessTypes []core.EntityType
}

// Linkless reports whether edge inference is disabled for the given type.
func (o Options) Linkless(t core.EntityType) bool {
	for _, lt := range o.LinklessTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// RelationLabel normalizes a property key into an edge label, e.g.
// "works at" -> "WORKS_AT".
func RelationLabel(propertyKey string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToUpper(strings.TrimSpace(propertyKey)) {
		switch {
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// RelationPhrase renders an edge label back into prose, e.g.
// "WORKS_AT" -> "works at".
func RelationPhrase(label string) string {
	return strings.ToLower(strings.ReplaceAll(label, "_", " "))
}
