package core

import "strings"

// EntityID is the stable identifier of an entity node. The vector index uses
// the same value as its entry id, so the 1:1 correspondence between graph
// nodes and vector entries is enforced by the type system rather than by an
// incidental string match.
type EntityID string

// EntityType classifies an entity node.
type EntityType string

const (
	EntityCharacter EntityType = "Character"
	EntityLocation  EntityType = "Location"
	EntityItem      EntityType = "Item"

	// EntityThing is the catch-all type for drafts the extractor could not
	// classify.
	EntityThing EntityType = "Thing"
)

// ParseEntityType maps a free-form type label from an extraction draft to a
// known EntityType. Unrecognized labels fall back to EntityThing.
func ParseEntityType(s string) EntityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "character", "npc", "person":
		return EntityCharacter
	case "location", "place":
		return EntityLocation
	case "item", "object":
		return EntityItem
	default:
		return EntityThing
	}
}

// Entity is a named, typed fact record with key-value properties. Name is the
// display key; identity within a user scope is the normalized form of Name.
type Entity struct {
	Name       string            `json:"name"`
	Type       EntityType        `json:"type"`
	Properties map[string]string `json:"properties"`
}

// NormalizeName returns the case-insensitive merge key for an entity name.
// Casing drift in extraction output ("the gilded mug" vs "The Gilded Mug")
// must land on one node.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
