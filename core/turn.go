package core

// Role identifies the author of a transcript turn.
type Role string

const (
	// RoleUser marks turns written on behalf of a player.
	RoleUser Role = "user"

	// RoleModel marks turns written by the dungeon master model.
	RoleModel Role = "model"
)

// Turn is one role-tagged message in a transcript. Turns are immutable once
// written; ordering is positional, backed by a monotonic per-user sequence
// in the store.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn builds a player turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// ModelTurn builds a dungeon master turn.
func ModelTurn(text string) Turn {
	return Turn{Role: RoleModel, Text: text}
}
