package models

// ChangeKind classifies a single store mutation.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
	ChangeGame   ChangeKind = "game"
)

// Change describes one committed mutation.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	GameID     string     `json:"game_id"`
	Identifier string     `json:"identifier,omitempty"`
}

// ChangeNotification is published by a store after a commit, or after the
// backing data was reloaded from outside the process (Reload set, Changes
// possibly empty).
type ChangeNotification struct {
	Changes []Change `json:"changes"`
	Reload  bool     `json:"reload,omitempty"`
}

// GameIDs returns the distinct games touched by the notification, in first
// seen order.
func (n ChangeNotification) GameIDs() []string {
	seen := make(map[string]bool, len(n.Changes))
	var ids []string
	for _, c := range n.Changes {
		if c.GameID == "" || seen[c.GameID] {
			continue
		}
		seen[c.GameID] = true
		ids = append(ids, c.GameID)
	}
	return ids
}

// ListChanged is published by the index whenever the ordered view of a game
// was regenerated.
type ListChanged struct {
	GameID     string      `json:"game_id"`
	SaveStates []SaveState `json:"savestates"`
	Empty      bool        `json:"empty"`
}
