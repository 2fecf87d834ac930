package models

// SaveStateUpdate is the PATCH body for renaming a save state. A null or
// blank name clears the label.
type SaveStateUpdate struct {
	Name *string `json:"name"`
}

// GameUpdate is the PUT body for registering or renaming a game.
type GameUpdate struct {
	Name string `json:"name"`
}

// ActiveGameRequest is the PUT body for switching the active game. Unknown
// games are registered, using Name when given.
type ActiveGameRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
