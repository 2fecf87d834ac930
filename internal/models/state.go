// Package models defines the data structures shared by the save-state index,
// its stores and the HTTP API.
package models

import (
	"strings"
	"time"
)

// Game is an emulated title that owns save states.
type Game struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SaveState is one persisted emulation snapshot record. The snapshot payload
// itself lives outside the record, keyed by Filename.
type SaveState struct {
	Identifier   string    `json:"identifier"`
	Filename     string    `json:"filename"`
	Name         *string   `json:"name"` // nullable
	CreationDate time.Time `json:"creation_date"`
	ModifiedDate time.Time `json:"modified_date"`
	GameID       string    `json:"game_id"`
}

// Clone returns a copy that shares no pointers with s.
func (s SaveState) Clone() SaveState {
	next := s
	if s.Name != nil {
		name := *s.Name
		next.Name = &name
	}
	return next
}

// HasName reports whether the record carries a non-blank user label.
func (s SaveState) HasName() bool {
	return s.Name != nil && strings.TrimSpace(*s.Name) != ""
}

// Validate checks the record invariants that every store enforces on commit.
func (s SaveState) Validate() error {
	switch {
	case strings.TrimSpace(s.Identifier) == "":
		return ErrBadRequest("save state identifier is required")
	case strings.TrimSpace(s.Filename) == "":
		return ErrBadRequest("save state filename is required")
	case strings.TrimSpace(s.GameID) == "":
		return ErrBadRequest("save state game is required")
	case s.CreationDate.IsZero():
		return ErrBadRequest("save state creation date is required")
	case s.ModifiedDate.Before(s.CreationDate):
		return ErrBadRequest("save state modified date precedes creation date")
	}
	return nil
}

// CloneSaveStates copies a slice of records.
func CloneSaveStates(in []SaveState) []SaveState {
	out := make([]SaveState, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// SaveStateView is a record decorated with its display label.
type SaveStateView struct {
	SaveState
	Label string `json:"label"`
}

// SaveStateList is the labelled list of one game's save states.
type SaveStateList struct {
	GameID     string          `json:"game_id"`
	SaveStates []SaveStateView `json:"savestates"`
	Empty      bool            `json:"empty"`
}

// Info is the system information response.
type Info struct {
	Version    string `json:"version"`
	Store      string `json:"store"`
	ActiveGame *Game  `json:"active_game,omitempty"`
}
