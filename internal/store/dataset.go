package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deltaemu/savestated/internal/models"
)

// dataset is the whole content of a file-backed or in-memory store. Save
// states are kept in commit order so a stable sort yields the display order.
type dataset struct {
	Games      []models.Game      `json:"games"`
	SaveStates []models.SaveState `json:"savestates"`
}

func (d dataset) clone() dataset {
	next := dataset{
		Games:      make([]models.Game, len(d.Games)),
		SaveStates: models.CloneSaveStates(d.SaveStates),
	}
	copy(next.Games, d.Games)
	return next
}

func (d *dataset) findGame(id string) int {
	for i := range d.Games {
		if d.Games[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *dataset) findSaveState(identifier string) int {
	for i := range d.SaveStates {
		if d.SaveStates[i].Identifier == identifier {
			return i
		}
	}
	return -1
}

func (d dataset) games() []models.Game {
	out := make([]models.Game, len(d.Games))
	copy(out, d.Games)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d dataset) saveStatesFor(gameID string) []models.SaveState {
	out := []models.SaveState{}
	for _, s := range d.SaveStates {
		if s.GameID == gameID {
			out = append(out, s.Clone())
		}
	}
	sortSaveStates(out)
	return out
}

// apply returns a new dataset with cs applied, and the changes it made.
// d is left untouched so a failed write can keep serving the old data.
func (d dataset) apply(cs ChangeSet) (dataset, []models.Change, error) {
	next := d.clone()
	var changes []models.Change

	for _, g := range cs.Games {
		if strings.TrimSpace(g.ID) == "" {
			return d, nil, models.ErrBadRequest("game id is required")
		}
		if i := next.findGame(g.ID); i >= 0 {
			next.Games[i] = g
		} else {
			next.Games = append(next.Games, g)
		}
		changes = append(changes, models.Change{Kind: models.ChangeGame, GameID: g.ID})
	}

	for _, s := range cs.Inserted {
		if err := s.Validate(); err != nil {
			return d, nil, fmt.Errorf("insert save state %q: %w", s.Identifier, err)
		}
		if next.findGame(s.GameID) < 0 {
			return d, nil, fmt.Errorf("insert save state %q: %w", s.Identifier, ErrUnknownGame)
		}
		if next.findSaveState(s.Identifier) >= 0 {
			return d, nil, fmt.Errorf("insert save state %q: %w", s.Identifier, ErrConflict)
		}
		next.SaveStates = append(next.SaveStates, s.Clone())
		changes = append(changes, models.Change{Kind: models.ChangeInsert, GameID: s.GameID, Identifier: s.Identifier})
	}

	for _, s := range cs.Updated {
		if err := s.Validate(); err != nil {
			return d, nil, fmt.Errorf("update save state %q: %w", s.Identifier, err)
		}
		i := next.findSaveState(s.Identifier)
		if i < 0 {
			return d, nil, fmt.Errorf("update save state %q: %w", s.Identifier, ErrNotFound)
		}
		if next.findGame(s.GameID) < 0 {
			return d, nil, fmt.Errorf("update save state %q: %w", s.Identifier, ErrUnknownGame)
		}
		prevGame := next.SaveStates[i].GameID
		next.SaveStates[i] = s.Clone()
		if prevGame != s.GameID {
			changes = append(changes, models.Change{Kind: models.ChangeDelete, GameID: prevGame, Identifier: s.Identifier})
		}
		changes = append(changes, models.Change{Kind: models.ChangeUpdate, GameID: s.GameID, Identifier: s.Identifier})
	}

	for _, id := range cs.Deleted {
		i := next.findSaveState(id)
		if i < 0 {
			return d, nil, fmt.Errorf("delete save state %q: %w", id, ErrNotFound)
		}
		gameID := next.SaveStates[i].GameID
		next.SaveStates = append(next.SaveStates[:i], next.SaveStates[i+1:]...)
		changes = append(changes, models.Change{Kind: models.ChangeDelete, GameID: gameID, Identifier: id})
	}

	return next, changes, nil
}

// sortSaveStates orders by creation date ascending, keeping the incoming
// order for equal dates.
func sortSaveStates(states []models.SaveState) {
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].CreationDate.Before(states[j].CreationDate)
	})
}
