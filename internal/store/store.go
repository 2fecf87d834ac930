// Package store persists games and save-state records and reports every
// committed mutation on a change-notification stream.
package store

import (
	"context"
	"errors"

	"github.com/deltaemu/savestated/internal/events"
	"github.com/deltaemu/savestated/internal/models"
)

var (
	// ErrNotFound is returned when a game or save state does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when inserting an identifier that already exists.
	ErrConflict = errors.New("store: identifier already exists")
	// ErrUnknownGame is returned when a save state references a missing game.
	ErrUnknownGame = errors.New("store: unknown game")
	// ErrClosed is returned by stores and writers after Close.
	ErrClosed = errors.New("store: closed")
)

// Store is the interface for persisting games and save states.
// Reads always observe the latest committed state. Apply is the only mutation
// primitive; callers outside tests go through a Writer.
type Store interface {
	// Games returns all registered games ordered by ID.
	Games(ctx context.Context) ([]models.Game, error)

	// Game returns one game or ErrNotFound.
	Game(ctx context.Context, id string) (models.Game, error)

	// FetchSaveStates returns the save states of a game ordered by creation
	// date ascending, ties in commit order. Unknown games yield an empty slice.
	FetchSaveStates(ctx context.Context, gameID string) ([]models.SaveState, error)

	// SaveState returns one save state by identifier or ErrNotFound.
	SaveState(ctx context.Context, identifier string) (models.SaveState, error)

	// Apply commits a change set atomically: either every change is durable
	// or none is. A ChangeNotification is published after success.
	Apply(ctx context.Context, cs ChangeSet) error

	// Changes returns the bus on which commits are announced.
	Changes() *events.Bus[models.ChangeNotification]

	// Kind names the backend ("memory", "json", "sqlite").
	Kind() string

	// Path returns the location used by this store.
	Path() string

	// Close releases the backend.
	Close() error
}

// ChangeSet is a batch of mutations committed together.
type ChangeSet struct {
	Games    []models.Game
	Inserted []models.SaveState
	Updated  []models.SaveState
	Deleted  []string
}

// Empty reports whether the change set carries no mutations.
func (cs ChangeSet) Empty() bool {
	return len(cs.Games) == 0 && len(cs.Inserted) == 0 && len(cs.Updated) == 0 && len(cs.Deleted) == 0
}
