package store

import (
	"context"
	"sync"

	"github.com/deltaemu/savestated/internal/events"
	"github.com/deltaemu/savestated/internal/models"
)

// MemStore is an in-memory Store for tests and ephemeral sessions.
type MemStore struct {
	mu     sync.RWMutex
	data   dataset
	bus    *events.Bus[models.ChangeNotification]
	closed bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{bus: events.NewBus[models.ChangeNotification]()}
}

// Games returns all registered games.
func (m *MemStore) Games(ctx context.Context) ([]models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.games(), nil
}

// Game returns one game by ID.
func (m *MemStore) Game(ctx context.Context, id string) (models.Game, error) {
	if err := ctx.Err(); err != nil {
		return models.Game{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.data.findGame(id)
	if i < 0 {
		return models.Game{}, ErrNotFound
	}
	return m.data.Games[i], nil
}

// FetchSaveStates returns the ordered save states of a game.
func (m *MemStore) FetchSaveStates(ctx context.Context, gameID string) ([]models.SaveState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.saveStatesFor(gameID), nil
}

// SaveState returns one save state by identifier.
func (m *MemStore) SaveState(ctx context.Context, identifier string) (models.SaveState, error) {
	if err := ctx.Err(); err != nil {
		return models.SaveState{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.data.findSaveState(identifier)
	if i < 0 {
		return models.SaveState{}, ErrNotFound
	}
	return m.data.SaveStates[i].Clone(), nil
}

// Apply commits cs atomically and publishes the resulting changes.
func (m *MemStore) Apply(ctx context.Context, cs ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	next, changes, err := m.data.apply(cs)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.data = next
	m.mu.Unlock()

	if len(changes) > 0 {
		m.bus.Publish(models.ChangeNotification{Changes: changes})
	}
	return nil
}

// Changes returns the change-notification bus.
func (m *MemStore) Changes() *events.Bus[models.ChangeNotification] { return m.bus }

// Kind returns "memory".
func (m *MemStore) Kind() string { return "memory" }

// Path returns ":memory:" to indicate this is an in-memory store.
func (m *MemStore) Path() string { return ":memory:" }

// Close makes further commits fail with ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MemStore implements Store
var _ Store = (*MemStore)(nil)
