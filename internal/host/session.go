// Package host connects the save-state index to a running emulator core: it
// tracks the active game and reads and writes snapshot payload files.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deltaemu/savestated/internal/models"
)

const payloadExt = ".svs"

var (
	// ErrNoActiveGame is returned when no game is running.
	ErrNoActiveGame = errors.New("host: no active game")
	// ErrPayloadMissing is returned when a record's payload file is absent.
	ErrPayloadMissing = errors.New("host: payload missing")
	// ErrGameMismatch is returned when loading a state of another game.
	ErrGameMismatch = errors.New("host: save state belongs to another game")
	// ErrBadFilename is returned for filenames that would escape the payload dir.
	ErrBadFilename = errors.New("host: invalid payload filename")
)

// Core is the emulator whose execution state is captured and restored.
type Core interface {
	// Snapshot serialises the live execution state.
	Snapshot(ctx context.Context) ([]byte, error)
	// Restore replaces the live execution state.
	Restore(ctx context.Context, payload []byte) error
}

// Session is the host side of the index for one emulator core.
type Session struct {
	mu     sync.RWMutex
	dir    string
	core   Core
	active *models.Game
}

// NewSession stores payloads under dir.
func NewSession(dir string, core Core) *Session {
	return &Session{dir: dir, core: core}
}

// Dir returns the payload directory.
func (s *Session) Dir() string { return s.dir }

// SetActiveGame switches the running game.
func (s *Session) SetActiveGame(g models.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &g
	slog.Info("host: active game changed", "game", g.ID)
}

// ClearActiveGame marks that nothing is running.
func (s *Session) ClearActiveGame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

// ActiveGame returns the running game or ErrNoActiveGame.
func (s *Session) ActiveGame(context.Context) (models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return models.Game{}, ErrNoActiveGame
	}
	return *s.active, nil
}

// PayloadPath returns the file holding the payload stored under filename.
func (s *Session) PayloadPath(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) || filepath.Base(filename) != filename {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}
	return filepath.Join(s.dir, filename+payloadExt), nil
}

// CaptureState snapshots the core and writes the payload for rec.Filename.
func (s *Session) CaptureState(ctx context.Context, rec *models.SaveState) error {
	path, err := s.PayloadPath(rec.Filename)
	if err != nil {
		return err
	}
	payload, err := s.core.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := writeAtomic(path, payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	slog.Debug("host: payload captured", "filename", rec.Filename, "bytes", len(payload))
	return nil
}

// LoadState reads the payload of rec and restores the core from it.
func (s *Session) LoadState(ctx context.Context, rec models.SaveState) error {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active != nil && active.ID != rec.GameID {
		return fmt.Errorf("%w: %s is for %s, running %s", ErrGameMismatch, rec.Identifier, rec.GameID, active.ID)
	}

	path, err := s.PayloadPath(rec.Filename)
	if err != nil {
		return err
	}
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrPayloadMissing, rec.Filename)
	}
	if err != nil {
		return err
	}
	if err := s.core.Restore(ctx, payload); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	slog.Info("host: save state loaded", "identifier", rec.Identifier, "game", rec.GameID)
	return nil
}

// RemoveState deletes the payload of rec. A missing file is not an error.
func (s *Session) RemoveState(_ context.Context, rec models.SaveState) error {
	path, err := s.PayloadPath(rec.Filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
