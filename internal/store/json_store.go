package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/deltaemu/savestated/internal/events"
	"github.com/deltaemu/savestated/internal/models"
)

const (
	jsonFileName   = "savestates.json"
	reloadInterval = 250 * time.Millisecond
)

// JSONStore keeps every game and save state in one JSON file. Each commit
// rewrites the file atomically before it becomes visible to readers.
type JSONStore struct {
	mu       sync.RWMutex
	path     string
	data     dataset
	lastData []byte
	closed   bool
	bus      *events.Bus[models.ChangeNotification]

	watcher *fsnotify.Watcher
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

// OpenJSONStore loads (or creates on first commit) the store file in dir.
// A file that cannot be parsed is moved aside and the store starts empty.
func OpenJSONStore(dir string) (*JSONStore, error) {
	s := &JSONStore{
		path:    filepath.Join(dir, jsonFileName),
		bus:     events.NewBus[models.ChangeNotification](),
		limiter: rate.NewLimiter(rate.Every(reloadInterval), 1),
	}

	data, raw, err := s.read()
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			return nil, err
		}
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		slog.Warn("store: corrupt JSON store, starting empty", "path", s.path, "moved_to", aside, "err", err)
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			return nil, fmt.Errorf("move corrupt store aside: %w", renameErr)
		}
		data, raw = dataset{}, nil
	}
	s.data = data
	s.lastData = raw
	return s, nil
}

// read parses the file. A missing file is an empty dataset.
func (s *JSONStore) read() (dataset, []byte, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return dataset{}, nil, nil
		}
		return dataset{}, nil, err
	}
	var d dataset
	if err := json.Unmarshal(raw, &d); err != nil {
		return dataset{}, nil, err
	}
	return d, raw, nil
}

// Path returns the file path used by this store.
func (s *JSONStore) Path() string { return s.path }

// Kind returns "json".
func (s *JSONStore) Kind() string { return "json" }

// Changes returns the change-notification bus.
func (s *JSONStore) Changes() *events.Bus[models.ChangeNotification] { return s.bus }

// Games returns all registered games.
func (s *JSONStore) Games(ctx context.Context) ([]models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.games(), nil
}

// Game returns one game by ID.
func (s *JSONStore) Game(ctx context.Context, id string) (models.Game, error) {
	if err := ctx.Err(); err != nil {
		return models.Game{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.data.findGame(id)
	if i < 0 {
		return models.Game{}, ErrNotFound
	}
	return s.data.Games[i], nil
}

// FetchSaveStates returns the ordered save states of a game.
func (s *JSONStore) FetchSaveStates(ctx context.Context, gameID string) ([]models.SaveState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.saveStatesFor(gameID), nil
}

// SaveState returns one save state by identifier.
func (s *JSONStore) SaveState(ctx context.Context, identifier string) (models.SaveState, error) {
	if err := ctx.Err(); err != nil {
		return models.SaveState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.data.findSaveState(identifier)
	if i < 0 {
		return models.SaveState{}, ErrNotFound
	}
	return s.data.SaveStates[i].Clone(), nil
}

// Apply writes the next dataset to disk and only then exposes it.
func (s *JSONStore) Apply(ctx context.Context, cs ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	next, changes, err := s.data.apply(cs)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	raw, err := s.writeAtomic(next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.data = next
	s.lastData = raw
	s.mu.Unlock()

	if len(changes) > 0 {
		s.bus.Publish(models.ChangeNotification{Changes: changes})
	}
	return nil
}

func (s *JSONStore) writeAtomic(d dataset) ([]byte, error) {
	if d.Games == nil {
		d.Games = []models.Game{}
	}
	if d.SaveStates == nil {
		d.SaveStates = []models.SaveState{}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, err
	}

	// Write to temp file, sync, then rename (atomic on Linux)
	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return nil, err
	}
	return data, nil
}

// Watch starts reloading the file when another process rewrites it.
// Reloads are throttled and announced as a Reload notification.
func (s *JSONStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.watcher = watcher
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.watchLoop(ctx, watcher, s.done)
	return nil
}

func (s *JSONStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.Reload(); err != nil {
				slog.Warn("store: failed to reload JSON store", "path", s.path, "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("store: watcher error", "err", err)
		}
	}
}

// Reload re-reads the file. Content identical to the last commit is ignored;
// anything else replaces the in-memory data and publishes a Reload
// notification. A file that fails to parse leaves the current data in place.
func (s *JSONStore) Reload() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	d, raw, err := s.read()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if bytes.Equal(raw, s.lastData) {
		s.mu.Unlock()
		return nil
	}
	s.data = d
	s.lastData = raw
	s.mu.Unlock()

	slog.Debug("store: reloaded JSON store", "path", s.path, "savestates", len(d.SaveStates))
	s.bus.Publish(models.ChangeNotification{Reload: true})
	return nil
}

// Close stops the watcher. Further commits fail with ErrClosed.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	s.closed = true
	watcher, cancel, done := s.watcher, s.cancel, s.done
	s.watcher = nil
	s.mu.Unlock()

	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	<-done
	return err
}

// Ensure JSONStore implements Store
var _ Store = (*JSONStore)(nil)
