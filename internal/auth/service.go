// Package auth implements API-key authentication for the savestated HTTP API.
// Keys live in apikeys.json in the data directory and are reloaded when the
// file changes. Without any key configured the API is open.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// KeysFileName is the name of the API key file inside the data directory.
const KeysFileName = "apikeys.json"

// Client is one API consumer, keyed by a descriptive name in the keys file.
type Client struct {
	Key      string `json:"key"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Service handles authentication for the API.
type Service struct {
	mu      sync.RWMutex
	dir     string
	clients map[string]Client
	watcher *fsnotify.Watcher
}

// NewService creates an auth service watching dir for key file changes.
func NewService(dir string) (*Service, error) {
	s := &Service{
		dir:     dir,
		clients: make(map[string]Client),
	}

	if err := s.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		return s, nil
	}
	s.watcher = watcher

	keysPath := s.keysPath()
	if err := watcher.Add(filepath.Dir(keysPath)); err != nil {
		slog.Warn("auth: could not watch data dir", "err", err)
	}

	go s.watchLoop(keysPath)
	return s, nil
}

func (s *Service) keysPath() string {
	return filepath.Join(s.dir, KeysFileName)
}

// Reload re-reads the key file. A missing file clears all keys.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.keysPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.clients = make(map[string]Client)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var clients map[string]Client
	if err := json.Unmarshal(data, &clients); err != nil {
		return err
	}

	s.mu.Lock()
	s.clients = clients
	s.mu.Unlock()
	slog.Debug("auth: reloaded api keys", "count", len(clients))
	return nil
}

// IsOpenMode reports whether no client has a key, in which case every
// request is allowed.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Key != "" {
			return false
		}
	}
	return true
}

// Lookup returns the client owning key. Comparison is constant time.
func (s *Service) Lookup(key string) (string, Client, bool) {
	if key == "" {
		return "", Client{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, c := range s.clients {
		if c.Key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(c.Key)) == 1 {
			return name, c, true
		}
	}
	return "", Client{}, false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Service) watchLoop(keysPath string) {
	if s.watcher == nil {
		return
	}
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name == keysPath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove)) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload api keys", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
