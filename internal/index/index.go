// Package index implements the save-state index: the ordered, per-game view of
// committed save states, kept in sync with the store by change notifications,
// and the create/overwrite/load flows that go through the host.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deltaemu/savestated/internal/events"
	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store"
)

var (
	// ErrFetchFailure marks a failed read of the store. The previous view is kept.
	ErrFetchFailure = errors.New("index: fetch failed")
	// ErrCommitFailure marks a failed writer-context commit.
	ErrCommitFailure = errors.New("index: commit failed")
	// ErrCaptureFailure marks a host capture that failed; nothing is committed.
	ErrCaptureFailure = errors.New("index: capture failed")
)

// Index is the save-state index for every game known to the store. Reads run
// on the caller's goroutine; every mutation is handed to the store's Writer.
type Index struct {
	store  store.Store
	writer *store.Writer
	host   Host
	bus    *events.Bus[models.ListChanged]
	subID  string

	now       func() time.Time
	newID     func() string
	onFailure func(error)

	mu    sync.RWMutex
	views map[string][]models.SaveState
	gens  map[string]uint64
	epoch uint64

	pendingMu sync.Mutex
	dirty     map[string]bool
	reloadAll bool
	kick      chan struct{}
}

// Option configures an Index.
type Option func(*Index)

// WithClock replaces time.Now for creation and modification dates.
func WithClock(now func() time.Time) Option {
	return func(x *Index) { x.now = now }
}

// WithIDGenerator replaces the UUID generator used for new identifiers.
func WithIDGenerator(newID func() string) Option {
	return func(x *Index) { x.newID = newID }
}

// WithFailureHook is called, after logging, for every fetch, capture and
// commit failure that is not returned to a caller.
func WithFailureHook(fn func(error)) Option {
	return func(x *Index) { x.onFailure = fn }
}

// New creates an index over w's store and subscribes it to store changes.
// Call Run to process those changes.
func New(w *store.Writer, host Host, opts ...Option) *Index {
	x := &Index{
		store:  w.Store(),
		writer: w,
		host:   host,
		bus:    events.NewBus[models.ListChanged](),
		subID:  "index-" + uuid.NewString(),
		now:    time.Now,
		newID:  uuid.NewString,
		views:  make(map[string][]models.SaveState),
		gens:   make(map[string]uint64),
		dirty:  make(map[string]bool),
		kick:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.store.Changes().SubscribeFunc(x.subID, x.onStoreChange)
	return x
}

// Close detaches the index from the store's change stream.
func (x *Index) Close() {
	x.store.Changes().Unsubscribe(x.subID)
}

// Subscribe returns a channel of ListChanged events.
func (x *Index) Subscribe(id string) <-chan models.ListChanged {
	return x.bus.Subscribe(id)
}

// Unsubscribe removes a ListChanged subscription.
func (x *Index) Unsubscribe(id string) {
	x.bus.Unsubscribe(id)
}

// Host returns the host the index delegates to.
func (x *Index) Host() Host { return x.host }

// StoreKind names the backing store.
func (x *Index) StoreKind() string { return x.store.Kind() }

func (x *Index) fail(msg string, err error, attrs ...any) {
	slog.Error(msg, append(attrs, "err", err)...)
	x.report(err)
}

// report passes an already logged failure to the failure hook.
func (x *Index) report(err error) {
	if x.onFailure != nil {
		x.onFailure(err)
	}
}

// List returns the save states of gameID ordered by creation date. It reads
// the store and refreshes the cached view; if the read fails the previous
// view is returned unchanged. Never nil.
func (x *Index) List(ctx context.Context, gameID string) []models.SaveState {
	gen := x.generation(gameID)
	states, err := x.store.FetchSaveStates(ctx, gameID)
	if err != nil {
		x.fail("index: fetch failed", fmt.Errorf("%w: %w", ErrFetchFailure, err), "game", gameID)
		return x.cached(gameID)
	}
	x.storeView(gameID, gen, states)
	return models.CloneSaveStates(states)
}

// generation changes whenever the store reports a change touching gameID.
func (x *Index) generation(gameID string) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.epoch + x.gens[gameID]
}

// storeView caches states unless a change to gameID was reported after gen
// was read, in which case states may be older than the cached view.
func (x *Index) storeView(gameID string, gen uint64, states []models.SaveState) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.epoch+x.gens[gameID] != gen {
		return false
	}
	x.views[gameID] = states
	return true
}

// IsEmpty reports whether gameID has no save states.
func (x *Index) IsEmpty(ctx context.Context, gameID string) bool {
	return len(x.List(ctx, gameID)) == 0
}

func (x *Index) cached(gameID string) []models.SaveState {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return models.CloneSaveStates(x.views[gameID])
}

// SaveState returns one committed save state.
func (x *Index) SaveState(ctx context.Context, identifier string) (models.SaveState, error) {
	return x.store.SaveState(ctx, identifier)
}

// Games returns every registered game.
func (x *Index) Games(ctx context.Context) ([]models.Game, error) {
	return x.store.Games(ctx)
}

// Game returns one registered game.
func (x *Index) Game(ctx context.Context, id string) (models.Game, error) {
	return x.store.Game(ctx, id)
}
