package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deltaemu/savestated/internal/models"
)

var errJobPanicked = errors.New("store: writer job panicked")

// Writer is the single execution context allowed to mutate a Store. Work is
// queued in FIFO order and run one job at a time on a dedicated goroutine.
// Queued jobs always run to completion, even if the caller's context is
// cancelled; only values are carried in, never live handles from another
// transaction.
type Writer struct {
	store Store

	mu     sync.Mutex
	queue  []job
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

type job struct {
	ctx context.Context
	fn  func(*Txn)
}

// NewWriter starts a writer goroutine for st.
func NewWriter(st Store) *Writer {
	w := &Writer{
		store: st,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Store returns the store the writer commits to.
func (w *Writer) Store() Store { return w.store }

// Perform enqueues fn and returns immediately. fn receives a fresh
// transaction; anything it does not Save is discarded when it returns.
func (w *Writer) Perform(ctx context.Context, fn func(*Txn)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.queue = append(w.queue, job{ctx: context.WithoutCancel(ctx), fn: fn})
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// PerformAndWait enqueues fn and waits for it to finish, returning its error.
// If ctx ends first, ctx.Err() is returned but fn still runs.
func (w *Writer) PerformAndWait(ctx context.Context, fn func(*Txn) error) error {
	result := make(chan error, 1)
	if err := w.Perform(ctx, func(tx *Txn) {
		err := errJobPanicked
		defer func() { result <- err }()
		err = fn(tx)
	}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs everything already queued, and waits for
// the writer goroutine to exit.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.done
	return nil
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		next := w.queue[0]
		w.queue[0] = job{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.run(next)
	}
}

func (w *Writer) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("store: writer job panicked", "panic", r)
		}
	}()
	j.fn(newTxn(j.ctx, w.store))
}

// Txn is a writer-context scratch view of the store. Games and save states
// are re-resolved into it by identifier; the returned pointers belong to the
// transaction and must not escape the job that received it.
type Txn struct {
	ctx   context.Context
	store Store

	games    map[string]*models.Game
	upserts  []string
	states   map[string]*txnState
	inserted []string
	deleted  map[string]bool
}

type txnState struct {
	current  *models.SaveState
	original models.SaveState
	inserted bool
}

func newTxn(ctx context.Context, st Store) *Txn {
	return &Txn{
		ctx:     ctx,
		store:   st,
		games:   make(map[string]*models.Game),
		states:  make(map[string]*txnState),
		deleted: make(map[string]bool),
	}
}

// Context returns the job's context. It is never cancelled by the caller.
func (t *Txn) Context() context.Context { return t.ctx }

// Game re-resolves a game by ID in this transaction.
func (t *Txn) Game(id string) (*models.Game, error) {
	if g, ok := t.games[id]; ok {
		return g, nil
	}
	g, err := t.store.Game(t.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve game %q: %w", id, err)
	}
	t.games[id] = &g
	return &g, nil
}

// UpsertGame registers or renames a game; it is written on Save.
func (t *Txn) UpsertGame(id, name string) *models.Game {
	g, ok := t.games[id]
	if !ok {
		g = &models.Game{ID: id}
		t.games[id] = g
	}
	g.Name = name
	for _, u := range t.upserts {
		if u == id {
			return g
		}
	}
	t.upserts = append(t.upserts, id)
	return g
}

// SaveState re-resolves a save state by identifier in this transaction.
// Changes made through the returned pointer are written on Save.
func (t *Txn) SaveState(identifier string) (*models.SaveState, error) {
	if t.deleted[identifier] {
		return nil, fmt.Errorf("resolve save state %q: %w", identifier, ErrNotFound)
	}
	if s, ok := t.states[identifier]; ok {
		return s.current, nil
	}
	rec, err := t.store.SaveState(t.ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("resolve save state %q: %w", identifier, err)
	}
	cur := rec.Clone()
	t.states[identifier] = &txnState{current: &cur, original: rec}
	return &cur, nil
}

// InsertSaveState creates an empty record owned by this transaction and bound
// to game. The caller fills in filename and dates before Save.
func (t *Txn) InsertSaveState(identifier string, game *models.Game) *models.SaveState {
	rec := &models.SaveState{Identifier: identifier, GameID: game.ID}
	t.states[identifier] = &txnState{current: rec, inserted: true}
	t.inserted = append(t.inserted, identifier)
	delete(t.deleted, identifier)
	return rec
}

// Delete marks a save state for removal on Save.
func (t *Txn) Delete(identifier string) error {
	if _, err := t.SaveState(identifier); err != nil {
		return err
	}
	s := t.states[identifier]
	delete(t.states, identifier)
	if s.inserted {
		t.inserted = removeString(t.inserted, identifier)
		return nil
	}
	t.deleted[identifier] = true
	return nil
}

func (t *Txn) changeSet() ChangeSet {
	var cs ChangeSet
	for _, id := range t.upserts {
		cs.Games = append(cs.Games, *t.games[id])
	}
	for _, id := range t.inserted {
		if s, ok := t.states[id]; ok {
			cs.Inserted = append(cs.Inserted, s.current.Clone())
		}
	}
	for _, s := range t.states {
		if s.inserted || sameSaveState(*s.current, s.original) {
			continue
		}
		cs.Updated = append(cs.Updated, s.current.Clone())
	}
	for id := range t.deleted {
		cs.Deleted = append(cs.Deleted, id)
	}
	return cs
}

// Save commits every pending change atomically. After a failure the pending
// changes stay in the transaction and nothing reaches the store.
func (t *Txn) Save() error {
	cs := t.changeSet()
	if cs.Empty() {
		return nil
	}
	if err := t.store.Apply(t.ctx, cs); err != nil {
		return err
	}
	t.upserts = nil
	t.inserted = nil
	t.deleted = make(map[string]bool)
	for _, s := range t.states {
		s.inserted = false
		s.original = s.current.Clone()
	}
	return nil
}

// SaveWithErrorLogging commits and logs a failure instead of leaving it to
// the caller. The error is still returned for callers that care.
func (t *Txn) SaveWithErrorLogging() error {
	err := t.Save()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("store: commit failed", "err", err)
	}
	return err
}

func sameSaveState(a, b models.SaveState) bool {
	if a.Identifier != b.Identifier || a.Filename != b.Filename || a.GameID != b.GameID {
		return false
	}
	if !a.CreationDate.Equal(b.CreationDate) || !a.ModifiedDate.Equal(b.ModifiedDate) {
		return false
	}
	switch {
	case a.Name == nil && b.Name == nil:
		return true
	case a.Name == nil || b.Name == nil:
		return false
	default:
		return *a.Name == *b.Name
	}
}

func removeString(in []string, v string) []string {
	out := in[:0]
	for _, s := range in {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
