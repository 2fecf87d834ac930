package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deltaemu/savestated/internal/models"
)

// onStoreChange runs on whichever goroutine committed. It only records what
// changed; the regeneration happens in Run.
func (x *Index) onStoreChange(n models.ChangeNotification) {
	x.mu.Lock()
	if n.Reload {
		x.epoch++
	}
	for _, id := range n.GameIDs() {
		x.gens[id]++
	}
	x.mu.Unlock()

	x.pendingMu.Lock()
	if n.Reload {
		x.reloadAll = true
	}
	for _, id := range n.GameIDs() {
		x.dirty[id] = true
	}
	x.pendingMu.Unlock()

	select {
	case x.kick <- struct{}{}:
	default:
	}
}

// Run regenerates views as the store reports changes and publishes a
// ListChanged event per regenerated game. Blocks until ctx is cancelled.
func (x *Index) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-x.kick:
			x.resync(ctx)
		}
	}
}

// Sync processes pending changes immediately, on the caller's goroutine.
func (x *Index) Sync(ctx context.Context) {
	x.resync(ctx)
}

func (x *Index) takePending() (map[string]bool, bool) {
	x.pendingMu.Lock()
	defer x.pendingMu.Unlock()
	dirty, reloadAll := x.dirty, x.reloadAll
	x.dirty = make(map[string]bool)
	x.reloadAll = false
	return dirty, reloadAll
}

func (x *Index) resync(ctx context.Context) {
	dirty, reloadAll := x.takePending()
	if reloadAll {
		x.mu.RLock()
		for id := range x.views {
			dirty[id] = true
		}
		x.mu.RUnlock()
		games, err := x.store.Games(ctx)
		if err != nil {
			x.fail("index: re-sync failed", fmt.Errorf("%w: %w", ErrFetchFailure, err))
		}
		for _, g := range games {
			dirty[g.ID] = true
		}
	}

	for gameID := range dirty {
		if ctx.Err() != nil {
			return
		}
		gen := x.generation(gameID)
		states, err := x.store.FetchSaveStates(ctx, gameID)
		if err != nil {
			x.fail("index: re-sync failed", fmt.Errorf("%w: %w", ErrFetchFailure, err), "game", gameID)
			continue
		}
		// A newer change is already pending for this game; the next pass
		// regenerates and publishes it.
		if !x.storeView(gameID, gen, states) {
			continue
		}

		slog.Debug("index: view regenerated", "game", gameID, "savestates", len(states))
		x.bus.Publish(models.ListChanged{
			GameID:     gameID,
			SaveStates: models.CloneSaveStates(states),
			Empty:      len(states) == 0,
		})
	}
}
