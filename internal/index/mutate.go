package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store"
)

// Create allocates a save state for the host's active game on the writer
// goroutine and returns at once. The host captures the live snapshot into the
// record, then the record is committed. The channel yields the committed
// record and closes; after a capture or commit failure (logged, never
// returned) it closes without a value.
func (x *Index) Create(ctx context.Context) <-chan models.SaveState {
	out := make(chan models.SaveState, 1)
	err := x.writer.Perform(ctx, func(tx *store.Txn) {
		defer close(out)
		if rec, ok := x.create(tx); ok {
			out <- rec
		}
	})
	if err != nil {
		x.fail("index: create not queued", fmt.Errorf("%w: %w", ErrCommitFailure, err))
		close(out)
	}
	return out
}

func (x *Index) create(tx *store.Txn) (models.SaveState, bool) {
	ctx := tx.Context()

	active, err := x.host.ActiveGame(ctx)
	if err != nil {
		x.fail("index: no active game", fmt.Errorf("%w: %w", ErrCaptureFailure, err))
		return models.SaveState{}, false
	}

	// The active game is re-resolved in the writer's transaction; a game the
	// store has never seen is registered with the record.
	game, err := tx.Game(active.ID)
	if errors.Is(err, store.ErrNotFound) {
		game = tx.UpsertGame(active.ID, active.Name)
	} else if err != nil {
		x.fail("index: commit failed", fmt.Errorf("%w: %w", ErrCommitFailure, err), "game", active.ID)
		return models.SaveState{}, false
	}

	identifier := x.newID()
	date := x.now()

	rec := tx.InsertSaveState(identifier, game)
	rec.Filename = identifier
	rec.CreationDate = date
	rec.ModifiedDate = date

	if err := x.host.CaptureState(ctx, rec); err != nil {
		x.fail("index: capture failed", fmt.Errorf("%w: %w", ErrCaptureFailure, err), "identifier", identifier)
		return models.SaveState{}, false
	}
	rec.Identifier = identifier
	rec.GameID = game.ID
	rec.CreationDate = date
	if rec.ModifiedDate.Before(date) {
		rec.ModifiedDate = date
	}

	if err := tx.SaveWithErrorLogging(); err != nil {
		// The record stays orphaned in this transaction only.
		x.report(fmt.Errorf("%w: %s: %w", ErrCommitFailure, identifier, err))
		return models.SaveState{}, false
	}
	slog.Info("index: save state created", "identifier", identifier, "game", game.ID)
	return rec.Clone(), true
}

// Overwrite recaptures the payload of an existing save state on the writer
// goroutine and bumps its modified date. Same delivery and failure semantics
// as Create.
func (x *Index) Overwrite(ctx context.Context, identifier string) <-chan models.SaveState {
	out := make(chan models.SaveState, 1)
	err := x.writer.Perform(ctx, func(tx *store.Txn) {
		defer close(out)
		if rec, ok := x.overwrite(tx, identifier); ok {
			out <- rec
		}
	})
	if err != nil {
		x.fail("index: overwrite not queued", fmt.Errorf("%w: %w", ErrCommitFailure, err))
		close(out)
	}
	return out
}

func (x *Index) overwrite(tx *store.Txn, identifier string) (models.SaveState, bool) {
	ctx := tx.Context()
	rec, err := tx.SaveState(identifier)
	if err != nil {
		x.fail("index: overwrite failed", fmt.Errorf("%w: %w", ErrCommitFailure, err), "identifier", identifier)
		return models.SaveState{}, false
	}
	before := rec.Clone()

	if err := x.host.CaptureState(ctx, rec); err != nil {
		x.fail("index: capture failed", fmt.Errorf("%w: %w", ErrCaptureFailure, err), "identifier", identifier)
		return models.SaveState{}, false
	}
	rec.Identifier = before.Identifier
	rec.GameID = before.GameID
	rec.CreationDate = before.CreationDate
	rec.ModifiedDate = x.now()
	if rec.ModifiedDate.Before(rec.CreationDate) {
		rec.ModifiedDate = rec.CreationDate
	}

	if err := tx.SaveWithErrorLogging(); err != nil {
		x.report(fmt.Errorf("%w: %s: %w", ErrCommitFailure, identifier, err))
		return models.SaveState{}, false
	}
	slog.Info("index: save state overwritten", "identifier", identifier)
	return rec.Clone(), true
}

// Select hands rec to the host for loading. The store is not touched.
func (x *Index) Select(ctx context.Context, rec models.SaveState) error {
	return x.host.LoadState(ctx, rec)
}

// SelectByID looks up a committed save state and selects it.
func (x *Index) SelectByID(ctx context.Context, identifier string) (models.SaveState, error) {
	rec, err := x.store.SaveState(ctx, identifier)
	if err != nil {
		return models.SaveState{}, err
	}
	if err := x.Select(ctx, rec); err != nil {
		return models.SaveState{}, err
	}
	return rec, nil
}

// Rename sets or clears (nil or blank) the label of a save state.
func (x *Index) Rename(ctx context.Context, identifier string, name *string) (models.SaveState, error) {
	var renamed models.SaveState
	err := x.writer.PerformAndWait(ctx, func(tx *store.Txn) error {
		rec, err := tx.SaveState(identifier)
		if err != nil {
			return err
		}
		if name == nil || strings.TrimSpace(*name) == "" {
			rec.Name = nil
		} else {
			v := strings.TrimSpace(*name)
			rec.Name = &v
		}
		if err := tx.Save(); err != nil {
			return err
		}
		renamed = rec.Clone()
		return nil
	})
	if err != nil {
		return models.SaveState{}, err
	}
	return renamed, nil
}

// Delete removes a save state and, when the host supports it, its payload.
func (x *Index) Delete(ctx context.Context, identifier string) error {
	var removed models.SaveState
	err := x.writer.PerformAndWait(ctx, func(tx *store.Txn) error {
		rec, err := tx.SaveState(identifier)
		if err != nil {
			return err
		}
		removed = rec.Clone()
		if err := tx.Delete(identifier); err != nil {
			return err
		}
		return tx.Save()
	})
	if err != nil {
		return err
	}
	if remover, ok := x.host.(PayloadRemover); ok {
		if err := remover.RemoveState(ctx, removed); err != nil {
			slog.Warn("index: failed to remove payload", "identifier", identifier, "filename", removed.Filename, "err", err)
		}
	}
	slog.Info("index: save state deleted", "identifier", identifier)
	return nil
}

// RegisterGame adds a game or renames an existing one.
func (x *Index) RegisterGame(ctx context.Context, game models.Game) error {
	if strings.TrimSpace(game.ID) == "" {
		return models.ErrBadRequest("game id is required")
	}
	return x.writer.PerformAndWait(ctx, func(tx *store.Txn) error {
		tx.UpsertGame(game.ID, game.Name)
		return tx.Save()
	})
}
