// Package api implements the HTTP REST API for savestated.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/deltaemu/savestated/internal/display"
	"github.com/deltaemu/savestated/internal/host"
	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	index   Index
	session Session
	events  EventBus
	backups Backups
	version string
}

// Index is the save-state index the handlers operate on.
type Index interface {
	List(ctx context.Context, gameID string) []models.SaveState
	SaveState(ctx context.Context, identifier string) (models.SaveState, error)
	Games(ctx context.Context) ([]models.Game, error)
	Game(ctx context.Context, id string) (models.Game, error)
	RegisterGame(ctx context.Context, game models.Game) error
	Create(ctx context.Context) <-chan models.SaveState
	Overwrite(ctx context.Context, identifier string) <-chan models.SaveState
	SelectByID(ctx context.Context, identifier string) (models.SaveState, error)
	Rename(ctx context.Context, identifier string, name *string) (models.SaveState, error)
	Delete(ctx context.Context, identifier string) error
	StoreKind() string
}

// Session tracks which game the emulator is running.
type Session interface {
	ActiveGame(ctx context.Context) (models.Game, error)
	SetActiveGame(g models.Game)
	ClearActiveGame()
}

// EventBus is the interface for subscribing to list change events.
type EventBus interface {
	Subscribe(id string) <-chan models.ListChanged
	Unsubscribe(id string)
}

// Backups triggers archives of the data directory.
type Backups interface {
	RunBackupNow(ctx context.Context) (string, error)
	BackupDir() string
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON AppError.
func writeError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(appErr)
}

// toAppError maps domain errors to HTTP errors.
func toAppError(err error) *models.AppError {
	if appErr, ok := models.AsAppError(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownGame):
		return models.ErrNotFound(err.Error())
	case errors.Is(err, store.ErrConflict):
		return models.ErrConflict(err.Error())
	case errors.Is(err, store.ErrClosed):
		return models.ErrUnavailable(err.Error())
	case errors.Is(err, host.ErrNoActiveGame), errors.Is(err, host.ErrGameMismatch):
		return models.ErrConflict(err.Error())
	case errors.Is(err, host.ErrPayloadMissing):
		return &models.AppError{Code: "PAYLOAD_MISSING", Message: err.Error(), Status: http.StatusGone}
	case errors.Is(err, host.ErrBadFilename):
		return models.ErrBadRequest(err.Error())
	}
	return models.ErrInternal(err.Error())
}

// pathParam reads a non-empty path parameter by name.
func pathParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" {
		return "", models.ErrBadRequest("missing " + name + " parameter")
	}
	return v, nil
}

// viewer returns the locale and time zone used to label records for r. The
// zone comes from the tz query parameter and defaults to the server's.
func viewer(r *http.Request) (language.Tag, *time.Location) {
	tag := display.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	loc := time.Local
	if tz := r.URL.Query().Get("tz"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return tag, loc
}

func listResponse(gameID string, recs []models.SaveState, tag language.Tag, loc *time.Location) models.SaveStateList {
	return models.SaveStateList{
		GameID:     gameID,
		SaveStates: display.Views(recs, tag, loc),
		Empty:      len(recs) == 0,
	}
}

func viewOf(rec models.SaveState, r *http.Request) models.SaveStateView {
	tag, loc := viewer(r)
	return models.SaveStateView{SaveState: rec, Label: display.Label(rec, tag, loc)}
}
