package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/deltaemu/savestated/internal/models"
	"github.com/deltaemu/savestated/internal/store"
)

func (h *Handlers) getGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.index.Games(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"games": games})
}

// putGame registers a game or renames an existing one.
func (h *Handlers) putGame(w http.ResponseWriter, r *http.Request) {
	gid, err := pathParam(r, "gid")
	if err != nil {
		writeError(w, err)
		return
	}
	var upd models.GameUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	game := models.Game{ID: gid, Name: strings.TrimSpace(upd.Name)}
	if err := h.index.RegisterGame(r.Context(), game); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (h *Handlers) getActiveGame(w http.ResponseWriter, r *http.Request) {
	game, err := h.session.ActiveGame(r.Context())
	if err != nil {
		writeError(w, models.ErrNotFound(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// setActiveGame switches the running game, registering it first when the
// store does not know it yet.
func (h *Handlers) setActiveGame(w http.ResponseWriter, r *http.Request) {
	var req models.ActiveGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, models.ErrBadRequest("game id is required"))
		return
	}

	game, err := h.index.Game(r.Context(), req.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		game = models.Game{ID: req.ID, Name: strings.TrimSpace(req.Name)}
		if game.Name == "" {
			game.Name = req.ID
		}
		if err := h.index.RegisterGame(r.Context(), game); err != nil {
			writeError(w, err)
			return
		}
	case err != nil:
		writeError(w, err)
		return
	}

	h.session.SetActiveGame(game)
	writeJSON(w, http.StatusOK, game)
}

func (h *Handlers) clearActiveGame(w http.ResponseWriter, r *http.Request) {
	h.session.ClearActiveGame()
	w.WriteHeader(http.StatusNoContent)
}
