package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/deltaemu/savestated/internal/models"
)

// getSaveStates lists the save states of the active game.
func (h *Handlers) getSaveStates(w http.ResponseWriter, r *http.Request) {
	game, err := h.session.ActiveGame(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	tag, loc := viewer(r)
	writeJSON(w, http.StatusOK, listResponse(game.ID, h.index.List(r.Context(), game.ID), tag, loc))
}

func (h *Handlers) getGameSaveStates(w http.ResponseWriter, r *http.Request) {
	gid, err := pathParam(r, "gid")
	if err != nil {
		writeError(w, err)
		return
	}
	tag, loc := viewer(r)
	writeJSON(w, http.StatusOK, listResponse(gid, h.index.List(r.Context(), gid), tag, loc))
}

// createSaveState captures a new save state of the active game. The capture
// runs in the background and the request returns 202 unless ?wait=true.
func (h *Handlers) createSaveState(w http.ResponseWriter, r *http.Request) {
	game, err := h.session.ActiveGame(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ch := h.index.Create(r.Context())
	if !wantWait(r) {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "game_id": game.ID})
		return
	}
	h.awaitRecord(w, r, ch, http.StatusCreated, "save state could not be created")
}

func (h *Handlers) getSaveState(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.index.SaveState(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec, r))
}

func (h *Handlers) renameSaveState(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var upd models.SaveStateUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	rec, err := h.index.Rename(r.Context(), id, upd.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec, r))
}

func (h *Handlers) deleteSaveState(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.index.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// overwriteSaveState recaptures the payload of an existing save state.
func (h *Handlers) overwriteSaveState(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.index.SaveState(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	ch := h.index.Overwrite(r.Context(), id)
	if !wantWait(r) {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "identifier": id})
		return
	}
	h.awaitRecord(w, r, ch, http.StatusOK, "save state could not be overwritten")
}

func (h *Handlers) loadSaveState(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.index.SelectByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec, r))
}

// awaitRecord blocks until the writer delivers the record or gives up. The
// failure itself has already been logged by the index.
func (h *Handlers) awaitRecord(w http.ResponseWriter, r *http.Request, ch <-chan models.SaveState, status int, failMsg string) {
	select {
	case rec, ok := <-ch:
		if !ok {
			writeError(w, models.ErrInternal(failMsg))
			return
		}
		writeJSON(w, status, viewOf(rec, r))
	case <-r.Context().Done():
	}
}

func wantWait(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return v
}
