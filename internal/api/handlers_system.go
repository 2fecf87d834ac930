package api

import (
	"net/http"

	"github.com/deltaemu/savestated/internal/maintenance"
	"github.com/deltaemu/savestated/internal/models"
)

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	info := models.Info{Version: h.version, Store: h.index.StoreKind()}
	if game, err := h.session.ActiveGame(r.Context()); err == nil {
		info.ActiveGame = &game
	}
	writeJSON(w, http.StatusOK, info)
}

// createBackup archives the data directory now and returns the file path.
func (h *Handlers) createBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, models.ErrUnavailable("backups are disabled"))
		return
	}
	file, err := h.backups.RunBackupNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"file": file})
}

// listBackups returns the available backup archives, oldest first.
func (h *Handlers) listBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		writeError(w, models.ErrUnavailable("backups are disabled"))
		return
	}
	backups, err := maintenance.ListBackups(h.backups.BackupDir())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backups": backups})
}
