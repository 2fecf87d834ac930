package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and returns the main HTTP router. authMw guards every
// /api route and may be nil; backups may be nil when archiving is disabled.
func NewRouter(idx Index, session Session, bus EventBus, backups Backups, authMw func(http.Handler) http.Handler, version string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{index: idx, session: session, events: bus, backups: backups, version: version}

	r.Route("/api", func(r chi.Router) {
		if authMw != nil {
			r.Use(authMw)
		}

		// System
		r.Get("/info", h.getInfo)
		r.Get("/backups", h.listBackups)
		r.Post("/backups", h.createBackup)

		// Games
		r.Get("/games", h.getGames)
		r.Put("/games/{gid}", h.putGame)
		r.Get("/games/{gid}/savestates", h.getGameSaveStates)
		r.Get("/game", h.getActiveGame)
		r.Put("/game", h.setActiveGame)
		r.Delete("/game", h.clearActiveGame)

		// Save states
		r.Get("/savestates", h.getSaveStates)
		r.Post("/savestates", h.createSaveState)
		r.Get("/savestates/{id}", h.getSaveState)
		r.Patch("/savestates/{id}", h.renameSaveState)
		r.Delete("/savestates/{id}", h.deleteSaveState)
		r.Post("/savestates/{id}/overwrite", h.overwriteSaveState)
		r.Post("/savestates/{id}/load", h.loadSaveState)

		// SSE
		r.Get("/subscribe", h.sseEvents)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept-Language, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
