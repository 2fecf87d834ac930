package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// sseEvents streams labelled save state lists as Server-Sent Events. The
// client first receives the list of the watched game (the game query
// parameter, or the active game), then one event per regenerated list.
// Without a game parameter events for every game are streamed.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id := uuid.New().String()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	tag, loc := viewer(r)
	filter := r.URL.Query().Get("game")

	initial := filter
	if initial == "" {
		if game, err := h.session.ActiveGame(r.Context()); err == nil {
			initial = game.ID
		}
	}
	if initial != "" {
		sendSSE(w, flusher, listResponse(initial, h.index.List(r.Context(), initial), tag, loc))
	} else {
		// Commit the headers so clients see the stream open.
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if filter != "" && ev.GameID != filter {
				continue
			}
			sendSSE(w, flusher, listResponse(ev.GameID, ev.SaveStates, tag, loc))
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
