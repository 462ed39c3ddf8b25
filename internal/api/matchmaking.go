package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/halfmove/gambit/internal/domain"
	"github.com/halfmove/gambit/internal/rating"
)

// handleMatchmakingStream enqueues the caller and streams queue events over
// SSE. The stream ends when a terminal event is delivered; dropping the
// connection before that removes the caller from the queue.
func (r *Router) handleMatchmakingStream(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	elo := rating.DefaultRating
	if current, err := r.store.Rating(req.Context(), claims.UserID); err == nil {
		elo = current
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The sink runs under the matcher lock and must not block. An entry
	// produces at most one queued event plus one terminal event, so a
	// small buffer never drops anything.
	events := make(chan domain.MatchmakingEvent, 8)
	sink := func(ev domain.MatchmakingEvent) {
		select {
		case events <- ev:
		default:
		}
	}

	token := r.matcher.Enqueue(claims.UserID, claims.Username, elo, sink)
	defer r.matcher.Cancel(claims.UserID, token)

	for {
		select {
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("Error encoding matchmaking event: %v", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		case <-req.Context().Done():
			return
		}
	}
}

// handleMatchmakingStatus reports whether the caller is currently queued
func (r *Router) handleMatchmakingStatus(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	writeJSON(w, http.StatusOK, map[string]bool{
		"queued": r.matcher.IsQueued(claims.UserID),
	})
}
