package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseLimit reads a "limit" query parameter, clamped to [1, max]
func parseLimit(req *http.Request, def, max int) int {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleLeaderboard(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)
	players, err := r.store.Leaderboard(req.Context(), limit)
	if err != nil {
		log.Printf("Error fetching leaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}

func (r *Router) handleMyGames(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	limit := parseLimit(req, 20, 100)
	games, err := r.store.GamesForUser(req.Context(), claims.UserID, limit)
	if err != nil {
		log.Printf("Error fetching games for %s: %v", claims.Username, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch games")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}
