package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/halfmove/gambit/internal/auth"
	"github.com/halfmove/gambit/internal/matcher"
	"github.com/halfmove/gambit/internal/session"
	"github.com/halfmove/gambit/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	store     *storage.Store
	auth      *auth.Service
	matcher   *matcher.Matcher
	registry  *session.Registry
	staticDir string
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, authService *auth.Service, m *matcher.Matcher, registry *session.Registry, staticDir string) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		store:     store,
		auth:      authService,
		matcher:   m,
		registry:  registry,
		staticDir: staticDir,
	}

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/register", r.handleRegister)
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /api/auth/logout", r.handleLogout)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// Matchmaking
	r.mux.HandleFunc("GET /api/matchmaking/stream", r.requireAuth(r.handleMatchmakingStream))
	r.mux.HandleFunc("GET /api/matchmaking/status", r.requireAuth(r.handleMatchmakingStatus))

	// Players and history
	r.mux.HandleFunc("GET /api/players/leaderboard", r.handleLeaderboard)
	r.mux.HandleFunc("GET /api/games/mine", r.requireAuth(r.handleMyGames))

	// Game WebSocket
	r.mux.HandleFunc("GET /game", r.handleGameSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	// Static files - only serve if staticDir is configured
	if staticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// handleStatic serves the SPA: real files when they exist, index.html for
// anything else
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	path := filepath.Join(r.staticDir, filepath.Clean("/"+req.URL.Path))
	if !strings.HasPrefix(path, filepath.Clean(r.staticDir)) {
		http.NotFound(w, req)
		return
	}

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		path = filepath.Join(r.staticDir, "index.html")
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, req)
			return
		}
	}
	http.ServeFile(w, req, path)
}
