// Package web serves the management console API: agent lifecycle
// control, timeline/feed/snapshot access, configuration and API-key
// management, and the live WebSocket event stream.
package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	vigil "github.com/ardelia/vigil"
	"github.com/ardelia/vigil/internal/auth"
	"github.com/ardelia/vigil/internal/config"
	"github.com/ardelia/vigil/memory"
	"github.com/ardelia/vigil/persona"
)

// Server wires the console routes over the engine's public surface.
type Server struct {
	scheduler *vigil.Scheduler
	bus       *vigil.Bus
	memory    *memory.Manager
	auth      *auth.Manager
	config    *config.Manager
	personas  *persona.Provider
	logger    *slog.Logger

	// BuildRunConfig assembles a fresh run configuration from the
	// current settings; injected by the entry point so the web layer
	// never constructs providers itself.
	buildRunConfig func() (vigil.RunConfig, error)
}

// New creates the console server.
func New(
	scheduler *vigil.Scheduler,
	bus *vigil.Bus,
	mem *memory.Manager,
	authMgr *auth.Manager,
	cfgMgr *config.Manager,
	personas *persona.Provider,
	buildRunConfig func() (vigil.RunConfig, error),
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		scheduler:      scheduler,
		bus:            bus,
		memory:         mem,
		auth:           authMgr,
		config:         cfgMgr,
		personas:       personas,
		buildRunConfig: buildRunConfig,
		logger:         logger,
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth status, setup and login are open; every other /api/ route
	// requires a token. /ws is registered without a token check.
	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/setup", s.handleAuthSetup)
	mux.HandleFunc("POST /api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("POST /api/auth/password", s.requireAuth(s.handleAuthPassword))

	mux.HandleFunc("POST /api/agent/start", s.requireAuth(s.handleAgentStart))
	mux.HandleFunc("POST /api/agent/stop", s.requireAuth(s.handleAgentStop))
	mux.HandleFunc("POST /api/agent/restart", s.requireAuth(s.handleAgentRestart))
	mux.HandleFunc("GET /api/agent/status", s.requireAuth(s.handleAgentStatus))
	mux.HandleFunc("POST /api/agent/inspire", s.requireAuth(s.handleAgentInspire))

	mux.HandleFunc("GET /api/timeline", s.requireAuth(s.handleTimeline))
	mux.HandleFunc("DELETE /api/timeline/{round}", s.requireAuth(s.handleTimelineDelete))
	mux.HandleFunc("GET /api/feed", s.requireAuth(s.handleFeed))
	mux.HandleFunc("GET /api/snapshot", s.requireAuth(s.handleSnapshot))
	mux.HandleFunc("GET /api/snapshot/html", s.requireAuth(s.handleSnapshotHTML))

	mux.HandleFunc("GET /api/config", s.requireAuth(s.handleConfigGet))
	mux.HandleFunc("PUT /api/config", s.requireAuth(s.handleConfigPut))
	mux.HandleFunc("GET /api/config/keys", s.requireAuth(s.handleKeysGet))
	mux.HandleFunc("PUT /api/config/keys", s.requireAuth(s.handleKeysPut))
	mux.HandleFunc("DELETE /api/config/keys/{name}", s.requireAuth(s.handleKeysDelete))

	mux.HandleFunc("GET /api/personas", s.requireAuth(s.handlePersonas))

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !s.auth.VerifyToken(token) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
