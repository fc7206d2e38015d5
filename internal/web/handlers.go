package web

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	vigil "github.com/ardelia/vigil"
	"github.com/ardelia/vigil/internal/auth"
	"github.com/ardelia/vigil/internal/config"
	"github.com/ardelia/vigil/memory"
	"github.com/yuin/goldmark"
)

// --- Auth ---

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"configured":  s.auth.IsConfigured(),
		"has_api_key": s.config.HasAnyAPIKey(),
	})
}

func (s *Server) handleAuthSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.Setup(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := s.auth.Verify(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := s.auth.Verify(req.Password)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrNotConfigured) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleAuthPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.ChangePassword(req.OldPassword, req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}

// --- Agent lifecycle ---

func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.buildRunConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scheduler.Start(cfg); err != nil {
		status := http.StatusInternalServerError
		var already *vigil.ErrAlreadyRunning
		if errors.As(err, &already) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleAgentRestart(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.buildRunConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scheduler.Restart(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	status := s.scheduler.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":              status.State,
		"is_running":         status.State == vigil.StateRunning || status.State == vigil.StateWaiting,
		"current_round":      status.CurrentRound,
		"total_rounds":       status.TotalRounds,
		"last_round_tools":   status.LastRoundTools,
		"last_round_summary": status.LastRoundSummary,
		"start_time":         status.StartTime,
		"ws_clients":         s.bus.SubscriberCount(),
	})
}

func (s *Server) handleAgentInspire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scheduler.Inspire(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// --- Memory views ---

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	entries := s.memory.AllTimeline()
	if entries == nil {
		entries = []vigil.TimelineEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTimelineDelete(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.Atoi(r.PathValue("round"))
	if err != nil || round <= 0 {
		writeError(w, http.StatusBadRequest, "invalid round number")
		return
	}
	timeline, logs := s.memory.DeleteRound(round)
	if !timeline && !logs {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"timeline": timeline, "logs": logs})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	posts := s.memory.AllFeed()
	if posts == nil {
		posts = []vigil.FeedPost{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write([]byte(s.memory.SnapshotYAML()))
}

func (s *Server) handleSnapshotHTML(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.memory.LoadSnapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(memory.RenderMarkdown(snapshot)), &buf); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// --- Configuration ---

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.config.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg.Community.Key = config.MaskKey(cfg.Community.Key)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	current, err := s.config.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	updated := current
	if err := decodeBody(r, &updated); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.config.Save(updated); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleKeysGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.config.APIKeys()})
}

func (s *Server) handleKeysPut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keys map[string]string `json:"keys"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for name, value := range req.Keys {
		if value == "" {
			continue
		}
		if err := s.config.SetAPIKey(name, value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.config.APIKeys()})
}

func (s *Server) handleKeysDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.config.DeleteAPIKey(r.PathValue("name")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.personas.List())
}
