// Package api exposes the HTTP interface for the link checker service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
	"github.com/linkmend/linkmend/internal/config"
	"github.com/linkmend/linkmend/internal/metrics"
)

// Sessions is the part of the orchestrator the HTTP surface needs.
type Sessions interface {
	Create(key check.RepoKey) (check.Session, error)
	Get(id string) (check.Session, error)
	Cancel(key check.RepoKey)
}

// Server wires HTTP handlers to the session orchestrator.
type Server struct {
	router   chi.Router
	sessions Sessions
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sessions Sessions, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		logger:   logger,
		cfg:      cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.ServerTimeout()))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey, logger))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/checks", func(r chi.Router) {
			r.Post("/", s.createCheck)
			r.Post("/cancel", s.cancelCheck)
			r.Get("/{session_id}", s.getCheck)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type checkRequest struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

func (r checkRequest) key() (check.RepoKey, error) {
	repoURL := strings.TrimSpace(r.RepoURL)
	if repoURL == "" {
		return check.RepoKey{}, errors.New("repo_url is required")
	}
	branch := strings.TrimSpace(r.Branch)
	if branch == "" {
		branch = "main"
	}
	return check.RepoKey{RepoURL: repoURL, Branch: branch}, nil
}

func (s *Server) createCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	key, err := req.key()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	session, err := s.sessions.Create(key)
	if err != nil {
		if errors.Is(err, check.ErrAlreadyInProgress) {
			writeError(w, http.StatusConflict, err.Error(), s.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": session.ID,
		"status":     string(session.Status),
	}, s.logger)
}

func (s *Server) getCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	session, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, session, s.logger)
}

// cancelCheck always answers 200: cancelling a repository with no active
// session is a no-op success.
func (s *Server) cancelCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	key, err := req.key()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	s.sessions.Cancel(key)
	writeJSON(w, http.StatusOK, map[string]string{
		"repo_url": key.RepoURL,
		"branch":   key.Branch,
		"status":   "cancelled",
	}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}
