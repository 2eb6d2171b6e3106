// Package server exposes the memory engine over an HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mnemo-dev/mnemo/internal/engine"
	"github.com/mnemo-dev/mnemo/internal/memerr"
)

// Server is the mnemo HTTP API server.
type Server struct {
	engine  *engine.Engine
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over an engine.
func New(eng *engine.Engine, log *zap.Logger, version string) *Server {
	s := &Server{
		engine:  eng,
		log:     log,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/groups", s.handleListGroups)

		r.Route("/groups/{group}", func(r chi.Router) {
			r.Post("/memories", s.handleFormMemory)
			r.Get("/recall", s.handleRecall)
			r.Get("/graph", s.handleGraph)
			r.Post("/strength", s.handleAdjustStrength)
			r.Post("/maintenance", s.handleMaintenance)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.engine.DB.Ping() == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.engine.Partition.Groups()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: validation 400,
// unknown ids 404, cross-group links and racing mutations 409.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case memerr.IsValidation(err):
		status = http.StatusBadRequest
	case memerr.IsNotFound(err):
		status = http.StatusNotFound
	case memerr.IsCrossGroup(err), memerr.IsConflict(err):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
