package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-dev/mnemo/internal/engine"
	"github.com/mnemo-dev/mnemo/internal/memerr"
)

func (s *Server) handleFormMemory(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	var req struct {
		Records []engine.FactRecord `json:"records"`
		Raw     string              `json:"raw"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, memerr.NewValidation("body", "invalid json"))
		return
	}

	if req.Raw != "" {
		ids, result, err := s.engine.FormMemoryRaw(r.Context(), group, req.Raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"ids":      ids,
			"parse":    result.Status,
			"warnings": result.Warnings,
		})
		return
	}

	ids, err := s.engine.FormMemory(r.Context(), group, req.Records)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, memerr.NewValidation("q", "parameter required"))
		return
	}

	opts := engine.RecallOptions{Seed: r.URL.Query().Get("seed")}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			opts.Limit = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	results, err := s.engine.Recall(ctx, group, query, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []engine.RecallResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	snap, err := s.engine.GraphSnapshot(group)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAdjustStrength(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	var req struct {
		EntityID string  `json:"entity_id"`
		Delta    float64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, memerr.NewValidation("body", "invalid json"))
		return
	}
	if req.EntityID == "" {
		s.writeError(w, memerr.NewValidation("entity_id", "must not be empty"))
		return
	}

	strength, err := s.engine.AdjustStrength(group, req.EntityID, req.Delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": req.EntityID,
		"strength":  strength,
	})
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	stats, err := s.engine.RunMaintenance(ctx, group)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
