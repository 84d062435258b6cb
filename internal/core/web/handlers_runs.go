package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/seckatie/kindlenotes/internal/core/db"
)

const defaultRunsLimit = 20

type runsResponse struct {
	Count int      `json:"count"`
	Runs  []db.Run `json:"runs"`
}

type runResponse struct {
	db.Run
	Outcomes []db.BookOutcome `json:"outcomes"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.opts.Ledger.ListRuns(limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runsResponse{Count: len(runs), Runs: runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.opts.Ledger.GetRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.Error("failed to get run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	outcomes, err := s.opts.Ledger.ListRunBooks(id)
	if err != nil {
		slog.Error("failed to list run books", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Outcomes: outcomes})
}
