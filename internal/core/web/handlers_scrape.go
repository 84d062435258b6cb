package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seckatie/kindlenotes/internal/core/export"
)

// ErrScrapeInProgress is reported when a scrape is triggered while another
// one is still running.
var ErrScrapeInProgress = errors.New("a scrape is already running")

type scrapeResponse struct {
	ASIN       *string `json:"asin"`
	Books      int     `json:"books"`
	Highlights int     `json:"highlights"`
	OutputPath string  `json:"output_path"`
	Resume     bool    `json:"resume"`
	Timestamp  string  `json:"timestamp"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ASIN = strings.TrimSpace(req.ASIN)

	if s.opts.Scrape == nil {
		writeError(w, http.StatusServiceUnavailable, "scraping is not configured")
		return
	}
	if !s.scraping.TryAcquire(1) {
		writeError(w, http.StatusConflict, ErrScrapeInProgress.Error())
		return
	}
	defer s.scraping.Release(1)

	slog.Info("scrape requested", "asin", req.ASIN, "headful", req.Headful, "fresh", req.Fresh)
	// The scrape outlives a dropped client so the in-flight book is saved.
	result, err := s.opts.Scrape(context.WithoutCancel(r.Context()), req)
	if err != nil {
		slog.Error("scrape failed", "error", err)
		if errors.Is(err, export.ErrStoreLocked) {
			writeError(w, http.StatusConflict, ErrScrapeInProgress.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "scrape failed")
		return
	}

	var asin *string
	if req.ASIN != "" {
		asin = &req.ASIN
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		ASIN:       asin,
		Books:      len(result.Books),
		Highlights: result.HighlightCount(),
		OutputPath: s.opts.OutputPath,
		Resume:     !req.Fresh,
		Timestamp:  s.opts.Now().UTC().Format(time.RFC3339),
	})
}
