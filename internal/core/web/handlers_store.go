package web

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/seckatie/kindlenotes/internal/core/export"
)

type healthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	OutputPath string `json:"output_path"`
}

type booksResponse struct {
	Run   export.Run    `json:"run"`
	Count int           `json:"count"`
	Books []export.Book `json:"books"`
}

// highlightView is a highlight with its book's identity attached.
type highlightView struct {
	export.Highlight
	ASIN   string `json:"asin"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

type highlightsResponse struct {
	Run        export.Run      `json:"run"`
	Count      int             `json:"count"`
	Highlights []highlightView `json:"highlights"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Timestamp:  s.opts.Now().UTC().Format(time.RFC3339),
		OutputPath: s.opts.OutputPath,
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	state, ok := s.readStore(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, booksResponse{
		Run:   state.Run,
		Count: len(state.Books),
		Books: state.Books,
	})
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	state, ok := s.readStore(w)
	if !ok {
		return
	}

	highlights := []highlightView{}
	for _, book := range state.Books {
		for _, h := range book.Highlights {
			highlights = append(highlights, highlightView{
				Highlight: h,
				ASIN:      book.ASIN,
				Title:     book.Title,
				Author:    book.Author,
			})
		}
	}
	writeJSON(w, http.StatusOK, highlightsResponse{
		Run:        state.Run,
		Count:      len(highlights),
		Highlights: highlights,
	})
}

// readStore reads the store strictly; an unreadable store is a server error
// rather than an empty library.
func (s *Server) readStore(w http.ResponseWriter) (*export.State, bool) {
	state, err := export.Read(s.opts.OutputPath)
	if err != nil {
		slog.Error("failed to read highlights store", "path", s.opts.OutputPath, "error", err)
		if errors.Is(err, export.ErrMalformedStore) {
			writeError(w, http.StatusInternalServerError, "cached highlights are missing expected keys")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "cached highlights could not be loaded")
		return nil, false
	}
	if state.Books == nil {
		state.Books = []export.Book{}
	}
	return state, true
}
