package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/seckatie/kindlenotes/internal/core"
	"github.com/seckatie/kindlenotes/internal/core/db"
	"golang.org/x/sync/semaphore"
)

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	ASIN    string `json:"asin,omitempty"`
	Headful bool   `json:"headful"`
	Fresh   bool   `json:"fresh"`
}

// ScrapeFunc runs one scrape against the server's output path.
type ScrapeFunc func(ctx context.Context, req ScrapeRequest) (core.ScrapeResult, error)

// Options configures a Server.
type Options struct {
	// OutputPath is the JSON store served by /books and /highlights.
	OutputPath     string
	AllowedOrigins []string
	// Scrape runs a scrape for POST /scrape.
	Scrape ScrapeFunc
	// Ledger backs /runs. Optional.
	Ledger *db.DB

	Now func() time.Time
}

type Server struct {
	router *chi.Mux
	opts   Options
	// scraping admits one scrape at a time.
	scraping *semaphore.Weighted
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		router:   chi.NewRouter(),
		opts:     opts,
		scraping: semaphore.NewWeighted(1),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/books", s.handleBooks)
	s.router.Get("/highlights", s.handleHighlights)
	s.router.Post("/scrape", s.handleScrape)
	s.router.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleRuns)
		r.Get("/{id}", s.handleRun)
	})
}

// StartServer serves srv on addr until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, addr string, srv *Server) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting web server", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
