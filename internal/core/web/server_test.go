package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/seckatie/kindlenotes/internal/core"
	"github.com/seckatie/kindlenotes/internal/core/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

// newTestDB creates a new in-memory SQLite database for testing.
func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewSQLiteDB(":memory:")
	require.NoError(t, err, "failed to create test database")
	require.NoError(t, database.Migrate(), "failed to migrate test database")
	t.Cleanup(func() {
		assert.NoError(t, database.Close())
	})
	return database
}

// newTestServer creates a Server over an empty store in a temp dir.
func newTestServer(t *testing.T, scrape ScrapeFunc) *Server {
	t.Helper()
	return NewServer(Options{
		OutputPath: filepath.Join(t.TempDir(), "highlights.json"),
		Scrape:     scrape,
		Ledger:     newTestDB(t),
		Now:        func() time.Time { return testNow },
	})
}

func noopScrape(context.Context, ScrapeRequest) (core.ScrapeResult, error) {
	return core.ScrapeResult{}, nil
}

// TestNewServer tests server initialization.
func TestNewServer(t *testing.T) {
	server := NewServer(Options{OutputPath: "highlights.json"})

	assert.NotNil(t, server.router)
	assert.NotNil(t, server.scraping)
	assert.NotNil(t, server.opts.Now, "expected clock to default")
	assert.Equal(t, []string{"*"}, server.opts.AllowedOrigins)
}

// TestRoutes checks that unknown paths and wrong methods are rejected by the router.
func TestRoutes(t *testing.T) {
	server := newTestServer(t, noopScrape)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/books", http.StatusOK},
		{http.MethodGet, "/highlights", http.StatusOK},
		{http.MethodGet, "/runs", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodPost, "/books", http.StatusMethodNotAllowed},
		{http.MethodGet, "/scrape", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// TestCORS checks that cross-origin requests get CORS headers.
func TestCORS(t *testing.T) {
	server := NewServer(Options{
		OutputPath:     filepath.Join(t.TempDir(), "highlights.json"),
		AllowedOrigins: []string{"https://reader.example"},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://reader.example")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Equal(t, "https://reader.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), "no CORS header for unknown origin")
}

// TestStartServerShutdown checks that cancelling the context stops the server.
func TestStartServerShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartServer(ctx, "127.0.0.1:0", NewServer(Options{OutputPath: "highlights.json"}))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "expected clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
