package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seckatie/kindlenotes/internal/core/db"
	"github.com/seckatie/kindlenotes/internal/core/export"
	"golang.org/x/time/rate"
)

// ErrBookNotLoaded means a book's annotations never showed up, or showed
// another book. The book is skipped.
var ErrBookNotLoaded = errors.New("book annotations not loaded")

// DebugPageName is written next to the output file when the library cannot
// be found after signing in.
const DebugPageName = "debug_page.html"

// Ledger records scrape runs. *db.DB implements it.
type Ledger interface {
	StartRun(target string, resume bool, startedAt time.Time) (db.Run, error)
	RecordBook(runID string, outcome db.BookOutcome) error
	FinishRun(runID string, summary db.RunSummary) error
}

// ScrapeOptions controls a scrape session.
type ScrapeOptions struct {
	// OutputPath is the JSON store every processed book is saved to.
	OutputPath string
	// SessionPath keeps browser cookies between runs. Empty disables reuse.
	SessionPath string
	// Resume skips books already present in the store. Ignored when a
	// single ASIN is requested.
	Resume bool
	// ASIN, when set, scrapes only that book.
	ASIN string

	Credentials Credentials
	Browser     BrowserOptions
	Auth        AuthOptions

	StableChecks     int
	PollDelay        time.Duration
	SettleDelay      time.Duration
	LibraryTimeout   time.Duration
	BookLoadTimeout  time.Duration
	HighlightTimeout time.Duration
	// BookInterval is the minimum gap between opening two books.
	BookInterval time.Duration

	// Ledger is optional.
	Ledger Ledger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o ScrapeOptions) withDefaults() ScrapeOptions {
	if o.StableChecks <= 0 {
		o.StableChecks = DefaultStableChecks
	}
	if o.PollDelay <= 0 {
		o.PollDelay = DefaultPollDelay
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.LibraryTimeout <= 0 {
		o.LibraryTimeout = DefaultLibraryTimeout
	}
	if o.BookLoadTimeout <= 0 {
		o.BookLoadTimeout = DefaultBookLoadTimeout
	}
	if o.HighlightTimeout <= 0 {
		o.HighlightTimeout = DefaultHighlightTimeout
	}
	if o.BookInterval <= 0 {
		o.BookInterval = DefaultBookInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Auth.Sleep == nil {
		o.Auth.Sleep = o.Sleep
	}
	if o.Auth.Now == nil {
		o.Auth.Now = o.Now
	}
	if o.Auth.SettleDelay <= 0 {
		o.Auth.SettleDelay = o.SettleDelay
	}
	o.Auth = o.Auth.withDefaults()
	return o
}

// Target selects what a run scrapes.
type Target struct {
	// ASIN limits the run to one book. Empty means the whole library.
	ASIN string
}

func (t Target) String() string {
	if t.ASIN == "" {
		return "all"
	}
	return t.ASIN
}

// BookResult is one book saved during a run.
type BookResult struct {
	Book     export.Book `json:"book"`
	Replaced bool        `json:"replaced"`
	Warnings []string    `json:"warnings,omitempty"`
}

// ScrapeResult summarises a run.
type ScrapeResult struct {
	RunID   string       `json:"run_id,omitempty"`
	Books   []BookResult `json:"books"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
}

// HighlightCount is the number of highlights across all saved books.
func (r ScrapeResult) HighlightCount() int {
	n := 0
	for _, b := range r.Books {
		n += len(b.Book.Highlights)
	}
	return n
}

// Scraper drives one signed-in tab through the notebook.
type Scraper struct {
	page    Page
	opts    ScrapeOptions
	limiter *rate.Limiter
}

func NewScraper(page Page, opts ScrapeOptions) *Scraper {
	opts = opts.withDefaults()
	return &Scraper{
		page:    page,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.BookInterval), 1),
	}
}

// RunScrape is the top-level scraping workflow.
//
// It takes the store lock, launches Chrome, restores the saved session and
// runs a Scraper against the requested target.
func RunScrape(ctx context.Context, opts ScrapeOptions) (ScrapeResult, error) {
	if opts.OutputPath == "" {
		return ScrapeResult{}, errors.New("output path is required")
	}

	unlock, err := export.Lock(opts.OutputPath)
	if err != nil {
		return ScrapeResult{}, err
	}
	defer func() {
		if err := unlock(); err != nil {
			slog.Warn("failed to release store lock", "path", opts.OutputPath, "error", err)
		}
	}()

	opts.Auth.Headless = opts.Browser.Headless
	page, closeBrowser, err := LaunchBrowser(ctx, opts.Browser)
	if err != nil {
		return ScrapeResult{}, err
	}
	defer closeBrowser()

	if opts.SessionPath != "" {
		if err := page.RestoreSession(ctx, opts.SessionPath); err != nil {
			slog.Warn("could not restore saved session, signing in from scratch", "path", opts.SessionPath, "error", err)
		}
	}

	return NewScraper(page, opts).Run(ctx, Target{ASIN: opts.ASIN})
}

// Run signs in and scrapes the target. Per-book failures are counted in
// the result and do not stop the run; sign-in failures and cancellation do.
func (s *Scraper) Run(ctx context.Context, target Target) (ScrapeResult, error) {
	var res ScrapeResult
	resume := s.opts.Resume && target.ASIN == ""
	res.RunID = s.startRun(target, resume)

	err := s.run(ctx, target, resume, &res)
	s.finishRun(res, err)
	return res, err
}

func (s *Scraper) run(ctx context.Context, target Target, resume bool, res *ScrapeResult) error {
	seq := NewSequencer(s.page, s.opts.Credentials, s.opts.Auth)
	if err := seq.Run(ctx); err != nil {
		return err
	}

	if s.opts.SessionPath != "" {
		if err := s.page.SaveSession(ctx, s.opts.SessionPath); err != nil {
			slog.Warn("failed to save session", "path", s.opts.SessionPath, "error", err)
		}
	}

	if target.ASIN != "" {
		s.process(ctx, res, export.LibraryEntry{ASIN: target.ASIN})
		return ctx.Err()
	}

	existing := map[string]struct{}{}
	if resume {
		existing = export.Load(s.opts.OutputPath).ExistingASINs()
	}

	entries, err := s.library(ctx)
	if err != nil {
		return err
	}
	slog.Info("library loaded", "books", len(entries), "already_saved", len(existing))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := existing[entry.ASIN]; ok {
			slog.Info("skipping already saved book", "asin", entry.ASIN, "title", entry.Title)
			res.Skipped++
			s.record(res.RunID, db.BookOutcome{ASIN: entry.ASIN, Title: entry.Title, Status: db.BookStatusSkipped})
			continue
		}
		s.process(ctx, res, entry)
		slog.Info("progress", "processed", i+1, "total", len(entries))
	}
	return ctx.Err()
}

// process scrapes and saves one book, recording the outcome.
func (s *Scraper) process(ctx context.Context, res *ScrapeResult, entry export.LibraryEntry) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	book, warnings, err := s.scrapeBook(ctx, entry)
	var replaced bool
	if err == nil {
		replaced, err = export.SaveBook(s.opts.OutputPath, book, s.opts.Now())
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("book failed, skipping", "asin", entry.ASIN, "error", err)
		res.Failed++
		s.record(res.RunID, db.BookOutcome{ASIN: entry.ASIN, Title: entry.Title, Status: db.BookStatusFailed, Error: err.Error()})
		return
	}

	res.Books = append(res.Books, BookResult{Book: book, Replaced: replaced, Warnings: warnings})
	s.record(res.RunID, db.BookOutcome{
		ASIN:       book.ASIN,
		Title:      book.Title,
		Status:     db.BookStatusOK,
		Highlights: len(book.Highlights),
		Replaced:   replaced,
		Warning:    strings.Join(warnings, "; "),
	})
}

// library scrolls the library until its length settles and extracts it.
func (s *Scraper) library(ctx context.Context) ([]export.LibraryEntry, error) {
	slog.Info("loading library")
	count, err := s.settle(ctx, s.opts.LibraryTimeout, SelectorLibraryScroller, SelectorLibrary+" "+SelectorLibraryBook)
	if err != nil {
		return nil, err
	}
	slog.Debug("library settled", "books", count)

	present, err := s.page.Count(ctx, SelectorLibrary)
	if err != nil {
		return nil, fmt.Errorf("count library: %w", err)
	}
	if present == 0 {
		s.dumpPage(ctx)
		return nil, nil
	}

	inner, err := s.page.InnerHTML(ctx, SelectorLibrary)
	if err != nil {
		return nil, fmt.Errorf("read library: %w", err)
	}
	return ExtractLibrary(inner), nil
}

// scrapeBook opens one book and extracts it once its highlights settle.
func (s *Scraper) scrapeBook(ctx context.Context, entry export.LibraryEntry) (export.Book, []string, error) {
	asin := entry.ASIN
	slog.Info("scraping book", "asin", asin, "title", entry.Title)

	if err := s.openBook(ctx, asin); err != nil {
		return export.Book{}, nil, err
	}

	var warnings []string
	count, err := s.settle(ctx, s.opts.HighlightTimeout, SelectorAnnotationsScroll, SelectorAnnotations+" "+SelectorHighlight)
	if err != nil {
		return export.Book{}, nil, err
	}
	slog.Debug("highlights settled", "asin", asin, "count", count)

	banner, err := s.page.Count(ctx, SelectorTruncationBanner)
	if err != nil {
		return export.Book{}, nil, fmt.Errorf("check truncation banner: %w", err)
	}
	if banner > 0 {
		slog.Warn("highlights may be truncated by the export limit", "asin", asin)
		warnings = append(warnings, "highlights may be truncated by the notebook export limit")
	}

	html, err := s.page.Content(ctx)
	if err != nil {
		return export.Book{}, nil, fmt.Errorf("read book page: %w", err)
	}
	book, ok := ExtractBookPage(html)
	if !ok {
		return export.Book{}, nil, fmt.Errorf("%w: %s: no title or ASIN on page", ErrBookNotLoaded, asin)
	}
	if book.ASIN != asin {
		return export.Book{}, nil, fmt.Errorf("%w: asked for %s, page shows %s", ErrBookNotLoaded, asin, book.ASIN)
	}
	if book.Author == "" {
		book.Author = entry.Author
	}
	if book.CoverURL == "" {
		book.CoverURL = entry.CoverURL
	}

	slog.Info("book scraped", "asin", asin, "title", book.Title, "highlights", len(book.Highlights))
	return book, warnings, nil
}

// openBook clicks the book in the library, or loads it by URL when the link
// is not in the DOM, and waits until the annotations belong to asin.
func (s *Scraper) openBook(ctx context.Context, asin string) error {
	link := libraryLinkSelector(asin)
	n, err := s.page.Count(ctx, link)
	if err != nil {
		return fmt.Errorf("find library link: %w", err)
	}
	if n > 0 {
		if err := s.page.Click(ctx, link); err != nil {
			return fmt.Errorf("open %s: %w", asin, err)
		}
	} else {
		if err := s.page.Navigate(ctx, bookURL(s.opts.Auth.URL, asin)); err != nil {
			return fmt.Errorf("open %s: %w", asin, err)
		}
	}
	if err := s.opts.Sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}

	if err := s.page.WaitFor(ctx, annotationsLoadedSelector(asin), s.opts.BookLoadTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBookNotLoaded, asin, err)
	}
	return nil
}

// settle scrolls scroller until the number of items stops growing. Running
// out of time is not an error: whatever has loaded is used.
func (s *Scraper) settle(ctx context.Context, timeout time.Duration, scroller, items string) (int, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script := scrollToBottomScript(scroller)
	count, err := Stabilize(pollCtx,
		func(ctx context.Context) error { return s.page.Evaluate(ctx, script) },
		func(ctx context.Context) (int, error) { return s.page.Count(ctx, items) },
		PollOptions{
			Threshold: s.opts.StableChecks,
			Delay:     s.opts.PollDelay,
			Sleep:     s.opts.Sleep,
			OnCount:   func(n int) { slog.Debug("items loaded", "selector", items, "count", n) },
		},
	)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("list did not settle in time, using what has loaded", "selector", items, "count", count, "timeout", timeout)
		return count, nil
	}
	return count, err
}

func (s *Scraper) dumpPage(ctx context.Context) {
	path := filepath.Join(filepath.Dir(s.opts.OutputPath), DebugPageName)
	slog.Warn("library not found, saving page for debugging", "path", path)

	html, err := s.page.Content(ctx)
	if err != nil {
		slog.Warn("could not read page", "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		slog.Warn("could not write debug page", "path", path, "error", err)
	}
}

func (s *Scraper) startRun(target Target, resume bool) string {
	if s.opts.Ledger == nil {
		return ""
	}
	run, err := s.opts.Ledger.StartRun(target.String(), resume, s.opts.Now())
	if err != nil {
		slog.Warn("failed to record run start", "error", err)
		return ""
	}
	return run.ID
}

func (s *Scraper) record(runID string, outcome db.BookOutcome) {
	if s.opts.Ledger == nil || runID == "" {
		return
	}
	outcome.RecordedAt = s.opts.Now()
	if err := s.opts.Ledger.RecordBook(runID, outcome); err != nil {
		slog.Warn("failed to record book outcome", "asin", outcome.ASIN, "error", err)
	}
}

func (s *Scraper) finishRun(res ScrapeResult, runErr error) {
	if s.opts.Ledger == nil || res.RunID == "" {
		return
	}
	summary := db.RunSummary{
		Status:     db.RunStatusCompleted,
		Books:      len(res.Books),
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Highlights: res.HighlightCount(),
		FinishedAt: s.opts.Now(),
	}
	if runErr != nil {
		summary.Status = db.RunStatusFailed
		summary.Error = runErr.Error()
	}
	if err := s.opts.Ledger.FinishRun(res.RunID, summary); err != nil {
		slog.Warn("failed to record run end", "error", err)
	}
}

// libraryLinkSelector uses an attribute selector since ASINs of print
// editions start with a digit, which "#id" cannot express.
func libraryLinkSelector(asin string) string {
	return fmt.Sprintf(`%s [id=%s] a`, SelectorLibrary, jsString(asin))
}

func annotationsLoadedSelector(asin string) string {
	return fmt.Sprintf(`input%s[value=%s]`, SelectorAnnotationsASIN, jsString(asin))
}

func bookURL(notebookURL, asin string) string {
	return notebookURL + "?" + url.Values{"asin": {asin}}.Encode()
}

func scrollToBottomScript(selector string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (el) { el.scrollTo(0, el.scrollHeight); } })()`, jsString(selector))
}
