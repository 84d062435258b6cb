/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/

// The scrape command signs in to the Kindle notebook and saves highlights to
// the JSON store.
//
// Example usage:
//
//	kindlenotes scrape
//	kindlenotes scrape --asin=B00X57B4JG --headful
//	kindlenotes scrape --fresh --out=data/highlights.json
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/seckatie/kindlenotes/internal/core"
	"github.com/seckatie/kindlenotes/internal/core/db"
	"github.com/spf13/cobra"
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape highlights from the Kindle notebook into the JSON store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd)
	},
}

func runScrape(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	asin, err := cmd.Flags().GetString("asin")
	if err != nil {
		return fmt.Errorf("failed to read --asin: %w", err)
	}
	headful, err := cmd.Flags().GetBool("headful")
	if err != nil {
		return fmt.Errorf("failed to read --headful: %w", err)
	}
	fresh, err := cmd.Flags().GetBool("fresh")
	if err != nil {
		return fmt.Errorf("failed to read --fresh: %w", err)
	}
	chromePath, err := cmd.Flags().GetString("chrome-path")
	if err != nil {
		return fmt.Errorf("failed to read --chrome-path: %w", err)
	}
	sessionPath, err := cmd.Flags().GetString("session")
	if err != nil {
		return fmt.Errorf("failed to read --session: %w", err)
	}
	if chromePath != "" {
		cfg.Scrape.ChromePath = chromePath
	}
	if sessionPath != "" {
		cfg.Scrape.SessionPath = sessionPath
	}

	database, err := initDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer closeDB(database)

	out := cmd.OutOrStdout()
	database.RegisterEventListener(db.OnBookRecordedEvent, func(event db.Event) error {
		ev := event.(db.BookRecordedEvent)
		printOutcome(out, ev.Outcome)
		return nil
	})

	opts := scrapeOptions(cfg, database)
	opts.ASIN = asin
	opts.Resume = !fresh
	if headful {
		opts.Browser.Headless = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := core.RunScrape(ctx, opts)
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}
	printSummary(out, result, cfg.Scrape.OutputPath)

	if result.Failed > 0 {
		return fmt.Errorf("scrape finished with %d failure(s)", result.Failed)
	}
	return nil
}

func printOutcome(w io.Writer, o db.BookOutcome) {
	switch o.Status {
	case db.BookStatusOK:
		fmt.Fprintf(w, "  saved    %s  %s (%d highlights)\n", o.ASIN, o.Title, o.Highlights)
	case db.BookStatusSkipped:
		fmt.Fprintf(w, "  skipped  %s  %s\n", o.ASIN, o.Title)
	default:
		fmt.Fprintf(w, "  failed   %s  %s: %s\n", o.ASIN, o.Title, o.Error)
	}
}

func printSummary(w io.Writer, r core.ScrapeResult, outputPath string) {
	fmt.Fprintf(w, "\nSaved %d book(s) with %d highlight(s) to %s\n", len(r.Books), r.HighlightCount(), outputPath)
	if r.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d book(s) already in the store\n", r.Skipped)
	}
	if r.Failed > 0 {
		fmt.Fprintf(w, "Failed to scrape %d book(s)\n", r.Failed)
	}
	if r.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", r.RunID)
	}
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().String("asin", "", "Scrape only the book with this ASIN")
	scrapeCmd.Flags().Bool("headful", false, "Show the browser window (lets you type a one-time code)")
	scrapeCmd.Flags().Bool("fresh", false, "Re-scrape books already in the store")
	scrapeCmd.Flags().String("chrome-path", "", "Path to Chrome/Chromium executable (optional)")
	scrapeCmd.Flags().String("session", "", "Path to the saved browser session (overrides config)")
}
