/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/seckatie/kindlenotes/internal/config"
	"github.com/seckatie/kindlenotes/internal/core"
	"github.com/seckatie/kindlenotes/internal/core/db"
	"github.com/seckatie/kindlenotes/internal/core/web"
	"github.com/seckatie/kindlenotes/internal/logger"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kindlenotes",
	Short: "Scrape your Kindle highlights and serve them over HTTP",
	Long: `kindlenotes signs in to the Kindle web notebook, walks your library and
saves every highlight and note to a local JSON file.

Run without a subcommand it serves the saved highlights over a small JSON API
and lets clients trigger a new scrape with POST /scrape. Use "kindlenotes
scrape" to scrape once from the terminal.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringP("db", "d", "", "Path to the SQLite run ledger (overrides config)")
	rootCmd.PersistentFlags().StringP("out", "o", "", "Path to the highlights JSON file (overrides config)")
	rootCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.Flags().String("host", "localhost", "Host to listen on")
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	if f := cmd.Flags().Lookup("host"); f != nil && f.Changed {
		cfg.Server.Host = f.Value.String()
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return fmt.Errorf("failed to read --port: %w", err)
		}
		cfg.Server.Port = port
	}

	database, err := initDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer closeDB(database)

	base := scrapeOptions(cfg, database)
	srv := web.NewServer(web.Options{
		OutputPath:     cfg.Scrape.OutputPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Ledger:         database,
		Scrape: func(ctx context.Context, req web.ScrapeRequest) (core.ScrapeResult, error) {
			opts := base
			opts.ASIN = req.ASIN
			opts.Resume = !req.Fresh
			if req.Headful {
				opts.Browser.Headless = false
			}
			return core.RunScrape(ctx, opts)
		},
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	return web.StartServer(ctx, addr, srv)
}

// loadConfig layers the config file, .env and environment, applies the
// persistent flag overrides and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to read --config: %w", err)
	}
	cfg, err := config.FromEnvironment(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyPathFlags(cmd, cfg)

	if err := logger.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, nil
}

func applyPathFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Database.Path = v
	}
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		cfg.Scrape.OutputPath = v
	}
}

func initDB(path string) (*db.DB, error) {
	database, err := db.NewSQLiteDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		closeDB(database)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Debug("database migrated", "path", path)
	return database, nil
}

func closeDB(database *db.DB) {
	if err := database.Close(); err != nil {
		slog.Warn("failed to close database", "error", err)
	}
}

// scrapeOptions maps the configuration onto a scrape that resumes from the
// existing store. A nil ledger disables run recording.
func scrapeOptions(cfg *config.Config, ledger *db.DB) core.ScrapeOptions {
	s := cfg.Scrape

	chromePath := s.ChromePath
	if chromePath == "" && runtime.GOOS == "darwin" {
		// Best-effort default for macOS.
		chromePath = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
	}

	opts := core.ScrapeOptions{
		OutputPath:  s.OutputPath,
		SessionPath: s.SessionPath,
		Resume:      true,
		Credentials: core.Credentials{
			Email:      cfg.Credentials.Email,
			Password:   cfg.Credentials.Password,
			TOTPSecret: cfg.Credentials.TOTPSecret,
		},
		Browser: core.BrowserOptions{
			ChromePath:    chromePath,
			Headless:      s.Headless,
			ActionTimeout: s.ActionTimeout,
		},
		Auth: core.AuthOptions{
			URL:           s.NotebookURL,
			LoginTimeout:  s.LoginTimeout,
			VerifyTimeout: s.VerifyTimeout,
			ManualTimeout: s.ManualTimeout,
		},
		StableChecks:     s.StableChecks,
		PollDelay:        s.PollDelay,
		SettleDelay:      s.SettleDelay,
		LibraryTimeout:   s.LibraryTimeout,
		BookLoadTimeout:  s.BookLoadTimeout,
		HighlightTimeout: s.HighlightTimeout,
		BookInterval:     s.BookInterval,
	}
	if ledger != nil {
		opts.Ledger = ledger
	}
	return opts
}
