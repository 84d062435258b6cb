/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/seckatie/kindlenotes/internal/core/db"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent scrape runs from the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return fmt.Errorf("failed to read --limit: %w", err)
		}

		database, err := initDB(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer closeDB(database)

		runs, err := database.ListRuns(limit)
		if err != nil {
			return err
		}
		renderRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func renderRuns(w io.Writer, runs []db.Run) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Target", "Status", "Started", "Duration", "Books", "Skipped", "Failed", "Highlights"})
	for _, r := range runs {
		duration := ""
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).String()
		}
		t.AppendRow(table.Row{
			r.ID, r.Target, r.Status,
			r.StartedAt.Local().Format(time.DateTime), duration,
			r.Books, r.Skipped, r.Failed, r.Highlights,
		})
	}
	t.Render()
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
}
