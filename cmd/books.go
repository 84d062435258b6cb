/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/seckatie/kindlenotes/internal/core/export"
	"github.com/spf13/cobra"
)

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List the books saved in the highlights store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		asin, err := cmd.Flags().GetString("highlights")
		if err != nil {
			return fmt.Errorf("failed to read --highlights: %w", err)
		}

		state, err := export.Read(cfg.Scrape.OutputPath)
		if err != nil {
			return err
		}
		if asin == "" {
			renderBooks(cmd.OutOrStdout(), state)
			return nil
		}
		book, ok := state.Find(asin)
		if !ok {
			return fmt.Errorf("book %s is not in %s", asin, cfg.Scrape.OutputPath)
		}
		renderHighlights(cmd.OutOrStdout(), book)
		return nil
	},
}

func renderBooks(w io.Writer, state *export.State) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ASIN", "Title", "Author", "Highlights"})
	total := 0
	for _, b := range state.Books {
		t.AppendRow(table.Row{b.ASIN, b.Title, b.Author, len(b.Highlights)})
		total += len(b.Highlights)
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d books", len(state.Books)), total})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 50},
		{Number: 3, WidthMax: 30},
	})
	t.Render()
}

func renderHighlights(w io.Writer, book export.Book) {
	fmt.Fprintf(w, "%s by %s\n", book.Title, book.Author)
	t := newTable(w)
	t.AppendHeader(table.Row{"Color", "Page", "Location", "Highlight", "Note"})
	for _, h := range book.Highlights {
		t.AppendRow(table.Row{h.Color, optional(h.Page), optional(h.Location), h.Text, h.Note})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 60},
		{Number: 5, WidthMax: 30},
	})
	t.Render()
}

func init() {
	rootCmd.AddCommand(booksCmd)

	booksCmd.Flags().String("highlights", "", "Show the highlights of the book with this ASIN")
}
