// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/litreview/internal/acquire"
	"github.com/pdiddy/litreview/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List candidate papers from arXiv without processing them",
	Long: `Search queries arXiv for papers matching the query and prints the
candidates in retrieval order. Nothing is downloaded or stored; papers
already downloaded by an earlier review are listed after the table.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Int("max-results", 0, "maximum number of results (default from config)")
	searchCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("max-results")
	if limit <= 0 {
		limit = cfg.Search.MaxResults
	}

	src := search.NewArxivSource(cfg.Search)
	cands, err := src.Search(cmd.Context(), strings.Join(args, " "), limit)
	if err != nil && len(cands) == 0 {
		return fmt.Errorf("searching %s: %w", src.Name(), err)
	}
	cands, removed := search.Deduplicate(cands)
	if removed > 0 {
		fmt.Fprintf(os.Stderr, "Removed %d duplicate(s)\n", removed)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return search.FormatJSON(cands, os.Stdout)
	}
	search.FormatTable(cands, os.Stdout)

	fetcher := acquire.NewHTTPFetcher(cfg.Acquisition)
	for _, c := range cands {
		if meta, ok := fetcher.Cached(c); ok {
			fmt.Fprintf(os.Stdout, "cached: %s (%d bytes, downloaded %s) %s\n",
				meta.PaperID, meta.Size, meta.Downloaded.Format("2006-01-02"), meta.PDFPath)
		}
	}
	return nil
}
