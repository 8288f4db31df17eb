// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/litreview/internal/dedup"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Inspect or edit the record of processed papers",
	Long: `Dedup manages the index that decides whether a paper is processed or
served from the knowledge base. Forgetting a paper makes the next run
process it from scratch.`,
}

var dedupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known paper with its processing state",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openDedup(cmd)
		if err != nil {
			return err
		}
		defer idx.Close()

		recs, err := idx.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No papers recorded.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "%-24s  %-9s  %-8s  %-40s  %s\n", "Paper", "Status", "Attempts", "Title", "Reason")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
		for _, r := range recs {
			fmt.Fprintf(os.Stdout, "%-24s  %-9s  %-8d  %-40s  %s\n",
				clip(r.ID, 24), r.Status, r.Attempts, clip(r.Title, 40), clip(r.Reason, 40))
		}
		fmt.Fprintf(os.Stdout, "\n%d papers\n", len(recs))
		return nil
	},
}

var dedupForgetCmd = &cobra.Command{
	Use:   "forget <paper-id>...",
	Short: "Remove papers from the index so they are processed again",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openDedup(cmd)
		if err != nil {
			return err
		}
		defer idx.Close()

		for _, id := range args {
			if err := idx.Forget(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Println("Forgot", id)
		}
		return nil
	},
}

func openDedup(cmd *cobra.Command) (*dedup.Index, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return dedup.Open(cfg.KnowledgeBase.KnowledgeDir)
}

func init() {
	dedupListCmd.Flags().Bool("json", false, "output records as JSON")

	dedupCmd.AddCommand(dedupListCmd)
	dedupCmd.AddCommand(dedupForgetCmd)

	rootCmd.AddCommand(dedupCmd)
}
