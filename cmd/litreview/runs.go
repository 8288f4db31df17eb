// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litreview/internal/pipeline"
	"github.com/pdiddy/litreview/pkg/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the audit log of past review runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past runs, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := runsDir()
		if err != nil {
			return err
		}
		runs, err := pipeline.ListRuns(dir)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-4s  %-4s  %-4s  %s\n", "Run", "Started", "OK", "Fail", "Skip", "Query")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
		for _, qc := range runs {
			fmt.Fprintf(os.Stdout, "%-36s  %-20s  %-4d  %-4d  %-4d  %s\n",
				qc.RunID, qc.StartedAt.Format("2006-01-02 15:04:05"),
				qc.Count(types.OutcomeSuccess), qc.Count(types.OutcomeFailed), qc.Count(types.OutcomeSkipped),
				clip(qc.Query, 30))
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := runsDir()
		if err != nil {
			return err
		}
		qc, err := pipeline.ReadRun(filepath.Join(dir, args[0]+".yaml"))
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(qc)
	},
}

func runsDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return pipeline.RunsDir(cfg.KnowledgeBase.KnowledgeDir), nil
}

func init() {
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	rootCmd.AddCommand(runsCmd)
}
