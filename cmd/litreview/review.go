// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/litreview/internal/acquire"
	"github.com/pdiddy/litreview/internal/dedup"
	"github.com/pdiddy/litreview/internal/embed"
	"github.com/pdiddy/litreview/internal/extract"
	"github.com/pdiddy/litreview/internal/knowledge"
	"github.com/pdiddy/litreview/internal/llm"
	"github.com/pdiddy/litreview/internal/pipeline"
	"github.com/pdiddy/litreview/internal/search"
	"github.com/pdiddy/litreview/internal/summarize"
	"github.com/pdiddy/litreview/internal/synthesis"
	"github.com/pdiddy/litreview/pkg/types"
)

// errNoContributors makes the process exit non-zero when no paper could be
// processed or served from the knowledge base.
var errNoContributors = errors.New("no paper succeeded or was served from the knowledge base")

var reviewCmd = &cobra.Command{
	Use:   "review <query>",
	Short: "Run the full pipeline for a topic query and print the report",
	Long: `Review retrieves candidate papers for the query, processes each one
(download, section extraction, per-section summaries, fidelity scores,
embeddings) with bounded concurrency, and composes a report with main
findings, methods overview, research gaps and future directions.

Papers already in the knowledge base are served from storage. Failed papers
are retried on later runs until max_attempts is reached; --force reprocesses
everything. The report is also written to knowledge/reports/<run id>.md and
the run record to knowledge/runs/<run id>.yaml.

The command exits non-zero when no paper contributed to the report.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReview,
}

func init() {
	defaults := types.DefaultPipelineConfig()
	reviewCmd.Flags().IntP("results", "n", defaults.Search.MaxResults, "number of candidate papers to retrieve")
	reviewCmd.Flags().IntP("concurrency", "c", defaults.Concurrency, "papers processed at once")
	reviewCmd.Flags().Bool("force", false, "reprocess papers already in the knowledge base")
	reviewCmd.Flags().Bool("json", false, "print the run record and report as JSON")

	viper.BindPFlag("search.max_results", reviewCmd.Flags().Lookup("results"))
	viper.BindPFlag("concurrency", reviewCmd.Flags().Lookup("concurrency"))

	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	force, _ := cmd.Flags().GetBool("force")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Debug("configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timeout := requestTimeout(cfg)
	gen, err := llm.New(cfg.AI, timeout)
	if err != nil {
		return err
	}
	embedder := embed.NewOpenAIEmbedder(cfg.Embedding, timeout)
	extractor, err := extract.New(ctx, cfg.Extraction)
	if err != nil {
		return err
	}

	kb, err := knowledge.Open(ctx, cfg.KnowledgeBase, cfg.Embedding.Dimension)
	if err != nil {
		return err
	}
	defer kb.Close()

	idx, err := dedup.Open(cfg.KnowledgeBase.KnowledgeDir)
	if err != nil {
		return err
	}
	defer idx.Close()

	o := pipeline.New(cfg)
	o.Source = search.NewArxivSource(cfg.Search)
	o.Fetcher = acquire.NewHTTPFetcher(cfg.Acquisition)
	o.Extractor = extractor
	o.Summarizer = &summarize.LLMSummarizer{Generator: gen}
	o.Scorer = &embed.CosineScorer{Embedder: embedder}
	o.Embedder = embedder
	o.KB = kb
	o.Dedup = idx
	o.Force = force
	o.RunsDir = pipeline.RunsDir(cfg.KnowledgeBase.KnowledgeDir)
	o.Progress = os.Stderr
	o.Logger = slog.Default()

	qc, err := o.RunQuery(ctx, query, cfg.Search.MaxResults, cfg.Concurrency)
	if qc == nil {
		return err
	}
	if err != nil {
		renderCounts(os.Stdout, qc)
		return err
	}

	composer := synthesis.New(llm.Retrying{Generator: gen, Policy: o.Retry}, embedder, cfg.Synthesis)
	composer.Logger = slog.Default()
	report, err := composer.Compose(ctx, qc, kb)
	if err != nil {
		renderCounts(os.Stdout, qc)
		return err
	}

	if path, err := synthesis.WriteMarkdown(synthesis.ReportsDir(cfg.KnowledgeBase.KnowledgeDir), qc.RunID, report); err != nil {
		slog.Warn("writing report", "error", err)
	} else {
		slog.Info("report written", "path", path)
	}
	if unknown := synthesis.CheckCitations(report); len(unknown) > 0 {
		slog.Warn("report cites papers outside the contributor set", "keys", unknown)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Run    *types.QueryContext    `json:"run"`
			Report *types.SynthesisReport `json:"report"`
		}{qc, report}); err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
	} else {
		renderCounts(os.Stdout, qc)
		renderReport(os.Stdout, report, terminalWidth())
	}

	if report.Empty() {
		return errNoContributors
	}
	return nil
}
