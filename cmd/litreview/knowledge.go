// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/litreview/internal/embed"
	"github.com/pdiddy/litreview/internal/knowledge"
	"github.com/pdiddy/litreview/pkg/types"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect the knowledge base (query, browse, export, verify)",
	Long: `Knowledge works on the stored section summaries and their embeddings.
Use subcommands to run similarity queries, browse summaries, export the
store, or check that vectors and metadata agree.`,
}

// --- query subcommand ---

var knowledgeQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Find the stored sections most similar to a text",
	Long: `Query embeds the text with the configured embedding backend and lists
the nearest stored section summaries by cosine similarity.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKnowledgeQuery,
}

func runKnowledgeQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	kb, err := knowledge.Open(ctx, cfg.KnowledgeBase, cfg.Embedding.Dimension)
	if err != nil {
		return err
	}
	defer kb.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.KnowledgeBase.MaxResults
	}

	embedder := embed.NewOpenAIEmbedder(cfg.Embedding, requestTimeout(cfg))
	vec, err := embedder.Embed(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	neighbors, err := kb.Query(ctx, vec, limit)
	if err != nil {
		return err
	}

	type hit struct {
		types.Neighbor
		Text string `json:"text"`
	}
	hits := make([]hit, 0, len(neighbors))
	for _, n := range neighbors {
		h := hit{Neighbor: n}
		if text, err := summaryText(ctx, kb, n.PaperID, n.Role); err == nil {
			h.Text = text
		}
		hits = append(hits, h)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%-4s  %-6s  %-20s  %-12s  %s\n", "Rank", "Sim", "Paper", "Section", "Summary")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))
	for i, h := range hits {
		fmt.Fprintf(os.Stdout, "%-4d  %.3f  %-20s  %-12s  %s\n",
			i+1, h.Similarity, clip(h.PaperID, 20), h.Role, clip(h.Text, 50))
	}
	fmt.Fprintf(os.Stdout, "\n%d results\n", len(hits))
	return nil
}

func summaryText(ctx context.Context, kb knowledge.Base, paperID string, role types.SectionRole) (string, error) {
	sums, err := kb.Summaries(ctx, paperID)
	if err != nil {
		return "", err
	}
	for _, s := range sums {
		if s.Role == role {
			return s.Text, nil
		}
	}
	return "", nil
}

// --- browse subcommand ---

var knowledgeBrowseCmd = &cobra.Command{
	Use:   "browse [text]",
	Short: "List stored summaries with filters",
	Long: `Browse lists stored section summaries, optionally filtered by a phrase,
section role or paper ID. It needs the SQLite store.`,
	RunE: runKnowledgeBrowse,
}

func runKnowledgeBrowse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	kb, err := knowledge.Open(ctx, cfg.KnowledgeBase, cfg.Embedding.Dimension)
	if err != nil {
		return err
	}
	defer kb.Close()

	store, ok := kb.(*knowledge.SQLiteStore)
	if !ok {
		return fmt.Errorf("browse needs the sqlite store, configured store is %q", cfg.KnowledgeBase.Store)
	}

	opts := knowledge.QueryOptions{Text: strings.Join(args, " ")}
	opts.PaperID, _ = cmd.Flags().GetString("paper")
	opts.MaxResults, _ = cmd.Flags().GetInt("limit")
	if role, _ := cmd.Flags().GetString("role"); role != "" {
		r, err := types.ParseSectionRole(role)
		if err != nil {
			return err
		}
		opts.Role = r
	}

	results, err := store.Retrieve(ctx, opts)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%-20s  %-12s  %-6s  %s\n", "Paper", "Section", "Score", "Summary")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))
	for _, r := range results {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprintf("%.3f", *r.Score)
		}
		fmt.Fprintf(os.Stdout, "%-20s  %-12s  %-6s  %s\n", clip(r.PaperID, 20), r.Role, score, clip(r.Text, 54))
	}
	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

// --- export subcommand ---

var knowledgeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the knowledge base to YAML or JSON",
	Long: `Export writes every stored summary with its paper metadata to
knowledge/index/export.yaml or export.json.`,
	RunE: runKnowledgeExport,
}

func runKnowledgeExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	kb, err := knowledge.Open(ctx, cfg.KnowledgeBase, cfg.Embedding.Dimension)
	if err != nil {
		return err
	}
	defer kb.Close()

	dir := knowledge.ExportDir(cfg.KnowledgeBase.KnowledgeDir)
	var path string
	switch format {
	case "yaml", "":
		path, err = knowledge.ExportYAML(ctx, kb, dir)
	case "json":
		path, err = knowledge.ExportJSON(ctx, kb, dir)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	if err != nil {
		return err
	}
	fmt.Println("Exported to", path)
	return nil
}

// --- verify subcommand ---

var knowledgeVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every vector has its summary and vice versa",
	Long: `Verify compares the vector index with the summary metadata and reports
orphans and undecodable vectors. With --repair the offending rows are
removed.`,
	RunE: runKnowledgeVerify,
}

func runKnowledgeVerify(cmd *cobra.Command, args []string) error {
	repair, _ := cmd.Flags().GetBool("repair")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	kb, err := knowledge.Open(ctx, cfg.KnowledgeBase, 0)
	if err != nil {
		return err
	}
	defer kb.Close()

	var report knowledge.IntegrityReport
	if repair {
		report, err = kb.Repair(ctx)
	} else {
		report, err = kb.Verify(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("vectors:          %d\n", report.Vectors)
	fmt.Printf("summaries:        %d\n", report.Summaries)
	fmt.Printf("orphan vectors:   %d\n", report.OrphanVectors)
	fmt.Printf("orphan summaries: %d\n", report.OrphanSummaries)
	fmt.Printf("corrupt vectors:  %d\n", report.Corrupt)
	if repair {
		fmt.Printf("repaired:         %d\n", report.Repaired)
	}
	fmt.Printf("dimension:        %d\n", kb.Dimension())
	if !report.Consistent() {
		return &types.ConsistencyError{Err: fmt.Errorf("%d vectors vs %d summaries", report.Vectors, report.Summaries)}
	}
	fmt.Println("consistent")
	return nil
}

// --- shared helpers ---

func clip(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}

func init() {
	knowledgeQueryCmd.Flags().Int("limit", 0, "maximum results (default from config)")
	knowledgeQueryCmd.Flags().Bool("json", false, "output results as JSON")

	knowledgeBrowseCmd.Flags().String("role", "", "filter by section role: title, abstract, introduction, methodology, results, conclusion, overall")
	knowledgeBrowseCmd.Flags().String("paper", "", "filter by paper ID")
	knowledgeBrowseCmd.Flags().Int("limit", 0, "maximum results (0 = all)")
	knowledgeBrowseCmd.Flags().Bool("json", false, "output results as JSON")

	knowledgeExportCmd.Flags().String("format", "yaml", "export format: yaml or json")

	knowledgeVerifyCmd.Flags().Bool("repair", false, "remove orphaned and corrupt rows")

	knowledgeCmd.AddCommand(knowledgeQueryCmd)
	knowledgeCmd.AddCommand(knowledgeBrowseCmd)
	knowledgeCmd.AddCommand(knowledgeExportCmd)
	knowledgeCmd.AddCommand(knowledgeVerifyCmd)

	rootCmd.AddCommand(knowledgeCmd)
}
