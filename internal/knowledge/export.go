// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litreview/pkg/types"
)

// ExportEntry holds one stored summary with paper metadata for export.
type ExportEntry struct {
	PaperID string            `json:"paper_id" yaml:"paper_id"`
	Role    types.SectionRole `json:"role" yaml:"role"`
	Text    string            `json:"text" yaml:"text"`
	Score   *float64          `json:"score,omitempty" yaml:"score,omitempty"`
	Paper   *ExportPaper      `json:"paper,omitempty" yaml:"paper,omitempty"`
}

// ExportPaper holds the paper-level fields included in each export entry.
type ExportPaper struct {
	Title     string `json:"title" yaml:"title"`
	SourceURL string `json:"source_url" yaml:"source_url"`
}

// ExportYAML writes every stored summary to dir/export.yaml and returns
// the path written.
func ExportYAML(ctx context.Context, kb Base, dir string) (string, error) {
	entries, err := exportEntries(ctx, kb)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshaling YAML: %w", err)
	}
	return writeExport(dir, "export.yaml", data)
}

// ExportJSON writes every stored summary to dir/export.json and returns
// the path written.
func ExportJSON(ctx context.Context, kb Base, dir string) (string, error) {
	entries, err := exportEntries(ctx, kb)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return writeExport(dir, "export.json", data)
}

// ExportDir returns the default export directory under knowledgeDir.
func ExportDir(knowledgeDir string) string {
	return filepath.Join(knowledgeDir, indexDir)
}

func writeExport(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func exportEntries(ctx context.Context, kb Base) ([]ExportEntry, error) {
	summaries, err := kb.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}
	papers, err := kb.Papers(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying papers for export: %w", err)
	}

	entries := make([]ExportEntry, len(summaries))
	for i, s := range summaries {
		entries[i] = ExportEntry{
			PaperID: s.PaperID,
			Role:    s.Role,
			Text:    s.Text,
			Score:   s.Score,
		}
		if p, ok := papers[s.PaperID]; ok && (p.Title != "" || p.SourceURL != "") {
			entries[i].Paper = &ExportPaper{Title: p.Title, SourceURL: p.SourceURL}
		}
	}
	return entries, nil
}
