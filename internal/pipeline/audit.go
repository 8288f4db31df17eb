// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litreview/pkg/types"
)

// RunsDir returns the directory holding run audit logs under knowledgeDir.
func RunsDir(knowledgeDir string) string {
	return filepath.Join(knowledgeDir, "runs")
}

// WriteRun stores qc as <dir>/<run id>.yaml and returns the path.
func WriteRun(dir string, qc *types.QueryContext) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating runs directory: %w", err)
	}
	data, err := yaml.Marshal(qc)
	if err != nil {
		return "", fmt.Errorf("encoding run %s: %w", qc.RunID, err)
	}
	path := filepath.Join(dir, qc.RunID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing run %s: %w", qc.RunID, err)
	}
	return path, nil
}

// ReadRun loads a run audit log.
func ReadRun(path string) (*types.QueryContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run: %w", err)
	}
	var qc types.QueryContext
	if err := yaml.Unmarshal(data, &qc); err != nil {
		return nil, fmt.Errorf("parsing run %s: %w", path, err)
	}
	return &qc, nil
}

// ListRuns returns every run in dir, oldest first. A missing directory
// yields no runs.
func ListRuns(dir string) ([]*types.QueryContext, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	var runs []*types.QueryContext
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		qc, err := ReadRun(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		runs = append(runs, qc)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

func (o *Orchestrator) writeAudit(qc *types.QueryContext, log *slog.Logger) {
	if o.RunsDir == "" {
		return
	}
	path, err := WriteRun(o.RunsDir, qc)
	if err != nil {
		log.Warn("writing run audit log", "error", err)
		return
	}
	log.Debug("run audit log written", "path", path)
}
