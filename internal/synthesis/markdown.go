// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synthesis

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pdiddy/litreview/pkg/types"
)

// ReportsDir returns the directory holding rendered reports under
// knowledgeDir.
func ReportsDir(knowledgeDir string) string {
	return filepath.Join(knowledgeDir, "reports")
}

// citationPattern matches inline citations: [ID] or [ID1; ID2].
var citationPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// RenderMarkdown formats a report as Markdown. Every claim carries its
// attributions as an inline citation.
func RenderMarkdown(r *types.SynthesisReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Literature review: %s\n\n", r.Query)
	if r.Empty() {
		b.WriteString("No paper contributed to this review.\n")
		return b.String()
	}
	if r.Fallback {
		b.WriteString("> Some sections were assembled directly from paper summaries because generation failed.\n\n")
	}

	for _, bucket := range types.AllBuckets() {
		fmt.Fprintf(&b, "## %s\n\n", bucket.Title())
		claims := r.Claims(bucket)
		if len(claims) == 0 {
			b.WriteString("_Nothing reported._\n\n")
			continue
		}
		for _, c := range claims {
			fmt.Fprintf(&b, "- %s [%s]\n", c.Text, strings.Join(c.PaperIDs, "; "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Papers\n\n")
	related := make(map[string]bool, len(r.RelatedPaperIDs))
	for _, id := range r.RelatedPaperIDs {
		related[id] = true
	}
	for _, id := range r.Contributors {
		if related[id] {
			fmt.Fprintf(&b, "- %s (earlier run)\n", id)
		} else {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	return b.String()
}

// WriteMarkdown renders r into dir/<name>.md and returns the path.
func WriteMarkdown(dir, name string, r *types.SynthesisReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(RenderMarkdown(r)), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// UnknownCitations returns the sorted citation keys in markdown that are
// not in known.
func UnknownCitations(markdown string, known []string) []string {
	knownKeys := make(map[string]bool, len(known))
	for _, k := range known {
		knownKeys[k] = true
	}

	seen := make(map[string]bool)
	for _, key := range extractCitationKeys(markdown) {
		if !knownKeys[key] {
			seen[key] = true
		}
	}

	var missing []string
	for key := range seen {
		missing = append(missing, key)
	}
	sort.Strings(missing)
	return missing
}

// CheckCitations renders r and returns any cited key that is not one of
// its contributors.
func CheckCitations(r *types.SynthesisReport) []string {
	return UnknownCitations(RenderMarkdown(r), r.Contributors)
}

// extractCitationKeys finds all citation keys in text. It handles both single
// citations [ID] and multi-citations [ID1; ID2].
func extractCitationKeys(text string) []string {
	var keys []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		for _, p := range strings.Split(m[1], ";") {
			key := strings.TrimSpace(p)
			if key != "" && isCitationKey(key) {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// isCitationKey reports whether s looks like a paper ID. It rejects
// Markdown link text and other bracketed prose.
func isCitationKey(s string) bool {
	hasDigit := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return hasDigit
}
