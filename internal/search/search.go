// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search is the retrieval boundary: it turns a topic query into an
// ordered list of candidate papers.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/pdiddy/litreview/pkg/types"
)

// Source searches one paper repository. Results keep the repository's
// relevance order.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]types.Candidate, error)
}

// Deduplicate drops candidates that repeat an earlier paper ID or
// normalized title. The first occurrence keeps its position.
func Deduplicate(cands []types.Candidate) ([]types.Candidate, int) {
	seen := make(map[string]bool)
	var out []types.Candidate
	removed := 0

	for _, c := range cands {
		idKey := "id:" + c.PaperID
		titleKey := "title:" + normalizeTitle(c.Title)
		if (c.PaperID != "" && seen[idKey]) || (titleKey != "title:" && seen[titleKey]) {
			removed++
			continue
		}
		if c.PaperID != "" {
			seen[idKey] = true
		}
		if titleKey != "title:" {
			seen[titleKey] = true
		}
		out = append(out, c)
	}
	return out, removed
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// isArxivID returns true if the string looks like a new-style arXiv ID (e.g. "2301.07041").
func isArxivID(s string) bool {
	if len(s) < 9 {
		return false
	}
	return s[4] == '.' && s[0] >= '0' && s[0] <= '9'
}

// FormatTable writes candidates as a human-readable table to w.
func FormatTable(cands []types.Candidate, w io.Writer) {
	if len(cands) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-16s  %-60s  %-20s  %s\n", "Rank", "ID", "Title", "Authors", "Year")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for i, c := range cands {
		year := ""
		if !c.Published.IsZero() {
			year = fmt.Sprintf("%d", c.Published.Year())
		}
		fmt.Fprintf(w, "%-4d  %-16s  %-60s  %-20s  %s\n",
			i+1, truncate(c.PaperID, 16), truncate(c.Title, 60), formatAuthors(c.Authors), year)
	}
	fmt.Fprintf(w, "\n%d results\n", len(cands))
}

// FormatJSON writes candidates as indented JSON to w.
func FormatJSON(cands []types.Candidate, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cands)
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return truncate(authors[0], 20)
	default:
		return truncate(authors[0], 14) + " et al."
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
