// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/pdiddy/litreview/pkg/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Underline(true)
	bucketStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	citeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	noticeStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("147"))
)

const defaultWidth = 100

// terminalWidth returns $COLUMNS when set, else a fixed width.
func terminalWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 20 {
		return n
	}
	return defaultWidth
}

// renderCounts prints the outcome tally and each failed paper's reason.
func renderCounts(w io.Writer, qc *types.QueryContext) {
	fmt.Fprintf(w, "%s  %s  %s\n",
		successStyle.Render(fmt.Sprintf("%d succeeded", qc.Count(types.OutcomeSuccess))),
		failedStyle.Render(fmt.Sprintf("%d failed", qc.Count(types.OutcomeFailed))),
		skippedStyle.Render(fmt.Sprintf("%d skipped", qc.Count(types.OutcomeSkipped))))
	for _, o := range qc.Outcomes {
		if o.Kind == types.OutcomeFailed {
			fmt.Fprintf(w, "  %s %s: %s\n", failedStyle.Render("✗"), o.PaperID, o.Reason)
		}
	}
	if qc.Evaluation.Scored > 0 {
		fmt.Fprintf(w, "mean summary fidelity %.3f over %d sections (%d unscored)\n",
			qc.Evaluation.MeanScore, qc.Evaluation.Scored, qc.Evaluation.Unscored)
	}
	for _, warn := range qc.RetrievalWarnings {
		fmt.Fprintf(w, "%s\n", noticeStyle.Render("retrieval warning: "+warn))
	}
	fmt.Fprintln(w)
}

// renderReport prints the four buckets with word-wrapped claims.
func renderReport(w io.Writer, r *types.SynthesisReport, width int) {
	fmt.Fprintln(w, titleStyle.Render("Literature review: "+r.Query))
	fmt.Fprintln(w)
	if r.Empty() {
		fmt.Fprintln(w, noticeStyle.Render("No paper contributed to this review: every candidate failed or none was found."))
		return
	}
	if r.Fallback {
		fmt.Fprintln(w, noticeStyle.Render("Some sections were assembled directly from paper summaries because generation failed."))
		fmt.Fprintln(w)
	}

	for _, b := range types.AllBuckets() {
		fmt.Fprintln(w, bucketStyle.Render(b.Title()))
		claims := r.Claims(b)
		if len(claims) == 0 {
			fmt.Fprintln(w, indent.String(citeStyle.Render("(nothing reported)"), 2))
		}
		for _, c := range claims {
			body := wordwrap.String(c.Text, width-4)
			body = "- " + indent.String(body, 2)[2:]
			fmt.Fprintln(w, indent.String(body, 2))
			fmt.Fprintln(w, indent.String(citeStyle.Render("["+strings.Join(c.PaperIDs, "; ")+"]"), 4))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s %s\n", bucketStyle.Render("Papers:"), strings.Join(r.Contributors, ", "))
	if len(r.RelatedPaperIDs) > 0 {
		fmt.Fprintf(w, "%s %s\n", citeStyle.Render("from earlier runs:"), strings.Join(r.RelatedPaperIDs, ", "))
	}
}
