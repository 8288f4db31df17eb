// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"regexp"
	"strings"

	"github.com/pdiddy/litreview/pkg/types"
)

// headingNumber matches section numbering such as "1", "2.1.", "III." or "A.".
var headingNumber = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[IVXivx]+\.|[A-H]\.)\s+`)

// inlineAbstract matches "Abstract: text" or "Abstract— text" on one line.
var inlineAbstract = regexp.MustCompile(`(?i)^abstract\s*[:.\x{2014}\x{2013}-]\s*(.+)$`)

// maxHeadingLen bounds how long a line can be and still count as a heading.
const maxHeadingLen = 60

// headingRoles maps normalized heading text to a role. A mapping to ""
// ends the current section without starting a tracked one.
var headingRoles = map[string]types.SectionRole{
	"abstract":                    types.RoleAbstract,
	"introduction":                types.RoleIntroduction,
	"background":                  types.RoleIntroduction,
	"method":                      types.RoleMethodology,
	"methods":                     types.RoleMethodology,
	"methodology":                 types.RoleMethodology,
	"materials and methods":       types.RoleMethodology,
	"approach":                    types.RoleMethodology,
	"our approach":                types.RoleMethodology,
	"proposed method":             types.RoleMethodology,
	"model":                       types.RoleMethodology,
	"results":                     types.RoleResults,
	"experiments":                 types.RoleResults,
	"experimental results":        types.RoleResults,
	"evaluation":                  types.RoleResults,
	"findings":                    types.RoleResults,
	"results and discussion":      types.RoleResults,
	"conclusion":                  types.RoleConclusion,
	"conclusions":                 types.RoleConclusion,
	"conclusion and future work":  types.RoleConclusion,
	"conclusions and future work": types.RoleConclusion,
	"concluding remarks":          types.RoleConclusion,
	"discussion and conclusion":   types.RoleConclusion,
	"related work":                "",
	"discussion":                  "",
	"references":                  "",
	"bibliography":                "",
	"acknowledgments":             "",
	"acknowledgements":            "",
	"appendix":                    "",
}

// SplitSections assigns the lines of a paper's text to section roles by
// recognizing headings. The title is the first substantial line before
// any heading. Text under untracked headings (references, appendix) is
// dropped. Only non-empty sections are returned.
func SplitSections(text string) map[types.SectionRole]string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	buf := make(map[types.SectionRole]*strings.Builder)
	add := func(role types.SectionRole, s string) {
		if role == "" {
			return
		}
		b, ok := buf[role]
		if !ok {
			b = &strings.Builder{}
			buf[role] = b
		}
		b.WriteString(s)
		b.WriteString(" ")
	}

	var (
		current     types.SectionRole
		seenHeading bool
		title       string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := inlineAbstract.FindStringSubmatch(trimmed); m != nil {
			current, seenHeading = types.RoleAbstract, true
			add(current, m[1])
			continue
		}
		if role, ok := headingRole(trimmed); ok {
			current, seenHeading = role, true
			continue
		}

		if !seenHeading {
			if t := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); title == "" && isTitleLine(t) {
				title = t
			}
			continue
		}
		add(current, trimmed)
	}

	out := make(map[types.SectionRole]string)
	if title != "" {
		out[types.RoleTitle] = title
	}
	for role, b := range buf {
		if s := collapseSpace(b.String()); s != "" {
			out[role] = s
		}
	}
	return out
}

// headingRole reports whether line is a recognized section heading.
// Markdown heading markers and emphasis are ignored.
func headingRole(line string) (types.SectionRole, bool) {
	if len(line) > maxHeadingLen {
		return "", false
	}
	h := strings.TrimSpace(strings.TrimLeft(line, "#"))
	h = strings.Trim(h, "*_")
	h = headingNumber.ReplaceAllString(h, "")
	h = strings.TrimRight(strings.ToLower(strings.TrimSpace(h)), ":.")
	role, ok := headingRoles[h]
	return role, ok
}

// isTitleLine mirrors the usual first-page layout: the title is a line of
// some length that is not itself a heading.
func isTitleLine(line string) bool {
	if len(line) <= 10 {
		return false
	}
	lower := strings.ToLower(line)
	return !strings.HasPrefix(lower, "abstract") && !strings.HasPrefix(lower, "introduction")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
