// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// SectionRole is one of the fixed structural parts of a paper. The set is
// closed; every stage switches over it exhaustively. RoleOverall is the one
// derived role: it is summarized from other sections, never extracted.
type SectionRole string

const (
	RoleTitle        SectionRole = "title"
	RoleAbstract     SectionRole = "abstract"
	RoleIntroduction SectionRole = "introduction"
	RoleMethodology  SectionRole = "methodology"
	RoleResults      SectionRole = "results"
	RoleConclusion   SectionRole = "conclusion"

	RoleOverall SectionRole = "overall"
)

var allRoles = []SectionRole{
	RoleTitle,
	RoleAbstract,
	RoleIntroduction,
	RoleMethodology,
	RoleResults,
	RoleConclusion,
}

// AllRoles returns the extracted section roles in processing order.
func AllRoles() []SectionRole {
	out := make([]SectionRole, len(allRoles))
	copy(out, allRoles)
	return out
}

// StoredRoles returns every role a stored summary can carry: the
// extracted roles followed by RoleOverall.
func StoredRoles() []SectionRole {
	return append(AllRoles(), RoleOverall)
}

// OverallSources lists the sections an overall summary is drawn from.
func OverallSources() []SectionRole {
	return []SectionRole{RoleTitle, RoleAbstract, RoleIntroduction}
}

// Valid reports whether r is a member of the closed role set.
func (r SectionRole) Valid() bool {
	if r == RoleOverall {
		return true
	}
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseSectionRole converts a string to a SectionRole, case-insensitively.
func ParseSectionRole(s string) (SectionRole, error) {
	r := SectionRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown section role %q", s)
	}
	return r, nil
}
