// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/pdiddy/litreview/pkg/types"
)

// IdentifierType classifies an input identifier.
type IdentifierType int

const (
	TypeUnknown IdentifierType = iota
	TypeArxiv
	TypeDOI
	TypeURL
)

func (t IdentifierType) String() string {
	switch t {
	case TypeArxiv:
		return "arxiv"
	case TypeDOI:
		return "doi"
	case TypeURL:
		return "url"
	default:
		return "unknown"
	}
}

// Base URLs for identifier resolution. Declared as vars so tests can
// substitute httptest servers.
var (
	arxivPDFBase = "https://arxiv.org/pdf/"
	doiBase      = "https://doi.org/"
)

// arxivPattern matches arXiv IDs: "2301.07041", "arXiv:2301.07041", "2301.07041v2".
var arxivPattern = regexp.MustCompile(`^(?:arXiv:)?(\d{4}\.\d{4,5}(?:v\d+)?)$`)

// arxivVersion matches the trailing version of an arXiv ID.
var arxivVersion = regexp.MustCompile(`v\d+$`)

// doiPattern matches DOIs: "10.1145/1234567.1234568".
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/[^\s]+$`)

// safeID matches identifiers that are already usable as file stems.
var safeID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Classify determines the identifier type and returns the normalized form.
// For arXiv, it strips the optional "arXiv:" prefix.
func Classify(identifier string) (IdentifierType, string) {
	identifier = strings.TrimSpace(identifier)

	if m := arxivPattern.FindStringSubmatch(identifier); m != nil {
		return TypeArxiv, m[1]
	}

	if doiPattern.MatchString(identifier) {
		return TypeDOI, identifier
	}

	if u, err := url.Parse(identifier); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return TypeURL, identifier
	}

	return TypeUnknown, identifier
}

// Slug returns a filesystem-safe filename stem for the identifier.
func Slug(idType IdentifierType, normalized string) string {
	switch idType {
	case TypeArxiv:
		return arxivVersion.ReplaceAllString(normalized, "")
	case TypeDOI:
		return strings.NewReplacer("/", "-", ":", "-").Replace(normalized)
	case TypeURL:
		u, err := url.Parse(normalized)
		if err != nil {
			return urlHashSlug(normalized)
		}
		// arXiv IDs contain a dot, so only a literal .pdf suffix is stripped.
		base := path.Base(u.Path)
		if strings.EqualFold(path.Ext(base), ".pdf") {
			base = base[:len(base)-len(".pdf")]
		}
		if m := arxivPattern.FindStringSubmatch(base); m != nil {
			return arxivVersion.ReplaceAllString(m[1], "")
		}
		return urlHashSlug(normalized)
	default:
		return ""
	}
}

// PDFURL returns the download URL for the identifier. For arXiv, this is
// the arxiv.org PDF endpoint. For DOI, this is the doi.org resolver
// (the HTTP client follows redirects). For direct URLs, it returns as-is.
func PDFURL(idType IdentifierType, normalized string) string {
	switch idType {
	case TypeArxiv:
		return arxivPDFBase + normalized
	case TypeDOI:
		return doiBase + normalized
	case TypeURL:
		return normalized
	default:
		return ""
	}
}

// CanonicalID derives the paper's canonical identifier from the source
// identifier. arXiv versions collapse to one paper. It returns "" when the
// identifier is unusable and the caller must fall back to ContentID.
func CanonicalID(c types.Candidate) string {
	idType, norm := Classify(c.PaperID)
	switch idType {
	case TypeArxiv, TypeDOI, TypeURL:
		return Slug(idType, norm)
	}
	if safeID.MatchString(c.PaperID) {
		return c.PaperID
	}
	return ""
}

// ContentID is the canonical identifier for a document whose source
// identifier is unusable: a SHA-256 prefix of its bytes.
func ContentID(doc []byte) string {
	h := sha256.Sum256(doc)
	return fmt.Sprintf("sha256-%x", h[:12])
}

// DownloadURL returns the candidate's URL, or one resolved from its
// identifier when the source gave none.
func DownloadURL(c types.Candidate) string {
	if c.URL != "" {
		return c.URL
	}
	return PDFURL(Classify(c.PaperID))
}

func urlHashSlug(rawURL string) string {
	h := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("url-%x", h[:8])
}
