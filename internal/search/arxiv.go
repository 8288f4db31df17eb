// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/litreview/internal/httputil"
	"github.com/pdiddy/litreview/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// arxivPDFBase is the prefix used when an entry carries no PDF link.
const arxivPDFBase = "https://arxiv.org/pdf/"

// ArxivSource queries the arXiv Atom API.
type ArxivSource struct {
	Client    *http.Client
	UserAgent string

	// BaseURL overrides arxivAPIBase when set.
	BaseURL string

	// MaxRetries bounds rate-limit retries inside one call.
	MaxRetries int
}

// NewArxivSource builds a source from cfg.
func NewArxivSource(cfg types.SearchConfig) *ArxivSource {
	return &ArxivSource{
		Client:    &http.Client{Timeout: cfg.Timeout},
		UserAgent: cfg.UserAgent,
		BaseURL:   cfg.ArxivBaseURL,
	}
}

// Name returns the source identifier.
func (s *ArxivSource) Name() string { return "arxiv" }

// Search queries arXiv by relevance and returns up to limit candidates.
// Transport failures and 5xx/429 responses are transient.
func (s *ArxivSource) Search(ctx context.Context, query string, limit int) ([]types.Candidate, error) {
	q := buildArxivQuery(query)
	if q == "" {
		return nil, types.Configf("query", "empty arXiv query")
	}
	if limit <= 0 {
		return nil, types.Configf("results", "must be positive, got %d", limit)
	}

	base := s.BaseURL
	if base == "" {
		base = arxivAPIBase
	}
	params := url.Values{}
	params.Set("search_query", q)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(limit))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, types.Permanent("arxiv search", fmt.Errorf("creating request: %w", err))
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, s.MaxRetries)
	if err != nil {
		return nil, httputil.ClassifyError("arxiv search", err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse("arxiv search", resp); err != nil {
		return nil, err
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, types.Transient("arxiv search", fmt.Errorf("parsing arXiv response: %w", err))
	}

	var cands []types.Candidate
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}

		c := types.Candidate{
			PaperID:           arxivID,
			Title:             collapse(entry.Title),
			URL:               entry.pdfLink(),
			ReferenceAbstract: collapse(entry.Summary),
		}
		if c.URL == "" {
			c.URL = arxivPDFBase + arxivID
		}
		for _, a := range entry.Authors {
			c.Authors = append(c.Authors, strings.TrimSpace(a.Name))
		}
		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			c.Published = t
		}
		cands = append(cands, c)
		if len(cands) == limit {
			break
		}
	}
	return cands, nil
}

// buildArxivQuery turns free text into an all-fields AND query.
func buildArxivQuery(q string) string {
	terms := strings.Fields(q)
	if len(terms) == 0 {
		return ""
	}
	return "all:" + strings.Join(terms, " AND all:")
}

// collapse joins the wrapped lines of Atom text fields.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
	Links     []arxivLink   `xml:"link"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (e arxivEntry) pdfLink() string {
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			return l.Href
		}
	}
	return ""
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" -> "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
