// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litreview/internal/httputil"
	"github.com/pdiddy/litreview/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType IdentifierType
		wantNorm string
	}{
		{"arxiv bare", "2301.07041", TypeArxiv, "2301.07041"},
		{"arxiv prefixed", "arXiv:2301.07041", TypeArxiv, "2301.07041"},
		{"arxiv versioned", "2301.07041v2", TypeArxiv, "2301.07041v2"},
		{"arxiv five digit", "2301.12345", TypeArxiv, "2301.12345"},
		{"doi simple", "10.1145/1234567.1234568", TypeDOI, "10.1145/1234567.1234568"},
		{"doi nature", "10.1038/s41586-024-07487-w", TypeDOI, "10.1038/s41586-024-07487-w"},
		{"url https", "https://example.com/paper.pdf", TypeURL, "https://example.com/paper.pdf"},
		{"url http", "http://example.com/paper.pdf", TypeURL, "http://example.com/paper.pdf"},
		{"unknown bare word", "not-an-id", TypeUnknown, "not-an-id"},
		{"unknown empty", "", TypeUnknown, ""},
		{"whitespace trimmed", "  2301.07041  ", TypeArxiv, "2301.07041"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotNorm := Classify(tt.input)
			if gotType != tt.wantType {
				t.Errorf("Classify(%q) type = %v, want %v", tt.input, gotType, tt.wantType)
			}
			if gotNorm != tt.wantNorm {
				t.Errorf("Classify(%q) norm = %q, want %q", tt.input, gotNorm, tt.wantNorm)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name     string
		idType   IdentifierType
		norm     string
		wantSlug string
	}{
		{"arxiv", TypeArxiv, "2301.07041", "2301.07041"},
		{"arxiv versioned", TypeArxiv, "2301.07041v3", "2301.07041"},
		{"doi", TypeDOI, "10.1145/1234567.1234568", "10.1145-1234567.1234568"},
		{"arxiv pdf url", TypeURL, "https://arxiv.org/pdf/1706.03762v5", "1706.03762"},
		{"arxiv pdf url with suffix", TypeURL, "https://arxiv.org/pdf/1706.03762v5.pdf", "1706.03762"},
		{"arxiv abs url", TypeURL, "https://arxiv.org/abs/1706.03762", "1706.03762"},
		{"url with filename", TypeURL, "https://example.com/download.pdf", urlHashSlug("https://example.com/download.pdf")},
		{"url no filename", TypeURL, "https://example.com/", urlHashSlug("https://example.com/")},
		{"unknown", TypeUnknown, "x y", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slug(tt.idType, tt.norm)
			if got != tt.wantSlug {
				t.Errorf("Slug(%v, %q) = %q, want %q", tt.idType, tt.norm, got, tt.wantSlug)
			}
		})
	}
}

func TestPDFURL(t *testing.T) {
	tests := []struct {
		name    string
		idType  IdentifierType
		norm    string
		wantURL string
	}{
		{"arxiv", TypeArxiv, "2301.07041", arxivPDFBase + "2301.07041"},
		{"doi", TypeDOI, "10.1145/1234567", doiBase + "10.1145/1234567"},
		{"url passthrough", TypeURL, "https://example.com/paper.pdf", "https://example.com/paper.pdf"},
		{"unknown empty", TypeUnknown, "foo", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PDFURL(tt.idType, tt.norm)
			if got != tt.wantURL {
				t.Errorf("PDFURL(%v, %q) = %q, want %q", tt.idType, tt.norm, got, tt.wantURL)
			}
		})
	}
}

func TestCanonicalID(t *testing.T) {
	assert.Equal(t, "2301.07041", CanonicalID(types.Candidate{PaperID: "arXiv:2301.07041v2"}))
	assert.Equal(t, "10.1145-1234567", CanonicalID(types.Candidate{PaperID: "10.1145/1234567"}))
	assert.Equal(t, "paper-7", CanonicalID(types.Candidate{PaperID: "paper-7"}))
	assert.Equal(t, "1706.03762", CanonicalID(types.Candidate{PaperID: "https://arxiv.org/abs/1706.03762v5"}))
	assert.Equal(t, "1706.03762", CanonicalID(types.Candidate{PaperID: "https://arxiv.org/pdf/1706.03762v5.pdf"}))
	assert.Empty(t, CanonicalID(types.Candidate{PaperID: "a paper with spaces"}))
	assert.Empty(t, CanonicalID(types.Candidate{}))
}

func TestContentID(t *testing.T) {
	a := ContentID([]byte("%PDF-1.4 a"))
	assert.True(t, strings.HasPrefix(a, "sha256-"))
	assert.Equal(t, a, ContentID([]byte("%PDF-1.4 a")))
	assert.NotEqual(t, a, ContentID([]byte("%PDF-1.4 b")))
}

const fakePDFContent = "%PDF-1.4 fake"

func newCountingServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/pdf/"):
			assert.Equal(t, "litreview-test/0.1", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, fakePDFContent)
		case r.URL.Path == "/html":
			fmt.Fprint(w, "<html>captcha</html>")
		case r.URL.Path == "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
}

func testFetcher(ts *httptest.Server, dir string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:     ts.Client(),
		UserAgent:  "litreview-test/0.1",
		PapersDir:  dir,
		MaxRetries: 1,
	}
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	var calls int32
	ts := newCountingServer(t, &calls)
	defer ts.Close()

	dir := t.TempDir()
	f := testFetcher(ts, dir)
	c := types.Candidate{PaperID: "2301.07041", Title: "Test Paper", URL: ts.URL + "/pdf/2301.07041"}

	_, cached := f.Cached(c)
	assert.False(t, cached)

	data, err := f.Fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, fakePDFContent, string(data))

	cachedMeta, cached := f.Cached(types.Candidate{PaperID: "https://arxiv.org/abs/2301.07041v2"})
	require.True(t, cached, "another form of the same identifier finds the download")
	assert.Equal(t, "Test Paper", cachedMeta.Title)

	pdfPath := filepath.Join(dir, rawDir, "2301.07041.pdf")
	onDisk, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.Equal(t, fakePDFContent, string(onDisk))

	meta, err := ReadMetadata(filepath.Join(dir, metadataDir, "2301.07041.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Test Paper", meta.Title)
	assert.Equal(t, len(fakePDFContent), meta.Size)

	// Second fetch is served from disk.
	data, err = f.Fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, fakePDFContent, string(data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	entries, err := os.ReadDir(filepath.Join(dir, rawDir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestFetchResolvesURLFromIdentifier(t *testing.T) {
	var calls int32
	ts := newCountingServer(t, &calls)
	defer ts.Close()

	orig := arxivPDFBase
	arxivPDFBase = ts.URL + "/pdf/"
	defer func() { arxivPDFBase = orig }()

	f := testFetcher(ts, t.TempDir())
	data, err := f.Fetch(context.Background(), types.Candidate{PaperID: "1706.03762"})
	require.NoError(t, err)
	assert.Equal(t, fakePDFContent, string(data))
}

func TestFetchErrors(t *testing.T) {
	var calls int32
	ts := newCountingServer(t, &calls)
	defer ts.Close()

	tests := []struct {
		name          string
		cand          types.Candidate
		wantTransient bool
	}{
		{"not found", types.Candidate{PaperID: "p1", URL: ts.URL + "/missing"}, false},
		{"not a pdf", types.Candidate{PaperID: "p2", URL: ts.URL + "/html"}, false},
		{"no url", types.Candidate{PaperID: "no-url"}, false},
		{"service unavailable", types.Candidate{PaperID: "p3", URL: ts.URL + "/busy"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := testFetcher(ts, dir).Fetch(context.Background(), tt.cand)
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, types.IsTransient(err), "%v", err)

			_, statErr := os.Stat(filepath.Join(dir, rawDir, tt.cand.PaperID+".pdf"))
			assert.True(t, os.IsNotExist(statErr), "failed fetch must not leave a cached file")
		})
	}
}

func TestFetchCancelled(t *testing.T) {
	var calls int32
	ts := newCountingServer(t, &calls)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testFetcher(ts, t.TempDir()).Fetch(ctx, types.Candidate{PaperID: "x", URL: ts.URL + "/pdf/x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestFetchKeysUnusableIdentifierByURL(t *testing.T) {
	var calls int32
	ts := newCountingServer(t, &calls)
	defer ts.Close()

	f := testFetcher(ts, t.TempDir())
	c := types.Candidate{PaperID: "weird id/with spaces", URL: ts.URL + "/pdf/weird"}
	_, err := f.Fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, urlHashSlug(c.URL)+".pdf", filepath.Base(f.PDFPath(c)))
}
