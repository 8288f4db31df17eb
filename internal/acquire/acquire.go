// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire fetches paper documents for the pipeline. Downloads are
// cached under papers/raw/ so a paper is fetched over the network once.
package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litreview/internal/httputil"
	"github.com/pdiddy/litreview/pkg/types"
)

const (
	rawDir      = "raw"
	metadataDir = "metadata"
)

// pdfMagic is the header every PDF file starts with.
var pdfMagic = []byte("%PDF-")

// Fetcher returns the raw document bytes for a candidate.
type Fetcher interface {
	Fetch(ctx context.Context, c types.Candidate) ([]byte, error)
}

// HTTPFetcher downloads PDFs over HTTP and keeps a copy on disk.
type HTTPFetcher struct {
	Client     *http.Client
	UserAgent  string
	PapersDir  string
	MaxRetries int
}

// NewHTTPFetcher builds a fetcher from cfg.
func NewHTTPFetcher(cfg types.AcquisitionConfig) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: cfg.Timeout},
		UserAgent: cfg.UserAgent,
		PapersDir: cfg.PapersDir,
	}
}

// Metadata is the YAML sidecar written next to each downloaded PDF.
type Metadata struct {
	PaperID    string    `yaml:"paper_id"`
	Title      string    `yaml:"title"`
	Authors    []string  `yaml:"authors,omitempty"`
	Published  time.Time `yaml:"published,omitempty"`
	SourceURL  string    `yaml:"source_url"`
	PDFPath    string    `yaml:"pdf_path"`
	Size       int       `yaml:"size"`
	Downloaded time.Time `yaml:"downloaded"`
}

// PDFPath returns where the document for c is cached.
func (f *HTTPFetcher) PDFPath(c types.Candidate) string {
	return filepath.Join(f.PapersDir, rawDir, cacheKey(c)+".pdf")
}

// Cached returns the metadata sidecar of a previous download of c. It
// reports false when c was never downloaded or the sidecar is unreadable.
func (f *HTTPFetcher) Cached(c types.Candidate) (Metadata, bool) {
	meta, err := ReadMetadata(filepath.Join(f.PapersDir, metadataDir, cacheKey(c)+".yaml"))
	if err != nil {
		return Metadata{}, false
	}
	if _, err := os.Stat(meta.PDFPath); err != nil {
		return Metadata{}, false
	}
	return meta, true
}

// Fetch returns the cached document when present; otherwise it downloads
// the candidate's PDF to a temp file, renames it into place and writes a
// metadata sidecar. 429/5xx and network timeouts are transient; other
// HTTP errors and non-PDF bodies are permanent.
func (f *HTTPFetcher) Fetch(ctx context.Context, c types.Candidate) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdfPath := f.PDFPath(c)
	if data, err := os.ReadFile(pdfPath); err == nil && len(data) > 0 {
		return data, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, types.Permanent("fetch", fmt.Errorf("reading cached %s: %w", pdfPath, err))
	}

	src := DownloadURL(c)
	if src == "" {
		return nil, types.Permanent("fetch", fmt.Errorf("no download URL for %q", c.PaperID))
	}

	for _, dir := range []string{
		filepath.Join(f.PapersDir, rawDir),
		filepath.Join(f.PapersDir, metadataDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.Permanent("fetch", fmt.Errorf("creating directory %s: %w", dir, err))
		}
	}

	data, err := f.download(ctx, src, pdfPath)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		PaperID:    c.PaperID,
		Title:      c.Title,
		Authors:    c.Authors,
		Published:  c.Published,
		SourceURL:  src,
		PDFPath:    pdfPath,
		Size:       len(data),
		Downloaded: time.Now().UTC(),
	}
	metaPath := filepath.Join(f.PapersDir, metadataDir, cacheKey(c)+".yaml")
	if err := writeMetadata(meta, metaPath); err != nil {
		return nil, types.Permanent("fetch", fmt.Errorf("writing metadata for %s: %w", c.PaperID, err))
	}
	return data, nil
}

// download fetches url to destPath using a temporary file so a partial
// transfer is never served from the cache.
func (f *HTTPFetcher) download(ctx context.Context, url, destPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.Permanent("fetch", fmt.Errorf("creating request: %w", err))
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, f.MaxRetries)
	if err != nil {
		return nil, httputil.ClassifyError("fetch", err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse("fetch "+url, resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httputil.ClassifyError("fetch", fmt.Errorf("reading body: %w", err))
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, types.Permanent("fetch", fmt.Errorf("%s did not return a PDF", url))
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".acquire-*.tmp")
	if err != nil {
		return nil, types.Permanent("fetch", fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		return nil, types.Permanent("fetch", fmt.Errorf("writing download: %w", errors.Join(writeErr, closeErr)))
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return nil, types.Permanent("fetch", fmt.Errorf("renaming temp file: %w", err))
	}
	return data, nil
}

// cacheKey names the cached files for c. Candidates without a usable
// identifier are keyed by a hash of their URL.
func cacheKey(c types.Candidate) string {
	if id := CanonicalID(c); id != "" {
		return id
	}
	return urlHashSlug(DownloadURL(c))
}

// writeMetadata writes a metadata record to a YAML file.
func writeMetadata(meta Metadata, path string) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadMetadata reads a metadata sidecar.
func ReadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parsing %s: %w", path, err)
	}
	return meta, nil
}
