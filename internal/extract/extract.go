// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract recovers the text of a paper and splits it into the
// fixed section roles.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pdiddy/litreview/pkg/types"
)

// Extractor turns raw document bytes into section texts keyed by role.
// Roles the document lacks are absent from the map.
type Extractor interface {
	Extract(ctx context.Context, doc []byte) (map[types.SectionRole]string, error)
}

// ErrNoText marks a document with no recoverable text, typically a
// scanned or image-only PDF.
var ErrNoText = errors.New("no recoverable text")

// PDFExtractor extracts text from PDFs with ledongthuc/pdf.
type PDFExtractor struct{}

// Extract reads every page's plain text and splits it into sections. It
// returns an ExtractionError when the document cannot be parsed or yields
// no text.
func (e *PDFExtractor) Extract(ctx context.Context, doc []byte) (map[types.SectionRole]string, error) {
	text, err := readPDFText(ctx, doc)
	if err != nil {
		return nil, err
	}
	return fromText(text)
}

func fromText(text string) (map[types.SectionRole]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &types.ExtractionError{Err: ErrNoText}
	}
	sections := SplitSections(text)
	if len(sections) == 0 {
		return nil, &types.ExtractionError{Err: fmt.Errorf("%w: no sections identified", ErrNoText)}
	}
	return sections, nil
}

// readPDFText concatenates the plain text of all pages. The pdf package
// panics on some malformed inputs, so panics are converted to errors.
func readPDFText(ctx context.Context, doc []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &types.ExtractionError{Err: fmt.Errorf("parsing PDF: %v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return "", &types.ExtractionError{Err: fmt.Errorf("opening PDF: %w", err)}
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		s, err := p.GetPlainText(nil)
		if err != nil {
			return "", &types.ExtractionError{Err: fmt.Errorf("page %d: %w", i, err)}
		}
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String(), nil
}
