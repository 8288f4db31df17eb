// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdiddy/litreview/internal/container"
	"github.com/pdiddy/litreview/pkg/types"
)

// DefaultMarkitdownImage is the conversion image used when none is configured.
const DefaultMarkitdownImage = "markitdown:latest"

// MarkitdownExtractor converts documents to Markdown by piping them through
// a markitdown container, then splits the Markdown into sections. It
// handles layouts the native PDF reader garbles, at the cost of a local
// container runtime.
type MarkitdownExtractor struct {
	runtime container.Runtime
	image   string
}

// NewMarkitdownExtractor checks that image exists in rt before returning.
func NewMarkitdownExtractor(ctx context.Context, rt container.Runtime, image string) (*MarkitdownExtractor, error) {
	if image == "" {
		image = DefaultMarkitdownImage
	}
	if err := rt.ImageExists(ctx, image); err != nil {
		return nil, types.Configf("extraction.image", "%s image not available in %s: %v", image, rt.Name(), err)
	}
	return &MarkitdownExtractor{runtime: rt, image: image}, nil
}

// Extract runs the conversion and splits the result. A container failure
// is an ExtractionError for this paper only.
func (m *MarkitdownExtractor) Extract(ctx context.Context, doc []byte) (map[types.SectionRole]string, error) {
	if len(doc) == 0 {
		return nil, &types.ExtractionError{Err: ErrNoText}
	}
	var out bytes.Buffer
	if err := m.runtime.Run(ctx, m.image, bytes.NewReader(doc), &out); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.ExtractionError{Err: fmt.Errorf("converting with %s: %w", m.image, err)}
	}
	return fromText(out.String())
}

// New builds the extractor selected by cfg.
func New(ctx context.Context, cfg types.ExtractionConfig) (Extractor, error) {
	switch cfg.Backend {
	case "", types.ExtractPDF:
		return &PDFExtractor{}, nil
	case types.ExtractMarkitdown:
		rt, err := container.DetectRuntime(ctx)
		if err != nil {
			return nil, types.Configf("extraction.backend", "%v", err)
		}
		return NewMarkitdownExtractor(ctx, rt, cfg.Image)
	default:
		return nil, types.Configf("extraction.backend", "unknown backend %q", cfg.Backend)
	}
}
