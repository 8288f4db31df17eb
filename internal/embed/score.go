// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/pdiddy/litreview/internal/knowledge"
)

// Scorer rates how faithfully candidate reflects reference. Scores lie in
// [0,1].
type Scorer interface {
	Score(ctx context.Context, candidate, reference string) (float64, error)
}

// VectorScorer is implemented by scorers that can rate an already embedded
// candidate, saving a second embedding call for a summary that is stored
// anyway.
type VectorScorer interface {
	ScoreVector(ctx context.Context, candidate []float32, reference string) (float64, error)
}

// CosineScorer scores by cosine similarity of the two embeddings, mapping
// c to max(0, c). Reference vectors are cached because every section of a
// paper is scored against the same abstract.
type CosineScorer struct {
	Embedder Embedder

	refs sync.Map // reference text -> []float32
}

// Score embeds both texts and returns their clamped cosine similarity.
func (s *CosineScorer) Score(ctx context.Context, candidate, reference string) (float64, error) {
	ref, err := s.reference(ctx, reference)
	if err != nil {
		return 0, fmt.Errorf("embedding reference: %w", err)
	}
	cand, err := s.Embedder.Embed(ctx, candidate)
	if err != nil {
		return 0, fmt.Errorf("embedding candidate: %w", err)
	}
	return Clamp(knowledge.Cosine(cand, ref)), nil
}

// ScoreVector compares an existing candidate embedding with the reference.
func (s *CosineScorer) ScoreVector(ctx context.Context, candidate []float32, reference string) (float64, error) {
	ref, err := s.reference(ctx, reference)
	if err != nil {
		return 0, fmt.Errorf("embedding reference: %w", err)
	}
	return Clamp(knowledge.Cosine(candidate, ref)), nil
}

func (s *CosineScorer) reference(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.refs.Load(text); ok {
		return v.([]float32), nil
	}
	v, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.refs.Store(text, v)
	return v, nil
}

// Clamp maps a similarity onto [0,1].
func Clamp(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
