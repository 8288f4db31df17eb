// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pdiddy/litreview/pkg/types"
)

// Cosine returns the cosine similarity of a and b in [-1, 1]. It returns 0
// when either vector has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding drift.
	return math.Max(-1, math.Min(1, c))
}

type key struct {
	paperID string
	role    types.SectionRole
}

type indexed struct {
	key
	position int64
	vector   []float32
}

// vectorIndex is a brute-force cosine index held in memory.
type vectorIndex struct {
	mu      sync.RWMutex
	dim     int
	entries []indexed
	byKey   map[key]int
}

func newVectorIndex(dim int) *vectorIndex {
	return &vectorIndex{dim: dim, byKey: make(map[key]int)}
}

func (x *vectorIndex) dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

func (x *vectorIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// replacePaper drops all vectors for paperID and appends recs.
func (x *vectorIndex) replacePaper(paperID string, recs []types.EmbeddingRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()

	kept := x.entries[:0]
	for _, e := range x.entries {
		if e.paperID != paperID {
			kept = append(kept, e)
		}
	}
	x.entries = kept
	for _, r := range recs {
		x.entries = append(x.entries, indexed{key: key{r.PaperID, r.Role}, position: r.Position, vector: r.Vector})
		if x.dim == 0 {
			x.dim = len(r.Vector)
		}
	}
	x.reindex()
}

// upsert replaces the vector for one (paper, role).
func (x *vectorIndex) upsert(r types.EmbeddingRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()

	k := key{r.PaperID, r.Role}
	if i, ok := x.byKey[k]; ok {
		x.entries = append(x.entries[:i], x.entries[i+1:]...)
	}
	x.entries = append(x.entries, indexed{key: k, position: r.Position, vector: r.Vector})
	if x.dim == 0 {
		x.dim = len(r.Vector)
	}
	x.reindex()
}

func (x *vectorIndex) reset(recs []types.EmbeddingRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.entries = x.entries[:0]
	for _, r := range recs {
		x.entries = append(x.entries, indexed{key: key{r.PaperID, r.Role}, position: r.Position, vector: r.Vector})
	}
	sort.Slice(x.entries, func(i, j int) bool { return x.entries[i].position < x.entries[j].position })
	x.reindex()
}

func (x *vectorIndex) reindex() {
	x.byKey = make(map[key]int, len(x.entries))
	for i, e := range x.entries {
		x.byKey[e.key] = i
	}
}

func (x *vectorIndex) has(paperID string, role types.SectionRole) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byKey[key{paperID, role}]
	return ok
}

// search ranks every vector against q.
func (x *vectorIndex) search(q []float32, topK int) []types.Neighbor {
	x.mu.RLock()
	type scored struct {
		key
		position int64
		sim      float64
	}
	all := make([]scored, len(x.entries))
	for i, e := range x.entries {
		all[i] = scored{key: e.key, position: e.position, sim: Cosine(q, e.vector)}
	}
	x.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].sim != all[j].sim {
			return all[i].sim > all[j].sim
		}
		return all[i].position < all[j].position
	})
	if topK < len(all) {
		all = all[:topK]
	}
	out := make([]types.Neighbor, len(all))
	for i, s := range all {
		out[i] = types.Neighbor{PaperID: s.paperID, Role: s.role, Similarity: s.sim}
	}
	return out
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has invalid length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
