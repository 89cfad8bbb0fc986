package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"shelfcheck/internal/port"
)

// VectorIndex is a brute-force in-memory VectorIndex. Stored entries are
// never mutated in place: an upsert swaps in a new value under the write
// lock, so a concurrent search sees either the old or the new vector.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]*vectorEntry
	seq       uint64
}

type vectorEntry struct {
	vector  []float32
	norm    float64
	storeID string
	fileID  string
	seq     uint64
}

func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{
		dimension: dimension,
		entries:   make(map[string]*vectorEntry),
	}
}

func (x *VectorIndex) Dimension() int {
	return x.dimension
}

// Upsert adds or replaces vectors. A replaced ID keeps its original
// insertion position for tie-breaking.
func (x *VectorIndex) Upsert(_ context.Context, items []port.VectorItem) error {
	if err := x.checkDimensions(items); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, item := range items {
		seq := x.nextSeqLocked(item.ID)
		x.entries[item.ID] = newEntry(item, seq)
	}
	return nil
}

// Restore places vectors with sequence numbers assigned elsewhere, e.g.
// when loading a persisted index.
func (x *VectorIndex) Restore(items []port.VectorItem, seqs []uint64) error {
	if len(items) != len(seqs) {
		return fmt.Errorf("restore: %d items but %d sequence numbers", len(items), len(seqs))
	}
	if err := x.checkDimensions(items); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for i, item := range items {
		x.entries[item.ID] = newEntry(item, seqs[i])
		if seqs[i] > x.seq {
			x.seq = seqs[i]
		}
	}
	return nil
}

func (x *VectorIndex) checkDimensions(items []port.VectorItem) error {
	for _, item := range items {
		if len(item.Vector) != x.dimension {
			return fmt.Errorf("vector dimension mismatch for %s: expected %d, got %d", item.ID, x.dimension, len(item.Vector))
		}
	}
	return nil
}

func (x *VectorIndex) nextSeqLocked(id string) uint64 {
	if existing, ok := x.entries[id]; ok {
		return existing.seq
	}
	x.seq++
	return x.seq
}

func newEntry(item port.VectorItem, seq uint64) *vectorEntry {
	vec := make([]float32, len(item.Vector))
	copy(vec, item.Vector)
	return &vectorEntry{
		vector:  vec,
		norm:    norm(vec),
		storeID: item.StoreID,
		fileID:  item.FileID,
		seq:     seq,
	}
}

// Search ranks every vector in the store (or in all stores when storeID is
// empty) by clamped cosine similarity. Equal scores keep insertion order.
func (x *VectorIndex) Search(_ context.Context, query []float32, storeID string, topK int) ([]port.VectorHit, error) {
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", x.dimension, len(query))
	}
	if topK <= 0 {
		return nil, nil
	}
	qnorm := norm(query)

	type scored struct {
		id  string
		sim float64
		seq uint64
	}

	x.mu.RLock()
	scores := make([]scored, 0, len(x.entries))
	for id, e := range x.entries {
		if storeID != "" && e.storeID != storeID {
			continue
		}
		scores = append(scores, scored{id: id, sim: Similarity(query, qnorm, e.vector, e.norm), seq: e.seq})
	}
	x.mu.RUnlock()

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].sim != scores[j].sim {
			return scores[i].sim > scores[j].sim
		}
		return scores[i].seq < scores[j].seq
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	hits := make([]port.VectorHit, topK)
	for i := 0; i < topK; i++ {
		hits[i] = port.VectorHit{ID: scores[i].id, Similarity: scores[i].sim}
	}
	return hits, nil
}

func (x *VectorIndex) Delete(_ context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.entries, id)
	}
	return nil
}

func (x *VectorIndex) Count(_ context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries), nil
}

// Similarity is cosine similarity clamped to [0,1]. Opposed or orthogonal
// vectors both score 0.
func Similarity(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	if len(a) != len(b) || anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (anorm * bnorm)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
