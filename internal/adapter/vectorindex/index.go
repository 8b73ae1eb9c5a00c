package vectorindex

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"docqa/internal/port"
)

var (
	ErrDocumentNotIndexed = errors.New("document not indexed")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

var _ port.VectorIndex = (*Index)(nil)

// Index keeps one immutable partition per document. Writers build a new
// partition and swap the pointer; readers grab the pointer under a read lock
// and score without holding it, so a search never observes a half-written
// partition and never blocks ingestion of another document.
type Index struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	dimension  atomic.Int64
	nextGen    atomic.Uint64
}

type partition struct {
	gen     uint64
	entries []entry // ordered by ordinal
}

type entry struct {
	chunkID  string
	ordinal  int
	unit     []float32
	metadata map[string]string
}

// New returns an empty index. A zero dimension is taken from the first
// vector inserted.
func New(dimension int) *Index {
	idx := &Index{partitions: make(map[string]*partition)}
	idx.dimension.Store(int64(dimension))
	return idx
}

func (x *Index) Dimension() int {
	return int(x.dimension.Load())
}

func (x *Index) Replace(docID string, entries []port.VectorEntry) error {
	built := make([]entry, 0, len(entries))
	for _, e := range entries {
		u, err := x.normalize(e.Vector)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		built = append(built, entry{chunkID: e.ChunkID, ordinal: e.Ordinal, unit: u, metadata: e.Metadata})
	}
	slices.SortStableFunc(built, func(a, b entry) int { return cmp.Compare(a.ordinal, b.ordinal) })

	p := &partition{gen: x.nextGen.Add(1), entries: built}

	x.mu.Lock()
	x.partitions[docID] = p
	x.mu.Unlock()
	return nil
}

func (x *Index) Add(docID string, e port.VectorEntry) error {
	u, err := x.normalize(e.Vector)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", e.ChunkID, err)
	}
	added := entry{chunkID: e.ChunkID, ordinal: e.Ordinal, unit: u, metadata: e.Metadata}

	x.mu.Lock()
	defer x.mu.Unlock()

	var entries []entry
	if old, ok := x.partitions[docID]; ok {
		entries = make([]entry, 0, len(old.entries)+1)
		for _, existing := range old.entries {
			if existing.chunkID != added.chunkID {
				entries = append(entries, existing)
			}
		}
	}
	entries = append(entries, added)
	slices.SortStableFunc(entries, func(a, b entry) int { return cmp.Compare(a.ordinal, b.ordinal) })

	x.partitions[docID] = &partition{gen: x.nextGen.Add(1), entries: entries}
	return nil
}

// Search returns up to k entries of docID, highest cosine similarity first.
// Equal scores are ordered by ascending ordinal.
func (x *Index) Search(docID string, query []float32, k int) ([]port.VectorResult, error) {
	x.mu.RLock()
	p, ok := x.partitions[docID]
	x.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotIndexed, docID)
	}
	if k <= 0 || len(p.entries) == 0 {
		return []port.VectorResult{}, nil
	}

	q, err := x.normalize(query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	type scored struct {
		e     *entry
		score float64
	}
	scores := make([]scored, len(p.entries))
	for i := range p.entries {
		scores[i] = scored{e: &p.entries[i], score: dot(q, p.entries[i].unit)}
	}
	slices.SortFunc(scores, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.e.ordinal, b.e.ordinal)
	})

	k = min(k, len(scores))
	results := make([]port.VectorResult, k)
	for i := 0; i < k; i++ {
		results[i] = port.VectorResult{
			ChunkID:  scores[i].e.chunkID,
			Ordinal:  scores[i].e.ordinal,
			Score:    scores[i].score,
			Metadata: scores[i].e.metadata,
		}
	}
	return results, nil
}

func (x *Index) Remove(docID string) {
	x.mu.Lock()
	delete(x.partitions, docID)
	x.mu.Unlock()
}

func (x *Index) Has(docID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.partitions[docID]
	return ok
}

// Generation identifies the live partition of docID. It is zero when the
// document is not indexed and never repeats for a given index.
func (x *Index) Generation(docID string) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if p, ok := x.partitions[docID]; ok {
		return p.gen
	}
	return 0
}

// Len returns the number of entries in the partition of docID.
func (x *Index) Len(docID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if p, ok := x.partitions[docID]; ok {
		return len(p.entries)
	}
	return 0
}

// normalize checks v against the index dimension, fixing it on first use,
// and returns a unit-length copy. Zero vectors stay zero and score 0
// against everything.
func (x *Index) normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	x.dimension.CompareAndSwap(0, int64(len(v)))
	if want := x.Dimension(); len(v) != want {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, len(v))
	}

	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out, nil
	}
	inv := 1 / math.Sqrt(norm)
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
