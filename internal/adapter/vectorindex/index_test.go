package vectorindex

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/port"
)

func entries(docID string, vecs ...[]float32) []port.VectorEntry {
	out := make([]port.VectorEntry, len(vecs))
	for i, v := range vecs {
		out[i] = port.VectorEntry{
			ChunkID:  fmt.Sprintf("%s-%d", docID, i),
			Ordinal:  i,
			Vector:   v,
			Metadata: map[string]string{"text": fmt.Sprintf("chunk %d", i)},
		}
	}
	return out
}

func TestIndex_SearchTopK(t *testing.T) {
	idx := New(3)
	require.NoError(t, idx.Replace("doc", entries("doc",
		[]float32{1, 0, 0},
		[]float32{0, 1, 0},
		[]float32{0.8, 0.6, 0},
	)))

	results, err := idx.Search("doc", []float32{1, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc-2", results[0].ChunkID)
	assert.Equal(t, "doc-0", results[1].ChunkID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Equal(t, "chunk 2", results[0].Metadata["text"])
}

func TestIndex_ScoresAreCosine(t *testing.T) {
	idx := New(0)
	require.NoError(t, idx.Replace("doc", entries("doc", []float32{3, 4})))

	results, err := idx.Search("doc", []float32{30, 40}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, 2, idx.Dimension())
}

func TestIndex_TiesBreakByOrdinal(t *testing.T) {
	idx := New(2)
	es := entries("doc", []float32{1, 0}, []float32{1, 0}, []float32{1, 0})
	// insert out of order
	require.NoError(t, idx.Replace("doc", []port.VectorEntry{es[2], es[0], es[1]}))

	results, err := idx.Search("doc", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Ordinal)
	}
}

func TestIndex_KLargerThanPartition(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Replace("doc", entries("doc", []float32{1, 0}, []float32{0, 1})))

	results, err := idx.Search("doc", []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = idx.Search("doc", []float32{1, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_EmptyPartition(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Replace("empty", nil))

	assert.True(t, idx.Has("empty"))
	results, err := idx.Search("empty", []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_UnknownDocument(t *testing.T) {
	idx := New(2)
	_, err := idx.Search("missing", []float32{1, 0}, 4)
	assert.ErrorIs(t, err, ErrDocumentNotIndexed)
	assert.False(t, idx.Has("missing"))
	assert.Zero(t, idx.Generation("missing"))
}

func TestIndex_DimensionMismatch(t *testing.T) {
	idx := New(3)

	err := idx.Replace("doc", entries("doc", []float32{1, 0, 0}, []float32{1, 0}))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.False(t, idx.Has("doc"), "a rejected replace must not publish anything")

	require.NoError(t, idx.Replace("doc", entries("doc", []float32{1, 0, 0})))
	_, err = idx.Search("doc", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = idx.Add("doc", port.VectorEntry{ChunkID: "x", Vector: []float32{}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIndex_ReplaceSwapsWholePartition(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Replace("doc", entries("old", []float32{1, 0}, []float32{0, 1})))
	gen1 := idx.Generation("doc")

	require.NoError(t, idx.Replace("doc", entries("new", []float32{1, 1})))
	gen2 := idx.Generation("doc")
	assert.NotEqual(t, gen1, gen2)

	results, err := idx.Search("doc", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new-0", results[0].ChunkID)
}

func TestIndex_AddAndRemove(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Add("doc", port.VectorEntry{ChunkID: "b", Ordinal: 1, Vector: []float32{0, 1}}))
	require.NoError(t, idx.Add("doc", port.VectorEntry{ChunkID: "a", Ordinal: 0, Vector: []float32{1, 0}}))
	require.NoError(t, idx.Add("doc", port.VectorEntry{ChunkID: "a", Ordinal: 0, Vector: []float32{1, 0}}))
	assert.Equal(t, 2, idx.Len("doc"))

	gen := idx.Generation("doc")
	idx.Remove("doc")
	assert.False(t, idx.Has("doc"))
	_, err := idx.Search("doc", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDocumentNotIndexed)

	require.NoError(t, idx.Replace("doc", nil))
	assert.NotEqual(t, gen, idx.Generation("doc"))
}

func TestIndex_PartitionsIsolatedUnderConcurrency(t *testing.T) {
	idx := New(4)
	docs := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	errs := make(chan error, 1000)
	for _, doc := range docs {
		wg.Add(2)
		go func(doc string) {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				es := entries(doc, []float32{1, 0, 0, 0}, []float32{0, 1, 0, 0}, []float32{0, 0, 1, float32(round)})
				if err := idx.Replace(doc, es); err != nil {
					errs <- err
				}
			}
		}(doc)
		go func(doc string) {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				results, err := idx.Search(doc, []float32{1, 1, 1, 1}, 3)
				if err != nil {
					continue // not yet published
				}
				for _, r := range results {
					if len(r.ChunkID) < 2 || r.ChunkID[:len(doc)+1] != doc+"-" {
						errs <- fmt.Errorf("search on %s returned %s", doc, r.ChunkID)
					}
				}
			}
		}(doc)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
