package port

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingModel is implemented by embedders that know their output shape.
type EmbeddingModel interface {
	Embedder

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex holds one partition of chunk vectors per document.
type VectorIndex interface {
	// Replace atomically publishes a new partition for docID.
	Replace(docID string, entries []VectorEntry) error

	// Add appends a single entry to the live partition of docID.
	Add(docID string, entry VectorEntry) error

	// Search returns at most k entries of docID, best first.
	Search(docID string, query []float32, k int) ([]VectorResult, error)

	Remove(docID string)

	Has(docID string) bool

	// Generation changes every time the partition of docID is replaced or removed.
	Generation(docID string) uint64
}

// VectorEntry is a chunk vector to be indexed.
type VectorEntry struct {
	ChunkID  string
	Ordinal  int
	Vector   []float32
	Metadata map[string]string // chunk text is kept under "text"
}

// VectorResult represents a search result.
type VectorResult struct {
	ChunkID  string
	Ordinal  int
	Score    float64 // cosine similarity, higher is better
	Metadata map[string]string
}
