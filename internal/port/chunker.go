package port

import "docqa/internal/domain"

type Chunker interface {
	Chunk(docID string, text string) ([]domain.Chunk, error)
}
