package domain

import "time"

// NoAnswer is the reply when the retrieved context does not cover the question.
const NoAnswer = "I don't have enough information to answer this question."

// Document is an uploaded source whose text has been extracted.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Text        string    `json:"-"`
	ChunkCount  int       `json:"chunk_count"`
	Fingerprint string    `json:"-"` // chunking+embedding settings the stored vectors were built with
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is a contiguous span of a document's text. Start and End are rune
// offsets into Document.Text, End exclusive.
type Chunk struct {
	ID      string    `json:"id"`
	DocID   string    `json:"document_id"`
	Ordinal int       `json:"ordinal"`
	Start   int       `json:"start"`
	End     int       `json:"end"`
	Text    string    `json:"text"`
	Vector  []float32 `json:"-"`
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Session is a conversation about exactly one document.
type Session struct {
	ID         string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_activity"`
}

// Turn is one answered question. Turns are append-only and Index is
// contiguous from zero within a session.
type Turn struct {
	SessionID      string    `json:"session_id"`
	Index          int       `json:"index"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	SourceChunkIDs []string  `json:"source_chunk_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueryState is a step of the retrieval chain.
type QueryState string

const (
	StateReceived   QueryState = "received"
	StateEmbedding  QueryState = "embedding"
	StateRetrieving QueryState = "retrieving"
	StateComposing  QueryState = "composing"
	StateGenerating QueryState = "generating"
	StateCompleted  QueryState = "completed"
	StateFailed     QueryState = "failed"
)
