package port

import (
	"context"

	"docqa/internal/domain"
)

// Gateway is the durable store of documents, chunks, sessions and turns.
// Missing records are reported with domain.ErrDocumentNotFound or
// domain.ErrSessionNotFound.
type Gateway interface {
	// SaveDocument stores doc and replaces its whole chunk set in one transaction.
	SaveDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	// LoadChunks returns the chunks of docID ordered by ordinal, vectors included.
	LoadChunks(ctx context.Context, docID string) ([]domain.Chunk, error)
	// DeleteDocument removes the document with its chunks, sessions and turns.
	DeleteDocument(ctx context.Context, id string) error

	SaveSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, docID string) ([]domain.Session, error)

	// SaveTurn appends a turn and bumps the session's LastActive.
	SaveTurn(ctx context.Context, t domain.Turn) error
	LoadTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	DeleteTurns(ctx context.Context, sessionID string) error

	Close() error
}
