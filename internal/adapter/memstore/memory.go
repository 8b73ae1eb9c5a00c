package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/port"
)

var _ port.Gateway = (*MemoryStore)(nil)

// MemoryStore is a Gateway that keeps everything in process. It enforces the
// same referential rules as the durable stores so tests exercise the same
// failure paths.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]domain.Document
	chunks   map[string][]domain.Chunk
	sessions map[string]domain.Session
	turns    map[string][]domain.Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]domain.Document),
		chunks:   make(map[string][]domain.Chunk),
		sessions: make(map[string]domain.Session),
		turns:    make(map[string][]domain.Turn),
	}
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc domain.Document, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ChunkCount = len(chunks)
	s.docs[doc.ID] = doc
	s.chunks[doc.ID] = cloneChunks(chunks)
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	slices.SortFunc(docs, func(a, b domain.Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return docs, nil
}

func (s *MemoryStore) LoadChunks(_ context.Context, docID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[docID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, docID)
	}
	return cloneChunks(s.chunks[docID]), nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	for sid, sess := range s.sessions {
		if sess.DocumentID == id {
			delete(s.sessions, sid)
			delete(s.turns, sid)
		}
	}
	return nil
}

func (s *MemoryStore) SaveSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[sess.DocumentID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, sess.DocumentID)
	}
	if existing, ok := s.sessions[sess.ID]; ok && existing.DocumentID != sess.DocumentID {
		return fmt.Errorf("%w: %s", domain.ErrSessionMismatch, sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, docID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.DocumentID == docID {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b domain.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) SaveTurn(_ context.Context, t domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[t.SessionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, t.SessionID)
	}
	if t.Index != len(s.turns[t.SessionID]) {
		return fmt.Errorf("turn %d out of sequence for session %s", t.Index, t.SessionID)
	}
	t.SourceChunkIDs = slices.Clone(t.SourceChunkIDs)
	s.turns[t.SessionID] = append(s.turns[t.SessionID], t)
	if t.CreatedAt.After(sess.LastActive) {
		sess.LastActive = t.CreatedAt
		s.sessions[t.SessionID] = sess
	}
	return nil
}

func (s *MemoryStore) LoadTurns(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.turns[sessionID]), nil
}

func (s *MemoryStore) DeleteTurns(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneChunks(chunks []domain.Chunk) []domain.Chunk {
	out := make([]domain.Chunk, len(chunks))
	for i, ch := range chunks {
		ch.Vector = slices.Clone(ch.Vector)
		out[i] = ch
	}
	return out
}
