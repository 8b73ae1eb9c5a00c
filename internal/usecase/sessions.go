package usecase

import (
	"context"
	"fmt"

	"docqa/internal/domain"
)

func (s *Service) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return s.gateway.GetDocument(ctx, id)
}

func (s *Service) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return s.gateway.ListDocuments(ctx)
}

// DeleteDocument removes the document, its sessions and turns from storage
// and its partition from the index.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	unlock := s.docLocks.Lock(id)
	defer unlock()

	sessions, err := s.gateway.ListSessions(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gateway.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.index.Remove(id)
	for _, sess := range sessions {
		s.memory.Forget(sess.ID)
	}

	s.log.WithField("document_id", id).WithField("sessions", len(sessions)).Info("document deleted")
	return nil
}

// ListSessions returns the sessions of a document, oldest first.
func (s *Service) ListSessions(ctx context.Context, docID string) ([]domain.Session, error) {
	if _, err := s.gateway.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	return s.gateway.ListSessions(ctx, docID)
}

func (s *Service) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return s.gateway.GetSession(ctx, id)
}

// History returns every turn of the session, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	if _, err := s.gateway.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.memory.FullHistory(ctx, sessionID)
}

// ClearSession drops the turns of a session. The session itself stays.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := s.gateway.GetSession(ctx, sessionID); err != nil {
		return err
	}

	unlock := s.sessionLocks.Lock(sessionID)
	defer unlock()

	if err := s.memory.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	s.log.WithField("session_id", sessionID).Info("session cleared")
	return nil
}
