package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"docqa/internal/domain"
	"docqa/internal/port"
)

// RecoverResult summarises a startup rebuild of the vector index.
type RecoverResult struct {
	Documents  int
	Reused     int
	Reembedded int
	Failed     map[string]string
}

// Recover rebuilds the index from persistence. Stored vectors are reused
// when they were built under the current fingerprint; otherwise the chunks
// are re-derived from the stored text and saved again. A document that
// fails is logged and left out of the index, so queries on it report an
// index inconsistency and retry the rebuild.
func (s *Service) Recover(ctx context.Context) (*RecoverResult, error) {
	docs, err := s.gateway.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := &RecoverResult{Documents: len(docs), Failed: make(map[string]string)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		reused, err := s.rebuild(ctx, doc.ID)
		if err != nil {
			s.log.WithField("document_id", doc.ID).WithError(err).Error("failed to rebuild document index")
			result.Failed[doc.ID] = err.Error()
			continue
		}
		if reused {
			result.Reused++
		} else {
			result.Reembedded++
		}
	}

	s.log.WithFields(logrus.Fields{
		"documents":  result.Documents,
		"reused":     result.Reused,
		"reembedded": result.Reembedded,
		"failed":     len(result.Failed),
	}).Info("index recovered")
	return result, nil
}

// repairIndex rebuilds a document missing from the index. Concurrent
// callers share one rebuild. The request that noticed the gap still fails.
func (s *Service) repairIndex(ctx context.Context, docID string, log logrus.FieldLogger) error {
	log.Warn("document stored but not indexed, rebuilding")
	_, err, _ := s.rebuilds.Do(docID, func() (any, error) {
		return s.rebuild(context.WithoutCancel(ctx), docID)
	})
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return err
	}
	if err != nil {
		log.WithError(err).Error("index rebuild failed")
		return fmt.Errorf("%w: document %s (rebuild failed: %v)", domain.ErrIndexInconsistency, docID, err)
	}
	return fmt.Errorf("%w: document %s was rebuilt, retry the query", domain.ErrIndexInconsistency, docID)
}

// rebuild publishes the stored chunks of docID and reports whether the
// stored vectors could be used as they are.
func (s *Service) rebuild(ctx context.Context, docID string) (bool, error) {
	unlock := s.docLocks.Lock(docID)
	defer unlock()

	doc, err := s.gateway.GetDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	chunks, err := s.gateway.LoadChunks(ctx, docID)
	if err != nil {
		return false, fmt.Errorf("failed to load chunks: %w", err)
	}

	reused := s.reusable(doc, chunks)
	if !reused {
		chunks, err = s.chunker.Chunk(docID, doc.Text)
		if err != nil {
			return false, fmt.Errorf("failed to chunk: %w", err)
		}
		if err := s.embedChunks(ctx, docID, chunks); err != nil {
			return false, err
		}
		doc.ChunkCount = len(chunks)
		doc.Fingerprint = s.opts.Fingerprint
		if err := s.gateway.SaveDocument(ctx, doc, chunks); err != nil {
			return false, fmt.Errorf("failed to store re-derived chunks: %w", err)
		}
	}

	if err := s.index.Replace(docID, vectorEntries(chunks)); err != nil {
		return false, fmt.Errorf("failed to publish: %w", err)
	}
	return reused, nil
}

func (s *Service) reusable(doc domain.Document, chunks []domain.Chunk) bool {
	if doc.Fingerprint != s.opts.Fingerprint || len(chunks) != doc.ChunkCount {
		return false
	}
	want := 0
	if m, ok := s.embedder.(port.EmbeddingModel); ok {
		want = m.Dimension()
	}
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			return false
		}
		if want == 0 {
			want = len(c.Vector)
		}
		if len(c.Vector) != want {
			return false
		}
	}
	return true
}
