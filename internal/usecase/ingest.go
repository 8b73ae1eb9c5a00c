package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
	"docqa/internal/port"
)

// IngestRequest carries either extracted Text or raw file Data. Data goes
// through the loader picked by Filename.
type IngestRequest struct {
	DocumentID string
	Filename   string
	Text       string
	Data       []byte
}

type IngestResult struct {
	Document   domain.Document
	ChunkCount int
}

// Ingest chunks, embeds and stores a document, then publishes its vectors.
// Nothing is stored or published unless every chunk was embedded.
// Re-ingesting an existing id replaces its chunk set and keeps its sessions.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	text, contentType, err := s.extract(req)
	if err != nil {
		return nil, err
	}

	docID := req.DocumentID
	if docID == "" {
		docID = s.opts.NewID()
	}
	filename := req.Filename
	if filename == "" {
		filename = docID + ".txt"
	}
	log := s.log.WithFields(logrus.Fields{"document_id": docID, "filename": filename})

	unlock := s.docLocks.Lock(docID)
	defer unlock()

	chunks, err := s.chunker.Chunk(docID, text)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", filename, err)
	}

	if err := s.embedChunks(ctx, docID, chunks); err != nil {
		log.WithError(err).Error("ingestion aborted, nothing stored")
		return nil, err
	}

	doc := domain.Document{
		ID:          docID,
		Filename:    filename,
		ContentType: contentType,
		Text:        text,
		ChunkCount:  len(chunks),
		Fingerprint: s.opts.Fingerprint,
		CreatedAt:   s.now(),
	}

	prev, prevChunks, existed, err := s.snapshot(ctx, docID)
	if err != nil {
		return nil, err
	}
	if existed {
		doc.CreatedAt = prev.CreatedAt
	}

	if err := s.gateway.SaveDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to store document %s: %w", docID, err)
	}

	if err := s.index.Replace(docID, vectorEntries(chunks)); err != nil {
		s.rollback(docID, prev, prevChunks, existed, log)
		return nil, fmt.Errorf("%w: publish %s: %v", domain.ErrEmbeddingFailed, docID, err)
	}

	log.WithField("chunks", len(chunks)).Info("document ingested")
	return &IngestResult{Document: doc, ChunkCount: len(chunks)}, nil
}

func (s *Service) extract(req IngestRequest) (text, contentType string, err error) {
	switch {
	case len(req.Data) > 0:
		if s.loader == nil {
			return "", "", domain.Invalid("file uploads are not supported")
		}
		if req.Filename == "" {
			return "", "", domain.Invalid("filename is required for file uploads")
		}
		return s.loader.Load(req.Filename, req.Data)
	case strings.TrimSpace(req.Text) != "":
		return req.Text, "text/plain", nil
	default:
		return "", "", domain.Invalid("document has no content")
	}
}

// embedChunks fills in every chunk vector. Batches run in parallel, each
// under the retry policy; the first failure cancels the rest.
func (s *Service) embedChunks(ctx context.Context, docID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for start := 0; start < len(chunks); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(chunks))
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}

			var vectors [][]float32
			err := s.retry(gctx, "embed chunks", logrus.Fields{"document_id": docID, "batch_start": start},
				func(ctx context.Context) error {
					v, err := s.embedder.Embed(ctx, texts)
					if err != nil {
						return err
					}
					if len(v) != len(texts) {
						return fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingFailed, len(v), len(texts))
					}
					vectors = v
					return nil
				})
			if err != nil {
				return err
			}
			for i := range batch {
				batch[i].Vector = vectors[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return checkDimensions(chunks)
}

func checkDimensions(chunks []domain.Chunk) error {
	dim := len(chunks[0].Vector)
	for _, c := range chunks {
		if len(c.Vector) == 0 || len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %d has dimension %d, want %d",
				domain.ErrEmbeddingFailed, c.Ordinal, len(c.Vector), dim)
		}
	}
	return nil
}

// snapshot loads the stored version of docID so a failed publish can put it back.
func (s *Service) snapshot(ctx context.Context, docID string) (domain.Document, []domain.Chunk, bool, error) {
	prev, err := s.gateway.GetDocument(ctx, docID)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return domain.Document{}, nil, false, nil
	}
	if err != nil {
		return domain.Document{}, nil, false, fmt.Errorf("failed to load document %s: %w", docID, err)
	}
	chunks, err := s.gateway.LoadChunks(ctx, docID)
	if err != nil {
		return domain.Document{}, nil, false, fmt.Errorf("failed to load chunks of %s: %w", docID, err)
	}
	return prev, chunks, true, nil
}

func (s *Service) rollback(docID string, prev domain.Document, prevChunks []domain.Chunk, existed bool, log logrus.FieldLogger) {
	ctx := context.Background()
	var err error
	if existed {
		err = s.gateway.SaveDocument(ctx, prev, prevChunks)
	} else {
		err = s.gateway.DeleteDocument(ctx, docID)
	}
	if err != nil {
		log.WithError(err).Error("rollback after failed publish did not complete")
	}
}

func vectorEntries(chunks []domain.Chunk) []port.VectorEntry {
	entries := make([]port.VectorEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = port.VectorEntry{
			ChunkID:  c.ID,
			Ordinal:  c.Ordinal,
			Vector:   c.Vector,
			Metadata: map[string]string{"text": c.Text},
		}
	}
	return entries
}
