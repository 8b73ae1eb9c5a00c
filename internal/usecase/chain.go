package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"docqa/internal/adapter/vectorindex"
	"docqa/internal/domain"
)

type QueryRequest struct {
	DocumentID string
	// SessionID may be empty or unknown; a session is created either way.
	SessionID string
	Question  string
	// TopK overrides the configured number of chunks when positive.
	TopK int
}

type QueryResult struct {
	Answer         string               `json:"answer"`
	SourceChunkIDs []string             `json:"source_chunk_ids"`
	Sources        []domain.ScoredChunk `json:"sources"`
	SessionID      string               `json:"session_id"`
	// StandaloneQuestion is the question that was embedded, after condensing.
	StandaloneQuestion string `json:"standalone_question,omitempty"`
}

// chainRun tracks one query through the retrieval chain.
type chainRun struct {
	id    string
	state domain.QueryState
	log   logrus.FieldLogger
	obs   func(string, domain.QueryState)
}

func (r *chainRun) enter(state domain.QueryState) {
	r.state = state
	r.log = r.log.WithField("state", state)
	if r.obs != nil {
		r.obs(r.id, state)
	}
	r.log.Debug("query state")
}

// Query answers a question about one document within a session. Turns of
// one session are answered strictly one after another.
func (s *Service) Query(ctx context.Context, req QueryRequest) (res *QueryResult, err error) {
	queryID := s.opts.NewID()
	run := &chainRun{
		id:  queryID,
		log: s.log.WithFields(logrus.Fields{"query_id": queryID, "document_id": req.DocumentID}),
		obs: s.opts.Observer,
	}
	run.enter(domain.StateReceived)
	defer func() {
		if err != nil {
			run.log.WithError(err).Warn("query failed")
			run.enter(domain.StateFailed)
		}
	}()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.Invalid("question is empty")
	}
	if req.DocumentID == "" {
		return nil, domain.Invalid("document id is required")
	}
	topK := s.opts.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}

	doc, err := s.gateway.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if !s.index.Has(doc.ID) {
		return nil, s.repairIndex(ctx, doc.ID, run.log)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.opts.NewID()
	}
	run.log = run.log.WithField("session_id", sessionID)

	unlock := s.sessionLocks.Lock(sessionID)
	defer unlock()

	session, isNew, err := s.resolveSession(ctx, sessionID, doc.ID)
	if err != nil {
		return nil, err
	}

	history, err := s.memory.ActiveContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	run.enter(domain.StateEmbedding)
	standalone := question
	if s.opts.CondenseQuestion && len(history) > 0 {
		standalone, err = s.condense(ctx, question, history, run.log)
		if err != nil {
			return nil, err
		}
	}
	chunks, hit := s.cached(doc.ID, standalone, topK)
	var queryVec []float32
	if !hit {
		queryVec, err = s.embedQuestion(ctx, standalone, run.log)
		if err != nil {
			return nil, err
		}
	}

	run.enter(domain.StateRetrieving)
	if !hit {
		chunks, err = s.search(doc.ID, standalone, queryVec, topK)
		if err != nil {
			return nil, err
		}
	}

	run.enter(domain.StateComposing)
	prompt, err := composeAnswerPrompt(question, chunks, history)
	if err != nil {
		return nil, err
	}

	run.enter(domain.StateGenerating)
	var answer string
	err = s.retry(ctx, "generate answer", logrus.Fields{"document_id": doc.ID, "session_id": sessionID},
		func(ctx context.Context) error {
			a, err := s.generator.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			answer = a
			return nil
		})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// a late answer is dropped so that memory stays untouched
		return nil, err
	}

	sources := make([]string, len(chunks))
	for i, c := range chunks {
		sources[i] = c.Chunk.ID
	}
	if err := s.record(ctx, session, isNew, question, answer, sources); err != nil {
		run.log.WithError(err).WithField("answer", answer).Error("answer generated but turn not recorded")
		return nil, err
	}

	run.enter(domain.StateCompleted)
	return &QueryResult{
		Answer:             answer,
		SourceChunkIDs:     sources,
		Sources:            chunks,
		SessionID:          sessionID,
		StandaloneQuestion: standalone,
	}, nil
}

// resolveSession returns the stored session or a new one bound to docID.
// New sessions are only saved once a turn is ready to be recorded.
func (s *Service) resolveSession(ctx context.Context, sessionID, docID string) (domain.Session, bool, error) {
	sess, err := s.gateway.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if sess.DocumentID != docID {
			return domain.Session{}, false, fmt.Errorf("%w: session %s belongs to document %s",
				domain.ErrSessionMismatch, sessionID, sess.DocumentID)
		}
		return sess, false, nil
	case errors.Is(err, domain.ErrSessionNotFound):
		now := s.now()
		return domain.Session{ID: sessionID, DocumentID: docID, CreatedAt: now, LastActive: now}, true, nil
	default:
		return domain.Session{}, false, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
}

func (s *Service) condense(ctx context.Context, question string, history []domain.Turn, log logrus.FieldLogger) (string, error) {
	prompt, err := composeCondensePrompt(question, history)
	if err != nil {
		return "", err
	}
	var rewritten string
	err = s.retry(ctx, "condense question", nil, func(ctx context.Context) error {
		out, err := s.generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		rewritten = strings.TrimSpace(out)
		return nil
	})
	if err != nil {
		return "", err
	}
	if rewritten == "" {
		return question, nil
	}
	log.WithField("standalone_question", rewritten).Debug("question condensed")
	return rewritten, nil
}

func (s *Service) embedQuestion(ctx context.Context, question string, log logrus.FieldLogger) ([]float32, error) {
	var vec []float32
	err := s.retry(ctx, "embed question", nil, func(ctx context.Context) error {
		v, err := s.embedder.Embed(ctx, []string{question})
		if err != nil {
			return err
		}
		if len(v) != 1 || len(v[0]) == 0 {
			return fmt.Errorf("%w: no vector for question", domain.ErrEmbeddingFailed)
		}
		vec = v[0]
		return nil
	})
	return vec, err
}

// cached returns a previous result for the question when the partition has
// not been republished since. A hit needs no embedding call.
func (s *Service) cached(docID, question string, k int) ([]domain.ScoredChunk, bool) {
	if s.opts.Cache == nil {
		return nil, false
	}
	return s.opts.Cache.Get(docID, question, k, s.index.Generation(docID))
}

// search runs the question vector against the index and caches the result
// under the partition generation it was computed from.
func (s *Service) search(docID, question string, vec []float32, k int) ([]domain.ScoredChunk, error) {
	gen := s.index.Generation(docID)

	results, err := s.index.Search(docID, vec, k)
	if errors.Is(err, vectorindex.ErrDocumentNotIndexed) {
		// removed between the existence check and the search
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", docID, err)
	}

	chunks := make([]domain.ScoredChunk, len(results))
	for i, r := range results {
		chunks[i] = domain.ScoredChunk{
			Chunk: domain.Chunk{
				ID:      r.ChunkID,
				DocID:   docID,
				Ordinal: r.Ordinal,
				Text:    r.Metadata["text"],
			},
			Score: r.Score,
		}
	}

	if s.opts.Cache != nil {
		s.opts.Cache.Put(docID, question, k, gen, chunks)
	}
	return chunks, nil
}

// record persists a new session and appends the turn. Failing here after
// an answer exists is a reconciliation failure, unless the document was
// deleted meanwhile.
func (s *Service) record(ctx context.Context, session domain.Session, isNew bool, question, answer string, sources []string) error {
	if isNew {
		if err := s.gateway.SaveSession(ctx, session); err != nil {
			if errors.Is(err, domain.ErrDocumentNotFound) {
				return err
			}
			return fmt.Errorf("%w: save session %s: %v", domain.ErrReconciliation, session.ID, err)
		}
	}
	if _, err := s.memory.Append(ctx, session.ID, question, answer, sources); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.memory.Forget(session.ID)
			return fmt.Errorf("%w: document %s was deleted", domain.ErrDocumentNotFound, session.DocumentID)
		}
		return fmt.Errorf("%w: %v", domain.ErrReconciliation, err)
	}
	return nil
}
