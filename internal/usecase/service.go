// Package usecase coordinates ingestion, retrieval and conversation memory.
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"docqa/internal/domain"
	"docqa/internal/port"
)

// ConversationMemory is the per-session turn log.
type ConversationMemory interface {
	Append(ctx context.Context, sessionID, question, answer string, sources []string) (domain.Turn, error)
	ActiveContext(ctx context.Context, sessionID string) ([]domain.Turn, error)
	FullHistory(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Clear(ctx context.Context, sessionID string) error
	Forget(sessionID string)
}

// ResultCache memoises searches per partition generation.
type ResultCache interface {
	Get(docID, question string, topK int, gen uint64) ([]domain.ScoredChunk, bool)
	Put(docID, question string, topK int, gen uint64, results []domain.ScoredChunk)
}

// Deps are the collaborators a Service cannot run without. Loader is only
// needed for raw file uploads.
type Deps struct {
	Gateway   port.Gateway
	Chunker   port.Chunker
	Embedder  port.Embedder
	Index     port.VectorIndex
	Memory    ConversationMemory
	Generator port.Generator
	Loader    port.Loader
}

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	TopK int
	// Fingerprint identifies the chunking and embedding settings. Stored
	// vectors carrying another fingerprint are re-derived on recovery.
	Fingerprint      string
	BatchSize        int
	Concurrency      int
	CondenseQuestion bool
	Cache            ResultCache
	Retry            RetryPolicy
	Logger           logrus.FieldLogger
	// Observer sees every state the retrieval chain enters.
	Observer func(queryID string, state domain.QueryState)
	Now      func() time.Time
	NewID    func() string
}

const (
	defaultTopK        = 4
	defaultBatchSize   = 64
	defaultConcurrency = 4
)

// Service owns the pipeline. It is safe for concurrent use.
type Service struct {
	gateway   port.Gateway
	chunker   port.Chunker
	embedder  port.Embedder
	index     port.VectorIndex
	memory    ConversationMemory
	generator port.Generator
	loader    port.Loader

	opts Options
	log  logrus.FieldLogger

	docLocks     *keyedMutex
	sessionLocks *keyedMutex
	rebuilds     singleflight.Group
}

func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("usecase: gateway is required")
	case deps.Chunker == nil:
		return nil, errors.New("usecase: chunker is required")
	case deps.Embedder == nil:
		return nil, errors.New("usecase: embedder is required")
	case deps.Index == nil:
		return nil, errors.New("usecase: vector index is required")
	case deps.Memory == nil:
		return nil, errors.New("usecase: conversation memory is required")
	case deps.Generator == nil:
		return nil, errors.New("usecase: generator is required")
	}

	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Logger = l
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Service{
		gateway:      deps.Gateway,
		chunker:      deps.Chunker,
		embedder:     deps.Embedder,
		index:        deps.Index,
		memory:       deps.Memory,
		generator:    deps.Generator,
		loader:       deps.Loader,
		opts:         opts,
		log:          opts.Logger,
		docLocks:     newKeyedMutex(),
		sessionLocks: newKeyedMutex(),
	}, nil
}

// retry runs fn under the configured policy and logs every retried attempt.
func (s *Service) retry(ctx context.Context, op string, fields logrus.Fields, fn func(ctx context.Context) error) error {
	policy := s.opts.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.log.WithFields(fields).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"backoff": wait.String(),
		}).WithError(err).Warn("backend call failed, retrying")
	}
	return policy.Do(ctx, op, fn)
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}
