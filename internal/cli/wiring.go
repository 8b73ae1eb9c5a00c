package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"docqa/config"
	"docqa/internal/adapter/analyzer"
	"docqa/internal/adapter/cache"
	"docqa/internal/adapter/chunker"
	"docqa/internal/adapter/embedding"
	"docqa/internal/adapter/llm"
	"docqa/internal/adapter/loader"
	"docqa/internal/adapter/memory"
	"docqa/internal/adapter/memstore"
	"docqa/internal/adapter/store"
	"docqa/internal/adapter/vectorindex"
	"docqa/internal/port"
	"docqa/internal/usecase"
)

// app is everything a command needs, built once from config.
type app struct {
	service *usecase.Service
	gateway port.Gateway
	hash    string
}

func (a *app) Close() error {
	return a.gateway.Close()
}

// openGateway opens the configured store and brings its schema up to date.
func openGateway(cfg *config.Config, hash string, log logrus.FieldLogger) (port.Gateway, error) {
	if cfg.Storage.Driver == "memory" {
		return memstore.NewMemoryStore(), nil
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var (
		gw  port.Gateway
		ver store.Versioned
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		gw, ver = s, s
	default:
		s, err := store.NewBoltStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		gw, ver = s, s
	}

	result, err := store.CheckMigration(ver, hash)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("failed to check migration: %w", err)
	}
	if result.Incompatible {
		gw.Close()
		return nil, fmt.Errorf("cannot open %s: %s", cfg.DBPath(), result.Reason)
	}
	if result.ConfigChanged {
		log.WithField("reason", result.Reason).Warn("stored vectors will be re-derived")
	}
	if result.NeedsMigration {
		log.WithFields(logrus.Fields{"from": result.OldVersion, "to": result.NewVersion}).Info(result.Reason)
		if err := store.Migrate(ver, hash); err != nil {
			gw.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return gw, nil
}

// recordConfigHash stores the fingerprint the index now reflects.
func recordConfigHash(gw port.Gateway, hash string) error {
	ver, ok := gw.(store.Versioned)
	if !ok {
		return nil
	}
	return store.Migrate(ver, hash)
}

func newEmbedder(cfg config.EmbeddingConfig) (port.EmbeddingModel, error) {
	var (
		e   *embedding.OpenAIEmbedder
		err error
	)
	switch cfg.Provider {
	case "hash":
		return embedding.NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		e, err = embedding.NewOpenAIEmbedder(cfg.APIKeyEnv, cfg.Model)
	case "deepseek":
		e, err = embedding.NewDeepSeekEmbedder(cfg.APIKeyEnv, cfg.Model)
	case "jina":
		e, err = embedding.NewJinaEmbedder(cfg.APIKeyEnv, cfg.Model)
	case "ollama":
		e, err = embedding.NewOllamaEmbedder(cfg.Model, cfg.BaseURL)
	case "compatible":
		e, err = embedding.NewOpenAICompatibleEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	if cfg.Dimension > 0 && e.Dimension() == 0 {
		e = e.WithDimension(cfg.Dimension)
	}
	if cfg.RequestsPerSecond > 0 {
		e = e.WithRateLimit(cfg.RequestsPerSecond)
	}
	if cfg.Timeout > 0 {
		e = e.WithTimeout(cfg.Timeout)
	}
	return e, nil
}

func newGenerator(cfg config.GenerationConfig) (port.Generator, error) {
	var (
		g   *llm.OpenAIGenerator
		err error
	)
	switch cfg.Provider {
	case "extractive":
		return llm.NewExtractiveGenerator(), nil
	case "openai":
		g, err = llm.NewOpenAIGenerator(cfg.APIKeyEnv, cfg.Model)
	case "deepseek":
		g, err = llm.NewDeepSeekGenerator(cfg.APIKeyEnv, cfg.Model)
	case "ollama":
		g = llm.NewOllamaGenerator(cfg.Model, cfg.BaseURL)
	case "compatible":
		g, err = llm.NewOpenAICompatibleGenerator(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	g = g.WithSampling(cfg.Temperature, cfg.MaxTokens)
	if cfg.RequestsPerSecond > 0 {
		g = g.WithRateLimit(cfg.RequestsPerSecond)
	}
	if cfg.Timeout > 0 {
		g = g.WithTimeout(cfg.Timeout)
	}
	return g, nil
}

// buildApp wires the service from config. The caller must Close it.
func buildApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	hash := config.ComputeConfigHash(cfg)

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	generator, err := newGenerator(cfg.Generation)
	if err != nil {
		return nil, err
	}

	gw, err := openGateway(cfg, hash, log)
	if err != nil {
		return nil, err
	}

	tokenizer := analyzer.NewTokenizer(true)
	conv := memory.NewConversation(gw, memory.Policy{
		MaxTurns:    cfg.Memory.WindowTurns,
		MaxTokens:   cfg.Memory.WindowTokens,
		MaxSessions: cfg.Memory.MaxSessions,
	}, tokenizer)

	opts := usecase.Options{
		TopK:             cfg.Retrieval.TopK,
		Fingerprint:      hash,
		BatchSize:        cfg.Embedding.BatchSize,
		Concurrency:      cfg.Embedding.Concurrency,
		CondenseQuestion: cfg.Retrieval.CondenseQuestion,
		Retry: usecase.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
			Multiplier:     cfg.Retry.Multiplier,
		},
		Logger: log,
	}
	if cfg.Retrieval.CacheSize > 0 {
		opts.Cache = cache.NewQueryCache(cfg.Retrieval.CacheSize, cfg.Retrieval.CacheTTL)
	}

	svc, err := usecase.NewService(usecase.Deps{
		Gateway:   gw,
		Chunker:   chunker.NewTextChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
		Embedder:  embedder,
		Index:     vectorindex.New(embedder.Dimension()),
		Memory:    conv,
		Generator: generator,
		Loader:    loader.New(),
	}, opts)
	if err != nil {
		gw.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"storage":    cfg.Storage.Driver,
		"embedding":  embedder.ModelName(),
		"generation": cfg.Generation.Provider,
	}).Debug("service ready")
	return &app{service: svc, gateway: gw, hash: hash}, nil
}
