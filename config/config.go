package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docqa.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Memory     MemoryConfig     `yaml:"memory"`
	Retry      RetryConfig      `yaml:"retry"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type StorageConfig struct {
	Driver  string `yaml:"driver"` // "bolt", "sqlite" or "memory"
	DataDir string `yaml:"data_dir"`
}

// ChunkingConfig sizes are in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // "hash", "openai", "deepseek", "jina", "ollama", "compatible"
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	BaseURL           string        `yaml:"base_url"`
	Dimension         int           `yaml:"dimension"`
	BatchSize         int           `yaml:"batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
	Timeout           time.Duration `yaml:"timeout"`
}

type GenerationConfig struct {
	Provider          string        `yaml:"provider"` // "extractive", "openai", "deepseek", "ollama", "compatible"
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	BaseURL           string        `yaml:"base_url"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type RetrievalConfig struct {
	TopK             int           `yaml:"top_k"`
	CacheSize        int           `yaml:"cache_size"` // 0 disables the result cache
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	CondenseQuestion bool          `yaml:"condense_question"`
}

// MemoryConfig bounds the conversation window passed to the generator.
type MemoryConfig struct {
	WindowTurns  int `yaml:"window_turns"`
	WindowTokens int `yaml:"window_tokens"` // 0 = no token cap
	MaxSessions  int `yaml:"max_sessions"`  // session logs cached in memory, 0 = unbounded
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	MaxUploadMB  int64         `yaml:"max_upload_mb"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"` // 0 = derived from backend timeouts and retry
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:  "bolt",
			DataDir: ".docqa",
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 100,
		},
		Embedding: EmbeddingConfig{
			Provider:    "hash",
			Model:       "text-embedding-3-small",
			APIKeyEnv:   "OPENAI_API_KEY",
			Dimension:   384,
			BatchSize:   64,
			Concurrency: 4,
			Timeout:     60 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:  "extractive",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 512,
			Timeout:   120 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:      4,
			CacheSize: 256,
			CacheTTL:  5 * time.Minute,
		},
		Memory: MemoryConfig{
			WindowTurns: 5,
			MaxSessions: 1024,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
			Multiplier:     2,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 32,
			ReadTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir looks for docqa.yaml, then .docqa/config.yaml.
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "docqa.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".docqa", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Memory.WindowTurns < 0 || c.Memory.WindowTokens < 0 || c.Memory.MaxSessions < 0 {
		return fmt.Errorf("memory bounds must not be negative")
	}
	if c.Server.QueryTimeout < 0 {
		return fmt.Errorf("server.query_timeout must not be negative, got %v", c.Server.QueryTimeout)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	switch c.Storage.Driver {
	case "bolt", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// QueryDeadline bounds one question end to end. An explicit
// server.query_timeout wins; otherwise the bound covers every backend call a
// query makes running through all of its retry attempts and backoffs. Zero
// means unbounded, which is also returned when a backend timeout is unset.
func (c *Config) QueryDeadline() time.Duration {
	if c.Server.QueryTimeout > 0 {
		return c.Server.QueryTimeout
	}
	if c.Embedding.Timeout <= 0 || c.Generation.Timeout <= 0 {
		return 0
	}

	budget := c.retryBudget(c.Embedding.Timeout) + c.retryBudget(c.Generation.Timeout)
	if c.Retrieval.CondenseQuestion {
		budget += c.retryBudget(c.Generation.Timeout)
	}
	return budget
}

// retryBudget is the longest a call with the given per-attempt timeout can
// take under the retry settings.
func (c *Config) retryBudget(perAttempt time.Duration) time.Duration {
	attempts := max(c.Retry.MaxAttempts, 1)
	mult := max(c.Retry.Multiplier, 1)

	total := time.Duration(attempts) * perAttempt
	wait := c.Retry.InitialBackoff
	for i := 1; i < attempts; i++ {
		if c.Retry.MaxBackoff > 0 && wait > c.Retry.MaxBackoff {
			wait = c.Retry.MaxBackoff
		}
		total += wait
		wait = time.Duration(float64(wait) * mult)
	}
	return total
}

// DBPath returns the database file for the configured storage driver.
func (c *Config) DBPath() string {
	name := "docqa.db"
	if c.Storage.Driver == "sqlite" {
		name = "docqa.sqlite"
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// EnsureDataDir creates the storage directory.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Storage.DataDir, 0755)
}

// ComputeConfigHash fingerprints the settings that determine chunk spans
// and vectors. Stored vectors built under a different hash are re-derived.
func ComputeConfigHash(cfg *Config) string {
	relevant := struct {
		ChunkSize    int    `json:"chunk_size"`
		ChunkOverlap int    `json:"chunk_overlap"`
		EmbProvider  string `json:"emb_provider"`
		EmbModel     string `json:"emb_model"`
		EmbDimension int    `json:"emb_dimension"`
	}{
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		EmbProvider:  cfg.Embedding.Provider,
		EmbModel:     cfg.Embedding.Model,
		EmbDimension: cfg.Embedding.Dimension,
	}
	if cfg.Embedding.Provider == "hash" {
		relevant.EmbModel = ""
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
