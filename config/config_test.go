package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunking.Size != 1000 {
		t.Errorf("expected Chunking.Size=1000, got %d", cfg.Chunking.Size)
	}
	if cfg.Chunking.Overlap != 100 {
		t.Errorf("expected Chunking.Overlap=100, got %d", cfg.Chunking.Overlap)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("expected TopK=4, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Memory.WindowTurns != 5 {
		t.Errorf("expected WindowTurns=5, got %d", cfg.Memory.WindowTurns)
	}
	if cfg.Retrieval.CondenseQuestion {
		t.Error("expected condense_question off by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docqa.yaml")

	content := `
chunking:
  size: 500
  overlap: 50
retrieval:
  top_k: 6
retry:
  initial_backoff: 250ms
storage:
  driver: sqlite
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunking.Size != 500 || cfg.Chunking.Overlap != 50 {
		t.Errorf("expected chunking 500/50, got %d/%d", cfg.Chunking.Size, cfg.Chunking.Overlap)
	}
	if cfg.Retrieval.TopK != 6 {
		t.Errorf("expected TopK=6, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retry.InitialBackoff != 250*time.Millisecond {
		t.Errorf("expected InitialBackoff=250ms, got %v", cfg.Retry.InitialBackoff)
	}
	// untouched sections keep their defaults
	if cfg.Memory.WindowTurns != 5 {
		t.Errorf("expected default WindowTurns, got %d", cfg.Memory.WindowTurns)
	}
	if got := cfg.DBPath(); filepath.Base(got) != "docqa.sqlite" {
		t.Errorf("unexpected DBPath %s", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docqa.yaml")

	if err := os.WriteFile(configPath, []byte("chunking: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }},
		{"overlap not below size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"negative session cache", func(c *Config) { c.Memory.MaxSessions = -1 }},
		{"negative query timeout", func(c *Config) { c.Server.QueryTimeout = -time.Second }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("expected defaults without a config file")
	}

	if err := os.MkdirAll(filepath.Join(tmpDir, ".docqa"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".docqa", "config.yaml"), []byte("retrieval:\n  top_k: 9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.TopK != 9 {
		t.Errorf("expected TopK=9 from .docqa/config.yaml, got %d", cfg.Retrieval.TopK)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "docqa.yaml"), []byte("retrieval:\n  top_k: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("docqa.yaml should take precedence, got TopK=%d", cfg.Retrieval.TopK)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	cfg := DefaultConfig()
	cfg.Generation.Provider = "ollama"
	cfg.Retry.MaxBackoff = 3 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Generation.Provider != "ollama" || loaded.Retry.MaxBackoff != 3*time.Second {
		t.Errorf("round trip lost settings: %+v", loaded.Generation)
	}
}

func TestComputeConfigHash(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if ComputeConfigHash(a) != ComputeConfigHash(b) {
		t.Error("equal configs should hash equal")
	}

	b.Retrieval.TopK = 10
	b.Logging.Level = "debug"
	if ComputeConfigHash(a) != ComputeConfigHash(b) {
		t.Error("settings that do not shape vectors should not change the hash")
	}

	b.Chunking.Overlap = 200
	if ComputeConfigHash(a) == ComputeConfigHash(b) {
		t.Error("chunk overlap should change the hash")
	}
}

func TestQueryDeadline(t *testing.T) {
	cfg := DefaultConfig()

	// 3×60s embedding + 3×120s generation, each with 500ms+1s of backoff.
	if got, want := cfg.QueryDeadline(), 543*time.Second; got != want {
		t.Errorf("expected derived deadline %v, got %v", want, got)
	}
	if cfg.QueryDeadline() <= cfg.Generation.Timeout {
		t.Error("deadline must leave room for a generation retry")
	}

	cfg.Retrieval.CondenseQuestion = true
	if got, want := cfg.QueryDeadline(), 543*time.Second+361500*time.Millisecond; got != want {
		t.Errorf("expected condense deadline %v, got %v", want, got)
	}

	cfg.Retry.MaxAttempts = 1
	cfg.Retrieval.CondenseQuestion = false
	if got, want := cfg.QueryDeadline(), 180*time.Second; got != want {
		t.Errorf("expected single-attempt deadline %v, got %v", want, got)
	}

	cfg.Server.QueryTimeout = 30 * time.Second
	if got := cfg.QueryDeadline(); got != 30*time.Second {
		t.Errorf("expected explicit query_timeout to win, got %v", got)
	}

	cfg.Server.QueryTimeout = 0
	cfg.Generation.Timeout = 0
	if got := cfg.QueryDeadline(); got != 0 {
		t.Errorf("expected no deadline without a generation timeout, got %v", got)
	}
}

func TestRetryBudget_CapsBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.InitialBackoff = time.Second
	cfg.Retry.MaxBackoff = 3 * time.Second

	// waits 1s, 2s, 3s, 3s
	if got, want := cfg.retryBudget(10*time.Second), 59*time.Second; got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}
