package cli

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/config"
	"docqa/internal/adapter/store"
	"docqa/internal/usecase"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBuildApp_PersistsAcrossRestart(t *testing.T) {
	for _, driver := range []string{"bolt", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Storage.Driver = driver
			cfg.Storage.DataDir = t.TempDir()
			ctx := context.Background()

			a, err := buildApp(cfg, quietLogger())
			require.NoError(t, err)
			res, err := a.service.Ingest(ctx, usecase.IngestRequest{
				Filename: "faq.txt",
				Data:     []byte("Support is available on weekdays from nine to five."),
			})
			require.NoError(t, err)
			require.NoError(t, a.Close())

			a, err = buildApp(cfg, quietLogger())
			require.NoError(t, err)
			defer a.Close()
			require.NoError(t, recoverIndex(ctx, a))

			answer, err := a.service.Query(ctx, usecase.QueryRequest{DocumentID: res.Document.ID, Question: "When is support available?"})
			require.NoError(t, err)
			assert.Equal(t, "Support is available on weekdays from nine to five.", answer.Answer)

			ver, ok := a.gateway.(store.Versioned)
			require.True(t, ok)
			info, err := ver.GetSchemaInfo()
			require.NoError(t, err)
			assert.Equal(t, store.CurrentSchemaVersion, info.Version)
			assert.Equal(t, a.hash, info.ConfigHash)
		})
	}
}

func TestBuildApp_MemoryDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "memory"

	a, err := buildApp(cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	docs, err := a.service.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestProviders(t *testing.T) {
	t.Setenv("DOCQA_TEST_KEY", "sk-test")

	e, err := newEmbedder(config.EmbeddingConfig{Provider: "hash", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimension())

	e, err = newEmbedder(config.EmbeddingConfig{Provider: "compatible", APIKeyEnv: "DOCQA_TEST_KEY", Model: "custom", BaseURL: "http://localhost:1", Dimension: 256})
	require.NoError(t, err)
	assert.Equal(t, 256, e.Dimension())

	_, err = newEmbedder(config.EmbeddingConfig{Provider: "openai", APIKeyEnv: "DOCQA_MISSING_KEY"})
	assert.Error(t, err)
	_, err = newEmbedder(config.EmbeddingConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = newGenerator(config.GenerationConfig{Provider: "ollama", Model: "llama3"})
	assert.NoError(t, err)
	_, err = newGenerator(config.GenerationConfig{Provider: "extractive"})
	assert.NoError(t, err)
	_, err = newGenerator(config.GenerationConfig{Provider: "nope"})
	assert.Error(t, err)
}
