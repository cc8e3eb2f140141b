package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []int{2017}, cfg.Data.Years)
	assert.Equal(t, "fail", cfg.Data.RowErrors)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Hashing.Dimension)
	assert.Equal(t, "sqlite", cfg.VectorStore.Type)
	assert.Equal(t, "car_review_embeddings", cfg.VectorStore.Path)
	assert.Equal(t, "car_reviews", cfg.VectorStore.Collection)
	assert.Equal(t, "cosine", cfg.VectorStore.Distance)
	assert.Equal(t, 166, cfg.Indexer.BatchSize)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, "extractive", cfg.Answer.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 600, cfg.VectorStore.LeaseTTLSecs)
	assert.Equal(t, int64(600), int64(cfg.VectorStore.LeaseTTL().Seconds()))
}

func TestLoad_OverridesAndSectionDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
data:
  pattern: "reviews/*.csv"
  years: [2016, 2017]
  row_errors: skip
embedder:
  type: openai
vector_store:
  type: qdrant
  distance: l2
query:
  top_k: 8
  min_rating: 3
answer:
  type: chat
  chat:
    requests_per_second: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "reviews/*.csv", cfg.Data.Pattern)
	assert.Equal(t, []int{2016, 2017}, cfg.Data.Years)
	assert.Equal(t, "skip", cfg.Data.RowErrors)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "multi-qa-MiniLM-L6-cos-v1", cfg.Embedder.OpenAI.Model)
	require.NotNil(t, cfg.VectorStore.Qdrant)
	assert.Equal(t, 6334, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, "l2", cfg.VectorStore.Distance)
	assert.Equal(t, 8, cfg.Query.TopK)
	require.NotNil(t, cfg.Query.MinRating)
	assert.Equal(t, 3.0, *cfg.Query.MinRating)
	require.NotNil(t, cfg.Answer.Chat)
	assert.Equal(t, "gpt-4o-mini", cfg.Answer.Chat.Model)
	assert.Equal(t, 2.0, cfg.Answer.Chat.RequestsPerSecond)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data: [unclosed"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Query.TopK = 11
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadDefault_WritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "carreviews", "config.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, "car_reviews", cfg.VectorStore.Collection)
}
