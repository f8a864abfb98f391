package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Ingestion.Workers)
	assert.Equal(t, 512, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 50, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 5, cfg.Retrieval.HistoryWindow)
	assert.InDelta(t, 0.6, cfg.Retrieval.Threshold, 1e-6)
	assert.Equal(t, PolicyDegrade, cfg.Retrieval.FailurePolicy)
	assert.InDelta(t, 0.7, cfg.Generation.Temperature, 1e-9)
	assert.Equal(t, 8192, cfg.Generation.MaxContextLength)
	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.Equal(t, "documents", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, 768, cfg.VectorStore.Qdrant.Dimension)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Ingestion, cfg.Ingestion)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docchat.yaml")
	yml := `
ingestion:
  workers: 8
  chunk_size: 1000
retrieval:
  top_k: 3
  failure_policy: fail
  timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))
	t.Setenv("DOCCHAT_WORKERS", "2")
	t.Setenv("DOCCHAT_RAG_THRESHOLD", "0.75")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Ingestion.Workers, "env wins over file")
	assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 50, cfg.Ingestion.ChunkOverlap, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, PolicyFail, cfg.Retrieval.FailurePolicy)
	assert.Equal(t, 3*time.Second, cfg.Retrieval.Timeout)
	assert.InDelta(t, 0.75, cfg.Retrieval.Threshold, 1e-6)
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	env := map[string]string{"DOCCHAT_TOP_K": "many"}
	err := applyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCCHAT_TOP_K")
}

func TestApplyEnv_Dimension(t *testing.T) {
	cfg := Default()
	env := map[string]string{"DOCCHAT_EMBEDDING_DIMENSION": "1536", "DOCCHAT_VECTOR_STORE": "qdrant"}
	require.NoError(t, applyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok }))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1536, cfg.VectorStore.Qdrant.Dimension)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"overlap equals size", func(c *Config) { c.Ingestion.ChunkOverlap = c.Ingestion.ChunkSize }, "chunk_overlap"},
		{"no workers", func(c *Config) { c.Ingestion.Workers = 0 }, "workers"},
		{"unknown policy", func(c *Config) { c.Retrieval.FailurePolicy = "shrug" }, "failure_policy"},
		{"threshold range", func(c *Config) { c.Retrieval.Threshold = 1.5 }, "threshold"},
		{"top k", func(c *Config) { c.Retrieval.TopK = 0 }, "top_k"},
		{"temperature", func(c *Config) { c.Generation.Temperature = 3 }, "temperature"},
		{"vector backend", func(c *Config) { c.VectorStore.Backend = "faiss" }, "vector store backend"},
		{"uploads backend", func(c *Config) { c.Uploads.Backend = "ftp" }, "uploads backend"},
		{"minio settings", func(c *Config) { c.Uploads.Backend = BackendMinio }, "minio"},
		{"dimension drift", func(c *Config) {
			c.VectorStore.Backend = BackendQdrant
			c.VectorStore.Qdrant.Dimension = 1024
		}, "differs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
