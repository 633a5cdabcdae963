package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Chunk.Size)
	assert.Equal(t, 100, cfg.Chunk.Overlap)
	assert.Equal(t, int64(10*1024*1024), cfg.Ingestion.MaxFileSize)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, "async", cfg.Ingestion.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Ingestion.ExtractTimeout)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "chunk:\n  size: 400\n  overlap: 40\nrag:\n  top_k: 3\n  min_score: 0.7\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("FINQA_LLM_API_KEY", "sk-test")
	t.Setenv("FINQA_INGESTION_MODE", "sync")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Chunk.Size)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.InDelta(t, 0.7, cfg.RAG.MinScore, 1e-9)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "sync", cfg.Ingestion.Mode)
}

func TestValidateRejectsBadChunking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk:\n  size: 100\n  overlap: 100\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateChunkBounds(t *testing.T) {
	base := func() Config {
		return Config{
			Chunk:     ChunkConfig{Size: 100, Overlap: 10, MinLength: 20},
			Embedding: EmbeddingConfig{Dimensions: 8},
			Ingestion: IngestionConfig{MaxFileSize: 1 << 20, Mode: "sync"},
			Index:     IndexConfig{Backend: "memory"},
			RAG:       RAGConfig{TopK: 5},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"默认值合法", func(c *Config) {}, false},
		{"overlap 为 0", func(c *Config) { c.Chunk.Overlap = 0 }, false},
		{"overlap 达到 size 一半", func(c *Config) { c.Chunk.Overlap = 50 }, true},
		{"overlap 为负", func(c *Config) { c.Chunk.Overlap = -1 }, true},
		{"min_length 等于 size", func(c *Config) { c.Chunk.MinLength = 100 }, false},
		{"min_length 超过 size", func(c *Config) { c.Chunk.MinLength = 101 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
