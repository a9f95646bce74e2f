package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/chat-thread-search/pkg/embed"
	"github.com/andrew/chat-thread-search/pkg/models"
	"github.com/andrew/chat-thread-search/pkg/vector"
)

var envKeys = []string{
	"THREADSEARCH_INDEX_DIR",
	"THREADSEARCH_CORPUS",
	"THREADSEARCH_EMBEDDER",
	"OLLAMA_MODEL",
	"OLLAMA_HOST",
	"THREADSEARCH_VECTOR_BACKEND",
	"QDRANT_HOST",
	"QDRANT_PORT",
	"REDIS_URL",
	"THREADSEARCH_PORT",
	"THREADSEARCH_LOG_LEVEL",
}

// isolate runs the test in an empty directory with no config variables set
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, embed.ProviderOllama, cfg.Embedder.Provider)
	assert.Equal(t, vector.BackendFlat, cfg.Vector.Backend)
	assert.Equal(t, 5, cfg.Retrieve.K)
	assert.Equal(t, 20, cfg.Retrieve.MaxReplies)
	assert.Equal(t, 5, cfg.Retrieve.MaxDepth)
	assert.False(t, cfg.Retrieve.OnlyWithReplies)
}

func TestLoadYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index_dir: /var/lib/threadsearch
embedder:
  provider: hash
  hash_dim: 128
  timeout: 5s
retrieve:
  k: 3
  only_with_replies: true
cache:
  redis_url: redis://localhost:6379/0
  ttl: 1h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/threadsearch", cfg.IndexDir)
	assert.Equal(t, embed.ProviderHash, cfg.Embedder.Provider)
	assert.Equal(t, 128, cfg.Embedder.HashDim)
	assert.Equal(t, 5*time.Second, cfg.Embedder.Timeout)
	assert.Equal(t, 64, cfg.Embedder.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Retrieve.K)
	assert.Equal(t, 20, cfg.Retrieve.MaxReplies)
	assert.True(t, cfg.Retrieve.OnlyWithReplies)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
}

func TestLoadDefaultPath(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPath), []byte("server:\n  port: 9090\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index_dir: from-yaml\nserver:\n  port: 9090\n"), 0o644))

	t.Setenv("THREADSEARCH_INDEX_DIR", "from-env")
	t.Setenv("THREADSEARCH_PORT", "7070")
	t.Setenv("QDRANT_PORT", "not-a-number")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.IndexDir)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 6334, cfg.Vector.QdrantPort, "unparsable ints are ignored")
	assert.Equal(t, "http://gpu-box:11434", cfg.Embedder.OllamaHost)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_URL=redis://cache:6379/1\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.RedisURL)

	// .env is read, not exported
	assert.Empty(t, os.Getenv("REDIS_URL"))
}

func TestLoadPrecedence(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"THREADSEARCH_INDEX_DIR=from-dotenv\n"+
			"THREADSEARCH_CORPUS=from-dotenv.jsonl\n"+
			"THREADSEARCH_PORT=6060\n"+
			"QDRANT_HOST=dotenv-host\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPath), []byte(
		"index_dir: from-yaml\n"+
			"corpus: from-yaml.jsonl\n"+
			"server:\n  port: 9090\n"), 0o644))
	t.Setenv("THREADSEARCH_INDEX_DIR", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.IndexDir, "env beats YAML")
	assert.Equal(t, "from-yaml.jsonl", cfg.Corpus, "YAML beats .env")
	assert.Equal(t, 9090, cfg.Server.Port, "YAML beats .env")
	assert.Equal(t, "dotenv-host", cfg.Vector.QdrantHost, ".env beats defaults")
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieve: [1, 2"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero k", func(c *Config) { c.Retrieve.K = 0 }},
		{"negative depth", func(c *Config) { c.Retrieve.MaxDepth = -1 }},
		{"zero batch", func(c *Config) { c.Embedder.BatchSize = 0 }},
		{"unknown provider", func(c *Config) { c.Embedder.Provider = "openai" }},
		{"unknown backend", func(c *Config) { c.Vector.Backend = "milvus" }},
		{"no index dir", func(c *Config) { c.IndexDir = "" }},
	}

	assert.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Retrieve.K = 0
	assert.ErrorIs(t, cfg.Validate(), models.ErrInvalidArgument)
}
