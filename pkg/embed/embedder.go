package embed

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Embedder turns text into dense vectors. Model identifies the vector space;
// it is persisted with an index so queries can be checked against it.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// Config holds embedder settings
type Config struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	OllamaHost string        `yaml:"ollama_host"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	HashDim    int           `yaml:"hash_dim"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderOllama,
		Model:      "nomic-embed-text",
		OllamaHost: "http://localhost:11434",
		BatchSize:  64,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		HashDim:    256,
	}
}

// New creates the embedder named by cfg.Provider, defaulting to Ollama
func New(cfg Config, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		host := cfg.OllamaHost
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		return NewOllamaEmbedder(cfg.Model, host, cfg.Timeout, cfg.MaxRetries, logger)
	case ProviderHash:
		return NewHashEmbedder(cfg.HashDim), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}
