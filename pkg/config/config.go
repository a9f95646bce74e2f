package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/andrew/chat-thread-search/pkg/embed"
	"github.com/andrew/chat-thread-search/pkg/retrieval"
	"github.com/andrew/chat-thread-search/pkg/vector"
)

// DefaultPath is read when no config file is given and it exists
const DefaultPath = "threadsearch.yaml"

type Config struct {
	IndexDir string            `yaml:"index_dir"`
	Corpus   string            `yaml:"corpus"`
	Embedder embed.Config      `yaml:"embedder"`
	Retrieve retrieval.Options `yaml:"retrieve"`
	Vector   vector.Config     `yaml:"vector"`
	Cache    CacheConfig       `yaml:"cache"`
	Server   ServerConfig      `yaml:"server"`
	Log      LogConfig         `yaml:"log"`
}

type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"` // empty disables the cache
	TTL      time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		IndexDir: "data/index",
		Corpus:   "data/messages.jsonl",
		Embedder: embed.DefaultConfig(),
		Retrieve: retrieval.DefaultOptions(),
		Vector:   vector.DefaultConfig(),
		Cache:    CacheConfig{TTL: 24 * time.Hour},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, a .env file in the working
// directory, the YAML file at path and the environment, each overriding the
// one before. An empty path falls back to DefaultPath when that file exists.
func Load(path string) (Config, error) {
	cfg := Default()

	// .env is optional
	dotenv, err := godotenv.Read()
	switch {
	case err == nil:
		applyVars(&cfg, mapLookup(dotenv))
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyVars(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// lookupFunc has the shape of os.LookupEnv
type lookupFunc func(key string) (string, bool)

func mapLookup(vars map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func applyVars(cfg *Config, lookup lookupFunc) {
	cfg.IndexDir = getVar(lookup, "THREADSEARCH_INDEX_DIR", cfg.IndexDir)
	cfg.Corpus = getVar(lookup, "THREADSEARCH_CORPUS", cfg.Corpus)
	cfg.Embedder.Provider = getVar(lookup, "THREADSEARCH_EMBEDDER", cfg.Embedder.Provider)
	cfg.Embedder.Model = getVar(lookup, "OLLAMA_MODEL", cfg.Embedder.Model)
	cfg.Embedder.OllamaHost = getVar(lookup, "OLLAMA_HOST", cfg.Embedder.OllamaHost)
	cfg.Vector.Backend = getVar(lookup, "THREADSEARCH_VECTOR_BACKEND", cfg.Vector.Backend)
	cfg.Vector.QdrantHost = getVar(lookup, "QDRANT_HOST", cfg.Vector.QdrantHost)
	cfg.Vector.QdrantPort = getVarAsInt(lookup, "QDRANT_PORT", cfg.Vector.QdrantPort)
	cfg.Cache.RedisURL = getVar(lookup, "REDIS_URL", cfg.Cache.RedisURL)
	cfg.Server.Port = getVarAsInt(lookup, "THREADSEARCH_PORT", cfg.Server.Port)
	cfg.Log.Level = getVar(lookup, "THREADSEARCH_LOG_LEVEL", cfg.Log.Level)
}

// Validate checks values that would otherwise fail deep inside a command
func (c Config) Validate() error {
	if err := c.Retrieve.Validate(); err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if c.Embedder.BatchSize <= 0 {
		return fmt.Errorf("embedder.batch_size must be positive, got %d", c.Embedder.BatchSize)
	}
	switch c.Embedder.Provider {
	case embed.ProviderOllama, embed.ProviderHash:
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}
	switch c.Vector.Backend {
	case vector.BackendFlat, vector.BackendQdrant:
	default:
		return fmt.Errorf("unknown vector backend %q", c.Vector.Backend)
	}
	if c.IndexDir == "" {
		return fmt.Errorf("index_dir is required")
	}
	return nil
}

func getVar(lookup lookupFunc, key, fallback string) string {
	if value, exists := lookup(key); exists && value != "" {
		return value
	}
	return fallback
}

func getVarAsInt(lookup lookupFunc, key string, fallback int) int {
	if value, exists := lookup(key); exists {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return fallback
}
