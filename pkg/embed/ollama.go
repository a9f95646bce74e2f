package embed

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// OllamaEmbedder embeds text through a local Ollama server
type OllamaEmbedder struct {
	client     *api.Client
	model      string
	maxRetries int
	timeout    time.Duration
	dim        atomic.Int64
	logger     *zap.Logger
}

// NewOllamaEmbedder creates an embedder for modelName served at baseURL
func NewOllamaEmbedder(modelName, baseURL string, timeout time.Duration, maxRetries int, logger *zap.Logger) (*OllamaEmbedder, error) {
	if modelName == "" {
		return nil, fmt.Errorf("ollama embedder requires a model name")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ollamaURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", baseURL, err)
	}

	return &OllamaEmbedder{
		client:     api.NewClient(ollamaURL, &http.Client{Timeout: timeout}),
		model:      modelName,
		maxRetries: maxRetries,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Model returns the Ollama model name
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Ping verifies the Ollama server is reachable
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	if err := e.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach ollama server: %w", err)
	}
	return nil
}

// Embed embeds texts in a single request. Blank texts are not sent to the
// server; they get a zero vector, which scores 0 against every query.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	inputs := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		inputs = append(inputs, t)
		positions = append(positions, i)
	}

	var dim int
	if len(inputs) > 0 {
		vecs, err := e.embedWithRetry(ctx, inputs)
		if err != nil {
			return nil, err
		}
		for j, pos := range positions {
			out[pos] = vecs[j]
		}
		dim = len(vecs[0])
		e.dim.Store(int64(dim))
	} else {
		var err error
		if dim, err = e.dimension(ctx); err != nil {
			return nil, err
		}
	}

	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}

// dimension learns the model's vector size with a probe request when no
// embedding has been produced yet
func (e *OllamaEmbedder) dimension(ctx context.Context) (int, error) {
	if d := e.dim.Load(); d > 0 {
		return int(d), nil
	}
	vecs, err := e.embedWithRetry(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	e.dim.Store(int64(len(vecs[0])))
	return len(vecs[0]), nil
}

// embedWithRetry calls /api/embed with exponential backoff between attempts
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, inputs []string) ([][]float32, error) {
	truncate := true
	req := &api.EmbedRequest{
		Model:    e.model,
		Input:    inputs,
		Truncate: &truncate,
	}

	baseDelay := 1 * time.Second
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := e.client.Embed(reqCtx, req)
		cancel()

		if err == nil {
			if len(resp.Embeddings) != len(inputs) {
				return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(inputs))
			}
			if len(resp.Embeddings[0]) == 0 {
				return nil, fmt.Errorf("ollama returned empty embeddings for model %s", e.model)
			}
			return resp.Embeddings, nil
		}

		lastErr = err
		if attempt == e.maxRetries-1 {
			break
		}
		retryDelay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
		e.logger.Warn("embedding attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", e.maxRetries),
			zap.Duration("retry_in", retryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", e.maxRetries, lastErr)
}
