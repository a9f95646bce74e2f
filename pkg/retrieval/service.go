package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andrew/chat-thread-search/pkg/embed"
	"github.com/andrew/chat-thread-search/pkg/graph"
	"github.com/andrew/chat-thread-search/pkg/models"
	"github.com/andrew/chat-thread-search/pkg/vector"
)

// Retriever answers free-text queries with ranked seeds and their reply threads
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts Options) ([]models.ThreadResult, error)
}

// Options controls a single retrieval
type Options struct {
	// K is the number of seed messages returned by vector search
	K int `json:"k" yaml:"k"`

	// MaxReplies caps the replies emitted per seed
	MaxReplies int `json:"max_replies" yaml:"max_replies"`

	// MaxDepth caps how many hops below a seed replies are followed
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// OnlyWithReplies drops seeds whose thread is empty
	OnlyWithReplies bool `json:"only_with_replies" yaml:"only_with_replies"`
}

// DefaultOptions returns the defaults used by every front end
func DefaultOptions() Options {
	return Options{
		K:          5,
		MaxReplies: 20,
		MaxDepth:   5,
	}
}

// Validate rejects non-positive limits
func (o Options) Validate() error {
	if o.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, o.K)
	}
	if o.MaxReplies <= 0 {
		return fmt.Errorf("%w: max replies must be positive, got %d", models.ErrInvalidArgument, o.MaxReplies)
	}
	if o.MaxDepth <= 0 {
		return fmt.Errorf("%w: max depth must be positive, got %d", models.ErrInvalidArgument, o.MaxDepth)
	}
	return nil
}

// Observer receives the outcome of every retrieval
type Observer interface {
	ObserveRetrieve(outcome string, seeds int, d time.Duration)
}

// ThreadRetriever searches an artifact and expands each hit into its reply
// tree. The reply graph is built once at construction; a ThreadRetriever is
// read-only afterwards and safe for concurrent use.
type ThreadRetriever struct {
	artifact *vector.Artifact
	embedder embed.Embedder
	graph    *graph.Graph
	observer Observer
	logger   *zap.Logger
}

// New creates a ThreadRetriever over a loaded artifact
func New(artifact *vector.Artifact, embedder embed.Embedder, logger *zap.Logger) *ThreadRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadRetriever{
		artifact: artifact,
		embedder: embedder,
		graph:    graph.Build(artifact.Rows),
		logger:   logger,
	}
}

// WithObserver attaches an observer for retrieval outcomes
func (r *ThreadRetriever) WithObserver(o Observer) *ThreadRetriever {
	r.observer = o
	return r
}

// Artifact returns the index the retriever searches
func (r *ThreadRetriever) Artifact() *vector.Artifact {
	return r.artifact
}

// Retrieve returns one ThreadResult per search hit in rank order. On error
// the result is always nil.
func (r *ThreadRetriever) Retrieve(ctx context.Context, query string, opts Options) ([]models.ThreadResult, error) {
	start := time.Now()
	results, err := r.retrieve(ctx, query, opts)
	if err != nil {
		r.observe("error", 0, time.Since(start))
		r.logger.Warn("retrieve failed", zap.Int("query_len", len(query)), zap.Error(err))
		return nil, err
	}

	r.observe("ok", len(results), time.Since(start))
	r.logger.Info("retrieve",
		zap.Int("query_len", len(query)),
		zap.Int("k", opts.K),
		zap.Int("hits", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return results, nil
}

func (r *ThreadRetriever) retrieve(ctx context.Context, query string, opts Options) ([]models.ThreadResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	hits, err := r.artifact.Search(ctx, r.embedder, query, opts.K)
	if err != nil {
		return nil, err
	}

	results := make([]models.ThreadResult, 0, len(hits))
	for _, hit := range hits {
		seed := r.artifact.Rows[hit.Row]
		replies, err := r.graph.ThreadOf(seed.ID, opts.MaxReplies, opts.MaxDepth)
		if err != nil {
			return nil, err
		}
		if opts.OnlyWithReplies && len(replies) == 0 {
			continue
		}
		results = append(results, models.ThreadResult{
			Seed:    seed,
			Score:   hit.Score,
			Row:     hit.Row,
			Replies: replies,
		})
	}
	return results, nil
}

func (r *ThreadRetriever) observe(outcome string, seeds int, d time.Duration) {
	if r.observer != nil {
		r.observer.ObserveRetrieve(outcome, seeds, d)
	}
}
