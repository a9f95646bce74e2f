package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/andrew/chat-thread-search/pkg/cache"
	"github.com/andrew/chat-thread-search/pkg/embed"
	"github.com/andrew/chat-thread-search/pkg/retrieval"
	"github.com/andrew/chat-thread-search/pkg/vector"
)

// newEmbedder builds the configured embedder, wrapped with the Redis cache
// when one is configured. The returned cleanup must always be called.
func (a *app) newEmbedder(ctx context.Context) (embed.Embedder, func(), error) {
	e, err := embed.New(a.cfg.Embedder, a.logger)
	if err != nil {
		return nil, nil, err
	}
	if o, ok := e.(*embed.OllamaEmbedder); ok {
		if err := o.Ping(ctx); err != nil {
			a.logger.Warn("ollama server might not be running", zap.String("host", a.cfg.Embedder.OllamaHost), zap.Error(err))
		}
	}

	if a.cfg.Cache.RedisURL == "" {
		return e, func() {}, nil
	}
	rc, err := cache.NewRedis(ctx, a.cfg.Cache.RedisURL, a.cfg.Cache.TTL)
	if err != nil {
		a.logger.Warn("embedding cache disabled", zap.Error(err))
		return e, func() {}, nil
	}
	a.logger.Debug("embedding cache enabled", zap.String("redis_url", a.cfg.Cache.RedisURL))
	return embed.NewCached(e, rc, a.logger), func() { rc.Close() }, nil
}

// openRetriever loads the index and, for the qdrant backend, routes vector
// search through the collection published at build time
func (a *app) openRetriever(ctx context.Context) (*retrieval.ThreadRetriever, func(), error) {
	artifact, err := vector.Load(a.cfg.IndexDir)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("index loaded",
		zap.String("dir", a.cfg.IndexDir),
		zap.String("model", artifact.Meta.Model),
		zap.Int("rows", artifact.Meta.Count),
		zap.String("build_id", artifact.Meta.BuildID),
	)

	// queries must use the model the index was built with
	if a.model == "" && artifact.Meta.Model != "" && a.cfg.Embedder.Provider == embed.ProviderOllama {
		a.cfg.Embedder.Model = artifact.Meta.Model
	}

	embedder, closeEmbedder, err := a.newEmbedder(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup := closeEmbedder

	// an empty index never reaches the searcher
	if a.cfg.Vector.Backend == vector.BackendQdrant && artifact.Meta.Count > 0 {
		q, err := a.dialQdrant()
		if err != nil {
			closeEmbedder()
			return nil, nil, err
		}
		if err := q.Verify(ctx, artifact.Meta); err != nil {
			q.Close()
			closeEmbedder()
			return nil, nil, err
		}
		artifact = artifact.WithSearcher(q)
		cleanup = func() {
			q.Close()
			closeEmbedder()
		}
	}

	return retrieval.New(artifact, embedder, a.logger), cleanup, nil
}

func (a *app) dialQdrant() (*vector.QdrantIndex, error) {
	return vector.DialQdrant(a.cfg.Vector.QdrantHost, a.cfg.Vector.QdrantPort, a.cfg.Vector.Collection, a.logger)
}
