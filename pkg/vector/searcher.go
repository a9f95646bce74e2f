package vector

import (
	"cmp"
	"context"
	"slices"

	"github.com/andrew/chat-thread-search/pkg/models"
)

// Searcher ranks stored rows against a unit-length query vector
type Searcher interface {
	// Search returns at most k hits ordered by descending inner product,
	// ties broken by lower row
	Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error)
}

const (
	BackendFlat   = "flat"
	BackendQdrant = "qdrant"
)

// Config contains configuration for the vector backend
type Config struct {
	Backend    string `yaml:"backend"` // "flat" or "qdrant"
	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`
	Collection string `yaml:"collection"`
}

// DefaultConfig searches the persisted vectors in process
func DefaultConfig() Config {
	return Config{
		Backend:    BackendFlat,
		QdrantHost: "localhost",
		QdrantPort: 6334,
		Collection: "chat_threads",
	}
}

// sortHits orders hits by score descending, then row ascending
func sortHits(hits []models.SearchHit) {
	slices.SortFunc(hits, func(a, b models.SearchHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Row, b.Row)
	})
}
