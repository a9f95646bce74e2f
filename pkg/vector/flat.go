package vector

import (
	"context"
	"fmt"
	"math"

	"github.com/andrew/chat-thread-search/pkg/models"
)

// FlatIndex is an exact inner-product index over row-major vectors
type FlatIndex struct {
	dim   int
	count int
	data  []float32
}

// NewFlatIndex wraps count vectors of size dim stored contiguously in data
func NewFlatIndex(dim, count int, data []float32) (*FlatIndex, error) {
	if dim < 0 || count < 0 {
		return nil, fmt.Errorf("invalid flat index shape %dx%d", count, dim)
	}
	if len(data) != dim*count {
		return nil, fmt.Errorf("flat index expects %d values, got %d", dim*count, len(data))
	}
	return &FlatIndex{dim: dim, count: count, data: data}, nil
}

// Dim returns the vector size
func (f *FlatIndex) Dim() int { return f.dim }

// Len returns the number of rows
func (f *FlatIndex) Len() int { return f.count }

// Vector returns row i. The slice aliases the index and must not be modified.
func (f *FlatIndex) Vector(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search scores every row and keeps the best k
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	if f.count == 0 {
		return []models.SearchHit{}, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", models.ErrModelMismatch, len(query), f.dim)
	}

	hits := make([]models.SearchHit, f.count)
	for row := 0; row < f.count; row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits[row] = models.SearchHit{Row: row, Score: dot(query, f.Vector(row))}
	}

	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize scales v to unit length in place. A zero vector is left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
