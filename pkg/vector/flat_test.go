package vector

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/chat-thread-search/pkg/models"
)

func TestFlatIndexTiesBreakByRow(t *testing.T) {
	data := []float32{
		0, 1,
		1, 0,
		0, 1,
		1, 0,
	}
	f, err := NewFlatIndex(2, 4, data)
	require.NoError(t, err)

	hits, err := f.Search(context.Background(), []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, []models.SearchHit{
		{Row: 1, Score: 1},
		{Row: 3, Score: 1},
		{Row: 0, Score: 0},
		{Row: 2, Score: 0},
	}, hits)
}

func TestFlatIndexSearch(t *testing.T) {
	f, err := NewFlatIndex(2, 3, []float32{1, 0, 0.6, 0.8, 0, 1})
	require.NoError(t, err)

	hits, err := f.Search(context.Background(), []float32{0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 2, hits[0].Row)
	assert.Equal(t, 1, hits[1].Row)

	_, err = f.Search(context.Background(), []float32{1, 0, 0}, 2)
	assert.ErrorIs(t, err, models.ErrModelMismatch)

	_, err = f.Search(context.Background(), []float32{1, 0}, 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFlatIndexShape(t *testing.T) {
	_, err := NewFlatIndex(2, 2, []float32{1, 2, 3})
	assert.Error(t, err)

	f, err := NewFlatIndex(0, 0, nil)
	require.NoError(t, err)
	hits, err := f.Search(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0, 0}, zero)

	big := []float32{1e20, 1e20}
	Normalize(big)
	assert.InDelta(t, 1/math.Sqrt2, big[0], 1e-6)
}
