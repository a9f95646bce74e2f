package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/chat-thread-search/pkg/embed"
	"github.com/andrew/chat-thread-search/pkg/models"
)

// tableEmbedder maps known texts to fixed vectors; unknown texts get zeros
type tableEmbedder struct {
	model string
	dim   int
	table map[string][]float32
	calls int
}

func (e *tableEmbedder) Model() string { return e.model }

func (e *tableEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.table[t]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

type failingEmbedder struct {
	model string
}

func (e failingEmbedder) Model() string { return e.model }

func (e failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model server unavailable")
}

func records(texts ...string) []models.MessageRecord {
	out := make([]models.MessageRecord, len(texts))
	for i, t := range texts {
		out[i] = models.MessageRecord{ID: fmt.Sprintf("m%d", i+1), DisplayName: "user", Text: t}
	}
	return out
}

func chatRecords() []models.MessageRecord {
	return records(
		"the meetup is in the main hall",
		"bring snacks to the meetup",
		"my cat knocked over a plant",
		"kubernetes pods keep restarting",
		"",
		"the main hall opens at noon",
	)
}

func TestBuildAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	e := embed.NewHashEmbedder(64)
	recs := chatRecords()

	var progress [][2]int
	built, err := Build(context.Background(), recs, e, dir, BuildOptions{
		BatchSize: 4,
		Progress: func(done, total int) {
			progress = append(progress, [2]int{done, total})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{4, 6}, {6, 6}}, progress)

	for _, name := range []string{VectorsFile, MetaFile, RowsFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	loaded, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "hash-64", loaded.Meta.Model)
	assert.Equal(t, len(recs), loaded.Meta.Count)
	assert.Equal(t, 64, loaded.Meta.Dim)
	assert.Equal(t, built.Meta.BuildID, loaded.Meta.BuildID)
	assert.NotEmpty(t, loaded.Meta.BuildID)
	assert.Equal(t, len(recs), loaded.Len())

	for i := range recs {
		assert.Equal(t, recs[i].ID, loaded.Rows[i].ID, "row %d", i)
		assert.Equal(t, recs[i].Text, loaded.Rows[i].Text, "row %d", i)
		assert.Equal(t, built.Vectors().Vector(i), loaded.Vectors().Vector(i), "row %d", i)
	}
}

func TestBuildNormalizesRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	a, err := Build(context.Background(), chatRecords(), embed.NewHashEmbedder(32), dir, BuildOptions{})
	require.NoError(t, err)

	for i := 0; i < a.Len(); i++ {
		norm := dot(a.Vectors().Vector(i), a.Vectors().Vector(i))
		if a.Rows[i].Text == "" {
			assert.Zero(t, norm)
			continue
		}
		assert.InDelta(t, 1.0, norm, 1e-5, "row %d", i)
	}
}

func TestBuildReplacesPreviousIndex(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "index")
	e := embed.NewHashEmbedder(16)

	first, err := Build(context.Background(), records("a", "b"), e, dir, BuildOptions{})
	require.NoError(t, err)
	second, err := Build(context.Background(), records("a", "b", "c"), e, dir, BuildOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Meta.BuildID, second.Meta.BuildID)

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, second.Meta.BuildID, loaded.Meta.BuildID)
	assert.Equal(t, 3, loaded.Meta.Count)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp or old directories may be left behind")
}

func TestBuildFailureKeepsPreviousIndex(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "index")

	good, err := Build(context.Background(), records("a", "b"), embed.NewHashEmbedder(16), dir, BuildOptions{})
	require.NoError(t, err)

	_, err = Build(context.Background(), records("a", "b", "c"), failingEmbedder{model: "hash-16"}, dir, BuildOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmbeddingFailure)

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, good.Meta.BuildID, loaded.Meta.BuildID)
	assert.Equal(t, 2, loaded.Meta.Count)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildEmptyCorpus(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	e := &tableEmbedder{model: "table", dim: 3}

	_, err := Build(context.Background(), nil, e, dir, BuildOptions{})
	require.NoError(t, err)

	a, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Meta.Count)
	assert.Equal(t, "table", a.Meta.Model)

	hits, err := a.Search(context.Background(), e, "", 3)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
	assert.Zero(t, e.calls, "empty index must not embed the query")
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, models.ErrIndexMissing)

	empty := t.TempDir()
	_, err = Load(empty)
	assert.ErrorIs(t, err, models.ErrIndexMissing)
}

func TestLoadCorrupt(t *testing.T) {
	build := func(t *testing.T) string {
		dir := filepath.Join(t.TempDir(), "index")
		_, err := Build(context.Background(), chatRecords(), embed.NewHashEmbedder(8), dir, BuildOptions{})
		require.NoError(t, err)
		return dir
	}

	t.Run("meta count disagrees with rows", func(t *testing.T) {
		dir := build(t)
		path := filepath.Join(dir, MetaFile)
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		var meta Meta
		require.NoError(t, json.Unmarshal(raw, &meta))
		meta.Count++
		raw, err = json.Marshal(meta)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, raw, 0o644))

		_, err = Load(dir)
		assert.ErrorIs(t, err, models.ErrIndexCorrupt)
	})

	t.Run("unreadable meta", func(t *testing.T) {
		dir := build(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFile), []byte("{"), 0o644))

		_, err := Load(dir)
		assert.ErrorIs(t, err, models.ErrIndexCorrupt)
	})

	t.Run("truncated vectors", func(t *testing.T) {
		dir := build(t)
		path := filepath.Join(dir, VectorsFile)
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, raw[:len(raw)-4], 0o644))

		_, err = Load(dir)
		assert.ErrorIs(t, err, models.ErrIndexCorrupt)
	})

	t.Run("missing rows", func(t *testing.T) {
		dir := build(t)
		require.NoError(t, os.Remove(filepath.Join(dir, RowsFile)))

		_, err := Load(dir)
		assert.ErrorIs(t, err, models.ErrIndexCorrupt)
	})
}

func TestSearch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	e := embed.NewHashEmbedder(128)
	recs := chatRecords()
	_, err := Build(context.Background(), recs, e, dir, BuildOptions{})
	require.NoError(t, err)
	a, err := Load(dir)
	require.NoError(t, err)

	for _, k := range []int{1, 3, len(recs), len(recs) + 10} {
		hits, err := a.Search(context.Background(), e, "where is the meetup in the main hall", k)
		require.NoError(t, err)
		assert.Len(t, hits, min(k, len(recs)))
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	}

	hits, err := a.Search(context.Background(), e, "the meetup is in the main hall", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Row)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestSearchErrors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	_, err := Build(context.Background(), chatRecords(), embed.NewHashEmbedder(32), dir, BuildOptions{})
	require.NoError(t, err)
	a, err := Load(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Search(ctx, embed.NewHashEmbedder(32), "meetup", 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = a.Search(ctx, embed.NewHashEmbedder(32), "meetup", -2)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = a.Search(ctx, embed.NewHashEmbedder(64), "meetup", 3)
	assert.ErrorIs(t, err, models.ErrModelMismatch)

	_, err = a.Search(ctx, failingEmbedder{model: "hash-32"}, "meetup", 3)
	assert.ErrorIs(t, err, models.ErrEmbeddingFailure)

	wrongDim := &tableEmbedder{model: "hash-32", dim: 7}
	_, err = a.Search(ctx, wrongDim, "meetup", 3)
	assert.ErrorIs(t, err, models.ErrModelMismatch)
}

type stubSearcher struct {
	hits []models.SearchHit
}

func (s stubSearcher) Search(context.Context, []float32, int) ([]models.SearchHit, error) {
	return s.hits, nil
}

func TestWithSearcher(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	e := embed.NewHashEmbedder(16)
	a, err := Build(context.Background(), records("a", "b", "c"), e, dir, BuildOptions{})
	require.NoError(t, err)

	routed := a.WithSearcher(stubSearcher{hits: []models.SearchHit{{Row: 2, Score: 0.5}}})
	hits, err := routed.Search(context.Background(), e, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []models.SearchHit{{Row: 2, Score: 0.5}}, hits)

	// the original keeps its own searcher
	hits, err = a.Search(context.Background(), e, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, hits[0].Row)

	bad := a.WithSearcher(stubSearcher{hits: []models.SearchHit{{Row: 9}}})
	_, err = bad.Search(context.Background(), e, "a", 1)
	assert.ErrorIs(t, err, models.ErrIndexCorrupt)
}
