package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrew/chat-thread-search/pkg/embed"
	"github.com/andrew/chat-thread-search/pkg/models"
)

// Artifact file names inside an index directory
const (
	VectorsFile = "index.vec"
	MetaFile    = "meta.json"
	RowsFile    = "rows.jsonl"
)

// DefaultBatchSize is the number of texts sent to the embedder per call
const DefaultBatchSize = 64

// Meta is the metadata record persisted next to the vectors
type Meta struct {
	Model   string    `json:"model"`
	Count   int       `json:"count"`
	Dim     int       `json:"dim"`
	BuildID string    `json:"build_id"`
	BuiltAt time.Time `json:"built_at"`
}

// Artifact is a loaded, read-only index: metadata, the row table in corpus
// order and the vectors aligned with it. It is safe for concurrent readers.
type Artifact struct {
	Meta     Meta
	Rows     []models.MessageRecord
	vectors  *FlatIndex
	searcher Searcher
}

// BuildOptions tunes Build
type BuildOptions struct {
	BatchSize int
	Logger    *zap.Logger
	// Progress, if set, is called after each embedded batch
	Progress func(done, total int)
}

// Build embeds every record's text and persists the artifact at dir. Records
// with empty text still occupy a row so row numbers equal corpus positions.
// The artifact is written to a sibling temp directory and swapped in only
// after every part is on disk; a failed build leaves dir untouched.
func Build(ctx context.Context, records []models.MessageRecord, embedder embed.Embedder, dir string, opts BuildOptions) (*Artifact, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start := time.Now()
	vectors, err := embedRecords(ctx, records, embedder, batchSize, logger, opts.Progress)
	if err != nil {
		return nil, err
	}

	a := &Artifact{
		Meta: Meta{
			Model:   embedder.Model(),
			Count:   len(records),
			Dim:     vectors.Dim(),
			BuildID: uuid.New().String(),
			BuiltAt: time.Now().UTC(),
		},
		Rows:    append([]models.MessageRecord(nil), records...),
		vectors: vectors,
	}
	a.searcher = vectors

	if err := a.save(dir); err != nil {
		return nil, err
	}

	logger.Info("index built",
		zap.String("dir", dir),
		zap.String("model", a.Meta.Model),
		zap.Int("rows", a.Meta.Count),
		zap.Int("dim", a.Meta.Dim),
		zap.String("build_id", a.Meta.BuildID),
		zap.Duration("duration", time.Since(start)),
	)
	return a, nil
}

func embedRecords(ctx context.Context, records []models.MessageRecord, embedder embed.Embedder, batchSize int, logger *zap.Logger, progress func(done, total int)) (*FlatIndex, error) {
	var (
		dim  int
		data []float32
	)

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		texts := make([]string, 0, end-start)
		for _, r := range records[start:end] {
			texts = append(texts, r.Text)
		}

		vecs, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: rows %d-%d: %w", models.ErrEmbeddingFailure, start, end-1, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: rows %d-%d: got %d vectors for %d texts", models.ErrEmbeddingFailure, start, end-1, len(vecs), len(texts))
		}

		for i, v := range vecs {
			if dim == 0 {
				if len(v) == 0 {
					return nil, fmt.Errorf("%w: row %d: empty vector", models.ErrEmbeddingFailure, start+i)
				}
				dim = len(v)
				data = make([]float32, 0, dim*len(records))
			}
			if len(v) != dim {
				return nil, fmt.Errorf("%w: row %d: vector has %d dimensions, expected %d", models.ErrEmbeddingFailure, start+i, len(v), dim)
			}
			row := append([]float32(nil), v...)
			Normalize(row)
			data = append(data, row...)
		}

		logger.Debug("embedded batch", zap.Int("done", end), zap.Int("total", len(records)))
		if progress != nil {
			progress(end, len(records))
		}
	}

	return NewFlatIndex(dim, len(records), data)
}

func (a *Artifact) save(dir string) error {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create index parent: %w", err)
	}

	tmp := dir + ".tmp-" + uuid.New().String()
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return fmt.Errorf("create temp index dir: %w", err)
	}
	if err := a.writeParts(tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := swapDir(tmp, dir); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	return nil
}

// writeParts writes meta last so a directory with a meta file is complete
func (a *Artifact) writeParts(dir string) error {
	if err := writeVectors(filepath.Join(dir, VectorsFile), a.vectors); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}

	var rows bytes.Buffer
	enc := json.NewEncoder(&rows)
	enc.SetEscapeHTML(false)
	for _, r := range a.Rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode row %q: %w", r.ID, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, RowsFile), rows.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	meta, err := json.MarshalIndent(a.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), meta, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// swapDir replaces dst with src. An existing dst is moved aside first and
// restored if the final rename fails.
func swapDir(src, dst string) error {
	old := ""
	if _, err := os.Stat(dst); err == nil {
		old = dst + ".old-" + uuid.New().String()
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if old != "" {
			os.Rename(old, dst)
		}
		return fmt.Errorf("swap index into place: %w", err)
	}
	if old != "" {
		os.RemoveAll(old)
	}
	return nil
}

// Load reads the artifact at dir
func Load(dir string) (*Artifact, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexMissing, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("stat index: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", models.ErrIndexCorrupt, dir)
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no %s in %s", models.ErrIndexMissing, MetaFile, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", models.ErrIndexCorrupt, err)
	}

	rows, err := readRows(filepath.Join(dir, RowsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: rows: %v", models.ErrIndexCorrupt, err)
	}
	if len(rows) != meta.Count {
		return nil, fmt.Errorf("%w: meta count %d, row table has %d rows", models.ErrIndexCorrupt, meta.Count, len(rows))
	}

	vectors, err := readVectors(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: vectors: %v", models.ErrIndexCorrupt, err)
	}
	if vectors.Len() != meta.Count {
		return nil, fmt.Errorf("%w: meta count %d, vectors hold %d rows", models.ErrIndexCorrupt, meta.Count, vectors.Len())
	}
	if vectors.Dim() != meta.Dim {
		return nil, fmt.Errorf("%w: meta dim %d, vectors have %d", models.ErrIndexCorrupt, meta.Dim, vectors.Dim())
	}

	return &Artifact{Meta: meta, Rows: rows, vectors: vectors, searcher: vectors}, nil
}

func readRows(path string) ([]models.MessageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows := []models.MessageRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var r models.MessageRecord
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, r)
	}
	return rows, scanner.Err()
}

// Len returns the number of rows
func (a *Artifact) Len() int {
	return len(a.Rows)
}

// Vectors returns the persisted vectors
func (a *Artifact) Vectors() *FlatIndex {
	return a.vectors
}

// WithSearcher returns a copy of the artifact that ranks with s instead of
// the in-process vectors
func (a *Artifact) WithSearcher(s Searcher) *Artifact {
	cp := *a
	cp.searcher = s
	return &cp
}

// Search embeds query with embedder and returns up to k hits. The embedder
// must report the model the artifact was built with.
func (a *Artifact) Search(ctx context.Context, embedder embed.Embedder, query string, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidArgument, k)
	}
	if embedder.Model() != a.Meta.Model {
		return nil, fmt.Errorf("%w: index built with %q, query embedder is %q", models.ErrModelMismatch, a.Meta.Model, embedder.Model())
	}
	if a.Meta.Count == 0 {
		return []models.SearchHit{}, nil
	}

	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", models.ErrEmbeddingFailure, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: query: got %d vectors", models.ErrEmbeddingFailure, len(vecs))
	}
	q := append([]float32(nil), vecs[0]...)
	if len(q) != a.Meta.Dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", models.ErrModelMismatch, len(q), a.Meta.Dim)
	}
	Normalize(q)

	hits, err := a.searcher.Search(ctx, q, k)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if h.Row < 0 || h.Row >= len(a.Rows) {
			return nil, fmt.Errorf("%w: search returned row %d of %d", models.ErrIndexCorrupt, h.Row, len(a.Rows))
		}
	}
	return hits, nil
}
