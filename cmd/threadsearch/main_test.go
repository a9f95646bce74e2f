package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrew/chat-thread-search/pkg/config"
	"github.com/andrew/chat-thread-search/pkg/embed"
	"github.com/andrew/chat-thread-search/pkg/models"
	"github.com/andrew/chat-thread-search/pkg/vector"
)

const testCorpus = `{"id":"1","user":"Alice","username":"alice","date":"2023-05-01 10:00:00","message":"where is the meetup tonight"}
{"id":"2","user":"Bob","username":"bob","date":"2023-05-01 10:01:00","message":"main hall","reply_to":"1"}
{"id":"3","user":"Carol","date":"2023-05-01 10:02:00","message":"pods keep restarting"}
`

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd(&app{})
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestBuildThenAsk(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("THREADSEARCH_VECTOR_BACKEND", "")
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "messages.jsonl")
	indexDir := filepath.Join(dir, "index")
	require.NoError(t, os.WriteFile(corpusPath, []byte(testCorpus), 0o644))

	err := run(t, "build", "--json", "--embedder", "hash", "--corpus", corpusPath, "--index", indexDir, "--log-level", "error")
	require.NoError(t, err)

	a, err := vector.Load(indexDir)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Meta.Count)
	assert.Equal(t, "hash-256", a.Meta.Model)

	err = run(t, "ask", "--json", "--embedder", "hash", "--index", indexDir, "--log-level", "error", "-k", "2", "meetup tonight")
	require.NoError(t, err)
}

func TestBuildLogsCorpusOnce(t *testing.T) {
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "messages.jsonl")
	require.NoError(t, os.WriteFile(corpusPath, []byte(testCorpus+"{not json\n"), 0o644))

	cfg := config.Default()
	cfg.Embedder.Provider = embed.ProviderHash
	cfg.Corpus = corpusPath
	cfg.IndexDir = filepath.Join(dir, "index")
	core, logs := observer.New(zap.InfoLevel)
	a := &app{cfg: cfg, logger: zap.New(core), jsonOutput: true}

	require.NoError(t, a.runBuild(context.Background(), false))

	loaded := logs.FilterMessage("corpus loaded").All()
	require.Len(t, loaded, 1)
	fields := loaded[0].ContextMap()
	assert.Equal(t, corpusPath, fields["path"])
	assert.EqualValues(t, 3, fields["records"])
	assert.EqualValues(t, 1, fields["malformed"])
}

func TestAskWithoutIndex(t *testing.T) {
	t.Setenv("THREADSEARCH_VECTOR_BACKEND", "")
	err := run(t, "ask", "--embedder", "hash", "--index", filepath.Join(t.TempDir(), "none"), "--log-level", "error", "hello")
	assert.ErrorIs(t, err, models.ErrIndexMissing)
}

func TestAskRejectsInvalidLimits(t *testing.T) {
	err := run(t, "ask", "--embedder", "hash", "--log-level", "error", "--max-depth", "0", "hello")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestUnknownEmbedder(t *testing.T) {
	err := run(t, "version", "--embedder", "bert")
	assert.Error(t, err)
}
