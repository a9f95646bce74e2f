package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/andrew/chat-thread-search/pkg/corpus"
	"github.com/andrew/chat-thread-search/pkg/vector"
)

func newBuildCmd(a *app) *cobra.Command {
	var (
		corpusPath string
		batchSize  int
		publish    bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed a chat export and write the vector index",
		Example: `  threadsearch build --corpus data/messages.jsonl --index data/index
  threadsearch build --embedder hash --qdrant`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if corpusPath != "" {
				a.cfg.Corpus = corpusPath
			}
			if batchSize > 0 {
				a.cfg.Embedder.BatchSize = batchSize
			}
			return a.runBuild(cmd.Context(), publish || a.cfg.Vector.Backend == vector.BackendQdrant)
		},
	}

	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Path to the messages JSONL export")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Texts per embedding request")
	cmd.Flags().BoolVar(&publish, "qdrant", false, "Also publish the vectors to Qdrant")
	return cmd
}

func (a *app) runBuild(ctx context.Context, publish bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	store, stats, err := corpus.LoadFile(a.cfg.Corpus, a.logger)
	if err != nil {
		return err
	}
	embedder, closeEmbedder, err := a.newEmbedder(ctx)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	artifact, err := vector.Build(ctx, store.Records(), embedder, a.cfg.IndexDir, vector.BuildOptions{
		BatchSize: a.cfg.Embedder.BatchSize,
		Logger:    a.logger,
		Progress: func(done, total int) {
			if !a.jsonOutput {
				fmt.Printf("\rEmbedded %d/%d messages", done, total)
			}
		},
	})
	if !a.jsonOutput && store.Len() > 0 {
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if publish {
		q, err := a.dialQdrant()
		if err != nil {
			return err
		}
		defer q.Close()
		if err := q.Publish(ctx, artifact); err != nil {
			return fmt.Errorf("publish to qdrant: %w", err)
		}
	}

	if a.jsonOutput {
		printJSON(map[string]any{
			"dir":       a.cfg.IndexDir,
			"meta":      artifact.Meta,
			"corpus":    stats,
			"published": publish,
			"duration":  time.Since(start).String(),
		})
		return nil
	}

	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Printf("%s %d messages indexed with %s into %s (%s)\n",
		green("✅"), artifact.Meta.Count, artifact.Meta.Model, a.cfg.IndexDir,
		time.Since(start).Round(time.Millisecond))
	if skipped := stats.Dropped + stats.Malformed; skipped > 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s skipped %d malformed and %d empty records\n", yellow("⚠"), stats.Malformed, stats.Dropped)
	}
	return nil
}
