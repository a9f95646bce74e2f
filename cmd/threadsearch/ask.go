package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/andrew/chat-thread-search/pkg/retrieval"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		k               int
		maxReplies      int
		maxDepth        int
		onlyWithReplies bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Find messages matching a question and show their reply threads",
		Long: `Without a question, ask starts an interactive session that reads one
question per line until "exit" or "quit".`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.cfg.Retrieve
			flags := cmd.Flags()
			if flags.Changed("k") {
				opts.K = k
			}
			if flags.Changed("max-replies") {
				opts.MaxReplies = maxReplies
			}
			if flags.Changed("max-depth") {
				opts.MaxDepth = maxDepth
			}
			if flags.Changed("only-with-replies") {
				opts.OnlyWithReplies = onlyWithReplies
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			r, cleanup, err := a.openRetriever(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) > 0 {
				return a.answer(ctx, r, strings.Join(args, " "), opts)
			}
			return a.interactive(ctx, r, opts)
		},
	}

	defaults := retrieval.DefaultOptions()
	cmd.Flags().IntVarP(&k, "k", "k", defaults.K, "Number of seed messages")
	cmd.Flags().IntVar(&maxReplies, "max-replies", defaults.MaxReplies, "Replies shown per seed")
	cmd.Flags().IntVar(&maxDepth, "max-depth", defaults.MaxDepth, "Deepest reply level shown")
	cmd.Flags().BoolVar(&onlyWithReplies, "only-with-replies", false, "Hide seeds that have no replies")
	return cmd
}

func (a *app) answer(ctx context.Context, r retrieval.Retriever, question string, opts retrieval.Options) error {
	results, err := r.Retrieve(ctx, question, opts)
	if err != nil {
		return err
	}
	if a.jsonOutput {
		printJSON(results)
		return nil
	}
	renderThreads(os.Stdout, results)
	return nil
}

func (a *app) interactive(ctx context.Context, r retrieval.Retriever, opts retrieval.Options) error {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	if !a.jsonOutput {
		fmt.Println(boldGreen("💬 Chat thread search"))
		fmt.Println("Type a question and press Enter. Type 'exit' or 'quit' to stop.")
		fmt.Println()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if !a.jsonOutput {
			fmt.Print(boldGreen("? "))
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := a.answer(ctx, r, question, opts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if !a.jsonOutput {
			fmt.Println()
		}
	}
}
