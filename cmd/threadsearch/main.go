package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrew/chat-thread-search/pkg/config"
	"github.com/andrew/chat-thread-search/pkg/logging"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// app is shared state initialised before any subcommand runs
type app struct {
	configPath string
	jsonOutput bool
	logLevel   string
	indexDir   string
	provider   string
	model      string

	cfg    config.Config
	logger *zap.Logger
}

func main() {
	a := &app{}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threadsearch",
		Short: "Semantic search over group chat exports with reply threads",
		Long: `threadsearch embeds every message of a chat export into a vector index
and answers free-text questions with the best matching messages together
with the reply threads hanging off them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to config file (default threadsearch.yaml if present)")
	flags.BoolVarP(&a.jsonOutput, "json", "j", false, "Output as JSON")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.indexDir, "index", "", "Index directory")
	flags.StringVar(&a.provider, "embedder", "", "Embedder provider: ollama or hash")
	flags.StringVar(&a.model, "model", "", "Embedding model name")

	rootCmd.AddCommand(
		newVersionCmd(a),
		newBuildCmd(a),
		newAskCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.indexDir != "" {
		cfg.IndexDir = a.indexDir
	}
	if a.provider != "" {
		cfg.Embedder.Provider = a.provider
	}
	if a.model != "" {
		cfg.Embedder.Model = a.model
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if a.jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
				return
			}
			fmt.Printf("threadsearch %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
