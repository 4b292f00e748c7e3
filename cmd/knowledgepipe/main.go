// Package main provides the knowledgepipe binary entry point.
// Knowledgepipe ingests parsed documents, extracts structured knowledge
// with an LLM, and serves the results over a tier-gated query API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/c360studio/knowledgepipe/llm/providers"

	"github.com/c360studio/knowledgepipe/config"
	"github.com/c360studio/knowledgepipe/extract"
	"github.com/c360studio/knowledgepipe/ingest"
	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/query"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "knowledgepipe"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "knowledgepipe",
		Short: "Knowledge extraction pipeline",
		Long: `Knowledgepipe turns parsed documents into queryable structured knowledge.

It provides:
- Ingestion of parsed document chunks into the document and vector stores
- LLM extraction of decisions, patterns, warnings, methodologies,
  checklists, personas, and workflows
- A tier-gated read-only query service with semantic search

Ingest writes both stores, extract runs the LLM over the chunk
hierarchy, and serve answers API queries.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(ingestCmd(&configPath, &logLevel))
	cmd.AddCommand(extractCmd(&configPath, &logLevel))
	cmd.AddCommand(keygenCmd())

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setup loads configuration and installs the process logger.
func setup(configPath, logLevel string) (*config.Config, *slog.Logger, error) {
	loader := config.NewLoader(slog.Default())

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = loader.LoadFile(configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	levelName := cfg.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the query service",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner()

			cfg, logger, err := setup(*configPath, *logLevel)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			server := &http.Server{
				Addr:         cfg.ListenAddr,
				Handler:      app.query.Handler(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("query service listening",
					"addr", cfg.ListenAddr,
					"project_id", cfg.ProjectID,
					"version", Version)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("query service: %w", err)
			case <-ctx.Done():
			}

			logger.Info("Received shutdown signal")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("Query service stopped")
			return nil
		},
	}
}

func ingestCmd(configPath, logLevel *string) *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "ingest <parsed-document.json>",
		Short: "Load a parsed document into the stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath, *logLevel)
			if err != nil {
				return err
			}

			file, err := ingest.Load(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			pipeline := ingest.New(cfg.ProjectID, app.documents, app.vectors, app.embedder,
				ingest.WithParallelism(parallel),
				ingest.WithLogger(logger))
			stats, err := pipeline.Run(ctx, file)
			if err != nil {
				return err
			}

			fmt.Printf("Ingested %s: %d chunks, %d vectors (%d vector failures)\n",
				stats.SourceID, stats.ChunksInserted, stats.VectorsUpserted, stats.VectorFailures)
			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 4, "Concurrent embedding workers")
	return cmd
}

func extractCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <source-id>",
		Short: "Extract knowledge from an ingested source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath, *logLevel)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			orchestrator, err := app.buildExtraction()
			if err != nil {
				return err
			}

			summary, err := orchestrator.Extract(ctx, args[0])
			if err != nil {
				return err
			}

			printSummary(summary)
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	var (
		tierName  string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a query service API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := query.ParseTier(tierName)
			if err != nil {
				return err
			}
			key, err := query.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			entry := config.APIKeyConfig{Key: key, Tier: tier.String()}
			if expiresIn > 0 {
				entry.ExpiresAt = time.Now().UTC().Add(expiresIn).Truncate(time.Second)
			}
			snippet, err := yaml.Marshal(struct {
				APIKeys []config.APIKeyConfig `yaml:"api_keys"`
			}{APIKeys: []config.APIKeyConfig{entry}})
			if err != nil {
				return fmt.Errorf("render config snippet: %w", err)
			}

			fmt.Println(key)
			fmt.Println()
			fmt.Println("Add to knowledgepipe.yaml:")
			fmt.Print(string(snippet))
			return nil
		},
	}

	cmd.Flags().StringVar(&tierName, "tier", "registered", "Key tier (public, registered, premium)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Optional validity window (0 means no expiry)")
	return cmd
}

func printSummary(s *extract.Summary) {
	fmt.Printf("Source %s\n", s.SourceID)
	for _, level := range []knowledge.ContextLevel{knowledge.ContextChapter, knowledge.ContextSection, knowledge.ContextChunk} {
		st, ok := s.Levels[level]
		if !ok {
			continue
		}
		fmt.Printf("  %-8s contexts=%d attempts=%d successes=%d failures=%d tokens=%d\n",
			level, st.Contexts, st.Attempts, st.Successes, st.Failures, st.Tokens)
	}
	fmt.Printf("  saved=%d save_failures=%d\n", s.Saved, s.SaveFailures)
	for _, msg := range s.Errors {
		fmt.Printf("  error: %s\n", msg)
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║         Knowledgepipe v" + Version + "                  ║")
	fmt.Println("║      Knowledge Extraction Pipeline            ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
