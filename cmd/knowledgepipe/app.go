package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/c360studio/knowledgepipe/config"
	"github.com/c360studio/knowledgepipe/embed"
	"github.com/c360studio/knowledgepipe/extract"
	"github.com/c360studio/knowledgepipe/llm"
	"github.com/c360studio/knowledgepipe/model"
	"github.com/c360studio/knowledgepipe/prompt"
	"github.com/c360studio/knowledgepipe/query"
	"github.com/c360studio/knowledgepipe/storage"
	"github.com/c360studio/knowledgepipe/vector"
)

// App wires the pipeline components over one configuration. Every
// command builds the store clients; only extract builds the LLM side.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	documents *storage.DocumentStore
	vectors   *vector.Store
	embedder  *embed.Client
	query     *query.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	documents := storage.NewDocumentStore(storage.DocumentConfig{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		ConnectTimeout: cfg.ConnectionTimeout(),
		MaxPoolSize:    cfg.MaxPoolSize,
	}, storage.WithLogger(logger))
	if err := documents.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}

	vectors, err := vector.New(ctx, vector.Config{
		URL:       cfg.QdrantURL,
		APIKey:    cfg.QdrantAPIKey,
		ProjectID: cfg.ProjectID,
	}, vector.WithLogger(logger))
	if err != nil {
		_ = documents.Close(ctx)
		return nil, fmt.Errorf("connect vector store: %w", err)
	}

	embedder := embed.NewClient(cfg.EmbeddingURL, cfg.EmbeddingModel, embed.WithLogger(logger))

	keys, err := buildKeyRegistry(cfg)
	if err != nil {
		_ = documents.Close(ctx)
		_ = vectors.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		documents: documents,
		vectors:   vectors,
		embedder:  embedder,
		query: query.NewService(embedder, vectors, documents, keys,
			query.WithServiceLogger(logger)),
	}, nil
}

// buildExtraction assembles the LLM gateway, extractor registry, and
// orchestrator for one extraction run.
func (a *App) buildExtraction() (*extract.Orchestrator, error) {
	models, err := buildModelRegistry(a.cfg)
	if err != nil {
		return nil, err
	}
	llmClient := llm.NewClient(models, llm.WithLogger(a.logger))
	gateway := extract.NewLLMGateway(llmClient, a.cfg.LLMMaxTokens)
	prompts := prompt.NewLoader(a.cfg.PromptDir)

	registry := extract.NewRegistry()
	if err := extract.RegisterAll(registry, prompts, gateway, extract.DefaultConfig()); err != nil {
		return nil, fmt.Errorf("register extractors: %w", err)
	}

	store := storage.NewKnowledgeStore(a.cfg.ProjectID, a.documents, a.vectors, a.embedder,
		storage.WithStoreLogger(a.logger))
	return extract.NewOrchestrator(registry, store,
		extract.WithOrchestratorLogger(a.logger)), nil
}

// Close releases store connections.
func (a *App) Close(ctx context.Context) {
	if err := a.documents.Close(ctx); err != nil {
		a.logger.Warn("document store close failed", "error", err)
	}
	if err := a.vectors.Close(); err != nil {
		a.logger.Warn("vector store close failed", "error", err)
	}
}

func buildKeyRegistry(cfg *config.Config) (*query.KeyRegistry, error) {
	keys := query.NewKeyRegistry()
	for i, k := range cfg.APIKeys {
		tier, err := query.ParseTier(k.Tier)
		if err != nil {
			return nil, fmt.Errorf("api_keys[%d]: %w", i, err)
		}
		if err := keys.Add(k.Key, tier, k.ExpiresAt); err != nil {
			return nil, fmt.Errorf("api_keys[%d]: %w", i, err)
		}
	}
	return keys, nil
}

// buildModelRegistry loads the capability registry from the configured
// JSON file, or routes everything to the single configured model.
func buildModelRegistry(cfg *config.Config) (*model.Registry, error) {
	if cfg.ModelRegistryPath != "" {
		data, err := os.ReadFile(cfg.ModelRegistryPath)
		if err != nil {
			return nil, fmt.Errorf("read model registry: %w", err)
		}
		registry, err := model.LoadFromJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse model registry: %w", err)
		}
		return registry, nil
	}

	return model.FromEndpoint(cfg.LLMModel, &model.EndpointConfig{
		Provider:  "anthropic",
		Model:     cfg.LLMModel,
		APIKey:    cfg.AnthropicAPIKey,
		MaxTokens: cfg.LLMMaxTokens,
	}), nil
}
