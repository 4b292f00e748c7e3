// Package extract turns document content into structured knowledge records.
// Each category has an extractor that prompts the model backend, parses the
// JSON it returns, validates every element against the category's content
// shape, and stamps provenance. An orchestrator walks a source's hierarchy
// and routes each category to the level where its knowledge lives.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/knowledgepipe/llm"
)

// contentSeparator joins the category prompt and the document content in a
// single user message.
const contentSeparator = "\n\nCONTENT TO EXTRACT FROM:\n"

// defaultMaxTokens caps the response length of one extraction call.
const defaultMaxTokens = 8192

// Gateway sends a composed extraction prompt to the model backend and
// returns the raw text response together with the call's total token usage
// (zero when the provider does not report usage).
type Gateway interface {
	Extract(ctx context.Context, prompt, content string) (string, int, error)
}

// LLMGateway is the production Gateway over the shared LLM client. It holds
// no conversation state; every call is a fresh single-message completion
// routed through the extraction capability.
type LLMGateway struct {
	client    *llm.Client
	maxTokens int
	logger    *slog.Logger
}

// NewLLMGateway wraps an LLM client. maxTokens bounds each response; zero
// or negative selects the default.
func NewLLMGateway(client *llm.Client, maxTokens int) *LLMGateway {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &LLMGateway{
		client:    client,
		maxTokens: maxTokens,
		logger:    slog.Default(),
	}
}

// Extract sends prompt and content to the extraction model and returns its
// raw text response.
func (g *LLMGateway) Extract(ctx context.Context, prompt, content string) (string, int, error) {
	// Low temperature keeps the structured JSON output consistent.
	temp := 0.2

	g.logger.Debug("extraction call started", "content_chars", len(content))
	start := time.Now()

	resp, err := g.client.Complete(ctx, llm.Request{
		Capability: "extraction",
		Messages: []llm.Message{
			{Role: "user", Content: prompt + contentSeparator + content},
		},
		Temperature: &temp,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", 0, fmt.Errorf("extraction call: %w", err)
	}

	g.logger.Debug("extraction call completed",
		"model", resp.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return resp.Content, resp.Usage.TotalTokens, nil
}
