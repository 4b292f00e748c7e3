package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/knowledge/hierarchy"
	"github.com/c360studio/knowledgepipe/storage"
)

// Token budgets per hierarchy level. Chapters carry long-form method
// content, sections carry focused decision content, and warnings surface
// at chunk granularity.
const (
	ChapterTokenBudget = 8192
	SectionTokenBudget = 4096
)

// levelRouting assigns each category to the hierarchy level where its
// knowledge lives. Chunk-level content is never combined, so that level
// has no budget entry.
var levelRouting = []struct {
	level      knowledge.ContextLevel
	categories []knowledge.Type
}{
	{knowledge.ContextChapter, []knowledge.Type{knowledge.TypeMethodology, knowledge.TypeWorkflow}},
	{knowledge.ContextSection, []knowledge.Type{knowledge.TypeDecision, knowledge.TypePattern, knowledge.TypeChecklist, knowledge.TypePersona}},
	{knowledge.ContextChunk, []knowledge.Type{knowledge.TypeWarning}},
}

// LevelStats aggregates one hierarchy level's outcomes for a run.
type LevelStats struct {
	// Contexts is the number of content units built at this level.
	Contexts int `json:"contexts"`
	// Attempts is the number of extractor invocations.
	Attempts int `json:"attempts"`
	// Successes counts records that validated.
	Successes int `json:"successes"`
	// Failures counts failed results (gateway, parse, validation).
	Failures int `json:"failures"`
	// Tokens is the total LLM token usage at this level.
	Tokens int `json:"tokens"`
}

// Summary reports one source's extraction run.
type Summary struct {
	SourceID string                                 `json:"source_id"`
	Levels   map[knowledge.ContextLevel]*LevelStats `json:"levels"`
	// Saved counts records written to the document store.
	Saved int `json:"saved"`
	// SaveFailures counts records that validated but failed to persist.
	SaveFailures int `json:"save_failures"`
	// Errors collects storage fault messages.
	Errors []string `json:"errors,omitempty"`
}

func newSummary(sourceID string) *Summary {
	return &Summary{
		SourceID: sourceID,
		Levels: map[knowledge.ContextLevel]*LevelStats{
			knowledge.ContextChapter: {},
			knowledge.ContextSection: {},
			knowledge.ContextChunk:   {},
		},
	}
}

// TotalAttempts sums extractor invocations across levels.
func (s *Summary) TotalAttempts() int {
	n := 0
	for _, stats := range s.Levels {
		n += stats.Attempts
	}
	return n
}

// TotalSuccesses sums validated records across levels.
func (s *Summary) TotalSuccesses() int {
	n := 0
	for _, stats := range s.Levels {
		n += stats.Successes
	}
	return n
}

// TotalFailures sums failed results across levels.
func (s *Summary) TotalFailures() int {
	n := 0
	for _, stats := range s.Levels {
		n += stats.Failures
	}
	return n
}

// TotalTokens sums LLM token usage across levels.
func (s *Summary) TotalTokens() int {
	n := 0
	for _, stats := range s.Levels {
		n += stats.Tokens
	}
	return n
}

// Store is the storage surface the orchestrator drives.
type Store interface {
	Connect(ctx context.Context) error
	Connected() bool
	Source(ctx context.Context, id string) (*knowledge.Source, error)
	ChunksBySource(ctx context.Context, sourceID string) ([]*knowledge.Chunk, error)
	SetSourceStatus(ctx context.Context, sourceID string, status knowledge.SourceStatus) error
	SaveExtraction(ctx context.Context, e *knowledge.Extraction) (*storage.SaveResult, error)
}

// Orchestrator walks a source's hierarchy and routes each category to its
// level: methodology and workflow over chapters, decision, pattern,
// checklist, and persona over sections, warning over individual chunks.
// Successful records flow into storage; failures are isolated and counted.
type Orchestrator struct {
	registry *Registry
	store    Store
	parallel int
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithParallelism bounds concurrent extraction calls within a level.
func WithParallelism(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallel = n
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an orchestrator over a registry and store.
func NewOrchestrator(registry *Registry, store Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		store:    store,
		parallel: 4,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// levelContext is one unit of content at a hierarchy level.
type levelContext struct {
	id       string
	content  string
	chunkIDs []string
}

// Extract runs the full category routing for one source and returns the
// per-level summary. The store is connected on demand. Extraction and
// storage failures are recorded in the summary rather than aborting the
// run; only a missing source or an unreachable store returns an error.
func (o *Orchestrator) Extract(ctx context.Context, sourceID string) (*Summary, error) {
	if !o.store.Connected() {
		if err := o.store.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
	}

	src, err := o.store.Source(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	chunks, err := o.store.ChunksBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load chunks for source %s: %w", sourceID, err)
	}

	summary := newSummary(sourceID)
	if len(chunks) == 0 {
		o.logger.Warn("source has no chunks", "source_id", sourceID, "title", src.Title)
		return summary, nil
	}

	o.setStatus(ctx, sourceID, knowledge.SourceStatusProcessing)

	o.logger.Info("extraction run started",
		"source_id", sourceID, "title", src.Title, "chunks", len(chunks))

	values := make([]knowledge.Chunk, len(chunks))
	for i, c := range chunks {
		values[i] = *c
	}
	tree := hierarchy.Build(sourceID, values)

	for _, route := range levelRouting {
		contexts := o.buildContexts(tree, route.level)
		o.runLevel(ctx, summary, route.level, contexts, route.categories)
	}

	status := knowledge.SourceStatusComplete
	if summary.TotalAttempts() > 0 && summary.TotalSuccesses() == 0 && summary.TotalFailures() > 0 {
		status = knowledge.SourceStatusFailed
	}
	o.setStatus(ctx, sourceID, status)

	o.logger.Info("extraction run finished",
		"source_id", sourceID,
		"status", status,
		"attempts", summary.TotalAttempts(),
		"successes", summary.TotalSuccesses(),
		"failures", summary.TotalFailures(),
		"saved", summary.Saved,
		"tokens", summary.TotalTokens())

	return summary, nil
}

// buildContexts materializes one level's content units from the tree.
// Chunks with no chapter form a synthetic chapter-level context; each
// chapter's section-less chunks form a synthetic section-level context.
func (o *Orchestrator) buildContexts(tree *hierarchy.Tree, level knowledge.ContextLevel) []levelContext {
	var contexts []levelContext

	switch level {
	case knowledge.ContextChapter:
		for _, chapter := range tree.Chapters {
			combined := hierarchy.Combine(chapter.ChapterChunks(), ChapterTokenBudget, hierarchy.StrategyTruncate)
			contexts = append(contexts, levelContext{chapter.ID, combined.Content, combined.ChunkIDs})
		}
		if len(tree.Uncategorized) > 0 {
			combined := hierarchy.Combine(tree.Uncategorized, ChapterTokenBudget, hierarchy.StrategyTruncate)
			contexts = append(contexts, levelContext{
				knowledge.UncategorizedChapterID(tree.SourceID), combined.Content, combined.ChunkIDs,
			})
		}

	case knowledge.ContextSection:
		for _, chapter := range tree.Chapters {
			for _, section := range chapter.Sections {
				combined := hierarchy.Combine(section.Chunks, SectionTokenBudget, hierarchy.StrategyTruncate)
				contexts = append(contexts, levelContext{section.ID, combined.Content, combined.ChunkIDs})
			}
			if len(chapter.Uncategorized) > 0 {
				combined := hierarchy.Combine(chapter.Uncategorized, SectionTokenBudget, hierarchy.StrategyTruncate)
				contexts = append(contexts, levelContext{
					knowledge.UncategorizedSectionID(tree.SourceID), combined.Content, combined.ChunkIDs,
				})
			}
		}

	case knowledge.ContextChunk:
		for _, chunk := range tree.AllChunks() {
			contexts = append(contexts, levelContext{chunk.ID, chunk.Content, []string{chunk.ID}})
		}
	}

	return contexts
}

// runLevel fans the level's contexts across its categories behind a
// bounded worker limit and folds outcomes into the summary. A failure in
// one extraction never stops the others.
func (o *Orchestrator) runLevel(ctx context.Context, summary *Summary, level knowledge.ContextLevel, contexts []levelContext, categories []knowledge.Type) {
	stats := summary.Levels[level]
	stats.Contexts = len(contexts)
	if len(contexts) == 0 {
		return
	}

	type unit struct {
		lc  levelContext
		ext *Extractor
	}
	var units []unit
	for _, lc := range contexts {
		for _, typ := range categories {
			ext, err := o.registry.Get(typ)
			if err != nil {
				o.logger.Warn("skipping category", "type", typ, "error", err)
				continue
			}
			units = append(units, unit{lc, ext})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallel)

	for _, u := range units {
		g.Go(func() error {
			results, tokens := u.ext.Extract(gctx, Input{
				Content:      u.lc.content,
				SourceID:     summary.SourceID,
				ContextLevel: level,
				ContextID:    u.lc.id,
				ChunkIDs:     u.lc.chunkIDs,
			})

			category := string(u.ext.ExtractionType())
			llmTokensTotal.WithLabelValues(string(level)).Add(float64(tokens))

			var successes, failures, saved, saveFailed int
			var faults []string
			for _, res := range results {
				if !res.Success() {
					failures++
					extractionsTotal.WithLabelValues(category, statusFailed).Inc()
					o.logger.Warn("extraction failed",
						"type", u.ext.ExtractionType(), "level", level,
						"context_id", u.lc.id, "code", res.Code, "error", res.Error)
					continue
				}
				successes++
				if _, err := o.store.SaveExtraction(gctx, res.Extraction); err != nil {
					saveFailed++
					extractionsTotal.WithLabelValues(category, statusSaveFailed).Inc()
					faults = append(faults, fmt.Sprintf("save %s from %s: %v", u.ext.ExtractionType(), u.lc.id, err))
					o.logger.Error("extraction save failed",
						"type", u.ext.ExtractionType(), "context_id", u.lc.id, "error", err)
					continue
				}
				saved++
				extractionsTotal.WithLabelValues(category, statusSuccess).Inc()
			}

			mu.Lock()
			stats.Attempts++
			stats.Successes += successes
			stats.Failures += failures
			stats.Tokens += tokens
			summary.Saved += saved
			summary.SaveFailures += saveFailed
			summary.Errors = append(summary.Errors, faults...)
			mu.Unlock()
			return nil
		})
	}

	// Workers record their own failures, so the group never returns one.
	_ = g.Wait()

	o.logger.Debug("level finished",
		"level", level, "contexts", stats.Contexts, "attempts", stats.Attempts,
		"successes", stats.Successes, "failures", stats.Failures, "tokens", stats.Tokens)
}

// setStatus updates the source lifecycle status, logging on failure. A
// status write fault never aborts a run.
func (o *Orchestrator) setStatus(ctx context.Context, sourceID string, status knowledge.SourceStatus) {
	if err := o.store.SetSourceStatus(ctx, sourceID, status); err != nil {
		o.logger.Warn("source status update failed",
			"source_id", sourceID, "status", status, "error", err)
	}
}
