// Package ingest loads an external parser's output into the two stores:
// the source record and its chunks into the document store, one embedding
// per chunk into the vector store. It drives the source lifecycle
// pending → processing → complete/failed.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/knowledgepipe/embed"
	"github.com/c360studio/knowledgepipe/knowledge"
)

// charsPerToken is the rough character-to-token ratio used when the
// parser did not report token counts.
const charsPerToken = 4

// File is the external parser's output for one document.
type File struct {
	Source knowledge.Source   `json:"source"`
	Chunks []*knowledge.Chunk `json:"chunks"`
}

// Load reads and decodes a parsed-document file. Structural validation
// happens at insert time; Load only rejects files with nothing to ingest.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parsed document: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode parsed document %s: %w", path, err)
	}
	if f.Source.Title == "" {
		return nil, fmt.Errorf("parsed document %s: source.title is required", path)
	}
	if len(f.Chunks) == 0 {
		return nil, fmt.Errorf("parsed document %s: no chunks", path)
	}
	if f.Source.Type == "" {
		f.Source.Type = knowledge.SourceTypeOther
	}
	return &f, nil
}

// DocumentWriter is the document-store surface ingestion writes through.
type DocumentWriter interface {
	InsertSource(ctx context.Context, src *knowledge.Source) (string, error)
	InsertChunks(ctx context.Context, chunks []*knowledge.Chunk) ([]string, error)
	UpdateSourceStatus(ctx context.Context, id string, status knowledge.SourceStatus) error
}

// VectorUpserter is the vector-store surface ingestion writes through.
type VectorUpserter interface {
	EnsureCollection(ctx context.Context) error
	UpsertChunkVector(ctx context.Context, id string, vector []float32, payload map[string]any) error
}

// Stats reports one ingestion run.
type Stats struct {
	SourceID        string `json:"source_id"`
	ChunksInserted  int    `json:"chunks_inserted"`
	VectorsUpserted int    `json:"vectors_upserted"`
	VectorFailures  int    `json:"vector_failures"`
}

// Pipeline writes parsed documents into the stores. The document stores
// are authoritative: a chunk whose embedding or vector write fails stays
// readable in the document store and the miss is reported in the stats.
type Pipeline struct {
	projectID string
	documents DocumentWriter
	vectors   VectorUpserter
	embedder  embed.Embedder
	parallel  int
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithParallelism bounds concurrent embedding calls.
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallel = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates an ingestion pipeline for one project namespace.
func New(projectID string, documents DocumentWriter, vectors VectorUpserter, embedder embed.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		projectID: projectID,
		documents: documents,
		vectors:   vectors,
		embedder:  embedder,
		parallel:  4,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ingests one parsed document. Document-store failures abort the run
// and mark the source failed; per-chunk vector failures are logged and
// counted but never fail the source.
func (p *Pipeline) Run(ctx context.Context, f *File) (*Stats, error) {
	src := f.Source
	src.ProjectID = p.projectID
	src.Status = knowledge.SourceStatusPending

	sourceID, err := p.documents.InsertSource(ctx, &src)
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	stats := &Stats{SourceID: sourceID}

	for _, c := range f.Chunks {
		c.ProjectID = p.projectID
		c.SourceID = sourceID
		if c.TokenCount == 0 && c.Content != "" {
			c.TokenCount = (len(c.Content) + charsPerToken - 1) / charsPerToken
		}
	}

	ids, err := p.documents.InsertChunks(ctx, f.Chunks)
	if err != nil {
		p.fail(ctx, sourceID)
		return stats, fmt.Errorf("insert chunks: %w", err)
	}
	stats.ChunksInserted = len(ids)

	if err := p.documents.UpdateSourceStatus(ctx, sourceID, knowledge.SourceStatusProcessing); err != nil {
		return stats, fmt.Errorf("mark source processing: %w", err)
	}
	p.logger.Info("ingestion started",
		"source_id", sourceID, "title", src.Title, "chunks", len(ids))

	if err := p.vectors.EnsureCollection(ctx); err != nil {
		p.fail(ctx, sourceID)
		return stats, fmt.Errorf("ensure vector collection: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for _, c := range f.Chunks {
		g.Go(func() error {
			if err := p.indexChunk(gctx, &src, c); err != nil {
				p.logger.Warn("chunk vector skipped, document record kept",
					"chunk_id", c.ID, "error", err)
				mu.Lock()
				stats.VectorFailures++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			stats.VectorsUpserted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := knowledge.SourceStatusComplete
	if err := p.documents.UpdateSourceStatus(ctx, sourceID, status); err != nil {
		return stats, fmt.Errorf("mark source complete: %w", err)
	}

	p.logger.Info("ingestion finished",
		"source_id", sourceID,
		"status", status,
		"chunks", stats.ChunksInserted,
		"vectors", stats.VectorsUpserted,
		"vector_failures", stats.VectorFailures)
	return stats, nil
}

// indexChunk embeds one chunk and upserts its vector.
func (p *Pipeline) indexChunk(ctx context.Context, src *knowledge.Source, c *knowledge.Chunk) error {
	vec, err := p.embedder.EmbedDocument(ctx, c.Content)
	if err != nil {
		return fmt.Errorf("embed chunk: %w", err)
	}
	if err := embed.ValidateVector(vec); err != nil {
		return err
	}

	payload := map[string]any{
		"source_id":    c.SourceID,
		"chunk_id":     c.ID,
		"content":      c.Content,
		"token_count":  c.TokenCount,
		"chunk_index":  c.Position.ChunkIndex,
		"source_title": src.Title,
		"source_type":  string(src.Type),
	}
	if c.Position.Chapter != "" {
		payload["chapter"] = c.Position.Chapter
	}
	if c.Position.Section != "" {
		payload["section"] = c.Position.Section
	}
	if c.Position.Page != 0 {
		payload["page"] = c.Position.Page
	}
	if src.Category != "" {
		payload["source_category"] = src.Category
	}
	if src.Year != 0 {
		payload["source_year"] = src.Year
	}

	if err := p.vectors.UpsertChunkVector(ctx, c.ID, vec, payload); err != nil {
		return err
	}
	return nil
}

// fail marks the source failed, keeping the original error primary.
func (p *Pipeline) fail(ctx context.Context, sourceID string) {
	if err := p.documents.UpdateSourceStatus(ctx, sourceID, knowledge.SourceStatusFailed); err != nil {
		p.logger.Warn("source status update failed",
			"source_id", sourceID, "status", knowledge.SourceStatusFailed, "error", err)
	}
}
