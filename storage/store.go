package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/knowledgepipe/embed"
	"github.com/c360studio/knowledgepipe/knowledge"
)

// DocumentBackend is the document-store surface the knowledge store drives.
// *DocumentStore implements it.
type DocumentBackend interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	GetSource(ctx context.Context, id string) (*knowledge.Source, error)
	ListChunksBySource(ctx context.Context, projectID, sourceID string) ([]*knowledge.Chunk, error)
	UpdateSourceStatus(ctx context.Context, id string, status knowledge.SourceStatus) error
	FindExtractionID(ctx context.Context, projectID, chunkID string, typ knowledge.Type) (string, error)
	InsertExtraction(ctx context.Context, e *knowledge.Extraction) (string, error)
	GetExtraction(ctx context.Context, id string) (*knowledge.Extraction, error)
}

// VectorWriter is the vector-store surface the knowledge store writes
// through. The payload map is converted to store-native values by the
// implementation.
type VectorWriter interface {
	UpsertExtractionVector(ctx context.Context, id string, vector []float32, payload map[string]any) error
}

// SaveResult reports the outcome of storing one extraction across the two
// stores.
type SaveResult struct {
	ExtractionID string `json:"extraction_id"`
	MongoSaved   bool   `json:"mongodb_saved"`
	QdrantSaved  bool   `json:"qdrant_saved"`
}

// KnowledgeStore coordinates extraction persistence: document record first,
// then the paired vector upsert. The two writes are not transactional; a
// vector-side failure leaves the document record in place and is reported
// through the SaveResult, not an error.
//
// The store starts disconnected. Callers bracket work with Connect and
// Close, or rely on the orchestrator's auto-connect.
type KnowledgeStore struct {
	projectID string
	documents DocumentBackend
	vectors   VectorWriter
	embedder  embed.Embedder
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	srcCache  map[string]*knowledge.Source
}

// StoreOption configures the knowledge store.
type StoreOption func(*KnowledgeStore)

// WithStoreLogger sets the logger used by the knowledge store.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *KnowledgeStore) {
		s.logger = logger
	}
}

// NewKnowledgeStore creates a disconnected knowledge store scoped to one
// project namespace.
func NewKnowledgeStore(projectID string, documents DocumentBackend, vectors VectorWriter, embedder embed.Embedder, opts ...StoreOption) *KnowledgeStore {
	s := &KnowledgeStore{
		projectID: projectID,
		documents: documents,
		vectors:   vectors,
		embedder:  embedder,
		logger:    slog.Default(),
		srcCache:  make(map[string]*knowledge.Source),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProjectID returns the project namespace the store writes into.
func (s *KnowledgeStore) ProjectID() string {
	return s.projectID
}

// Connect establishes the document-store connection. Connecting an already
// connected store is a no-op.
func (s *KnowledgeStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.documents.Connect(ctx); err != nil {
		return fmt.Errorf("connect document store: %w", err)
	}
	s.connected = true
	return nil
}

// Close tears the document-store connection down. Pair with Connect for
// deterministic teardown:
//
//	if err := store.Connect(ctx); err != nil { ... }
//	defer store.Close(ctx)
func (s *KnowledgeStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	s.srcCache = make(map[string]*knowledge.Source)
	if err := s.documents.Close(ctx); err != nil {
		return fmt.Errorf("close document store: %w", err)
	}
	return nil
}

// Connected reports whether the store is connected.
func (s *KnowledgeStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *KnowledgeStore) requireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	return nil
}

// Source retrieves a source by id.
func (s *KnowledgeStore) Source(ctx context.Context, id string) (*knowledge.Source, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	return s.cachedSource(ctx, id)
}

// ChunksBySource returns a source's chunks in chunk-index order.
func (s *KnowledgeStore) ChunksBySource(ctx context.Context, sourceID string) ([]*knowledge.Chunk, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	return s.documents.ListChunksBySource(ctx, s.projectID, sourceID)
}

// SetSourceStatus moves a source through its ingestion lifecycle.
func (s *KnowledgeStore) SetSourceStatus(ctx context.Context, sourceID string, status knowledge.SourceStatus) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	return s.documents.UpdateSourceStatus(ctx, sourceID, status)
}

// Extraction retrieves a stored extraction by id.
func (s *KnowledgeStore) Extraction(ctx context.Context, id string) (*knowledge.Extraction, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	return s.documents.GetExtraction(ctx, id)
}

// SaveExtraction stores one extraction. The document record is written
// first; the vector upsert follows and its failure modes (embedding error,
// wrong dimensionality, store fault) downgrade QdrantSaved rather than
// failing the save. Re-saving the same (chunk_id, type) pair short-circuits
// to the prior id, so retries are idempotent.
func (s *KnowledgeStore) SaveExtraction(ctx context.Context, e *knowledge.Extraction) (*SaveResult, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if e.Content == nil {
		return nil, &knowledge.ValidationError{Field: "content", Reason: "content is required"}
	}
	e.ProjectID = s.projectID

	priorID, err := s.documents.FindExtractionID(ctx, s.projectID, e.ChunkID, e.Type)
	if err == nil {
		s.logger.Debug("extraction already stored",
			"id", priorID, "chunk_id", e.ChunkID, "type", e.Type)
		return &SaveResult{ExtractionID: priorID, MongoSaved: true, QdrantSaved: false}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check existing extraction: %w", err)
	}

	id, err := s.documents.InsertExtraction(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("insert extraction: %w", err)
	}
	result := &SaveResult{ExtractionID: id, MongoSaved: true}

	text := e.Content.EmbeddingText()
	if text == "" {
		s.logger.Warn("extraction has no embeddable text", "id", id, "type", e.Type)
		return result, nil
	}
	vector, err := s.embedder.EmbedDocument(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed, document record kept",
			"id", id, "type", e.Type, "error", err)
		return result, nil
	}
	if err := embed.ValidateVector(vector); err != nil {
		s.logger.Warn("rejecting vector, document record kept",
			"id", id, "type", e.Type, "error", err)
		return result, nil
	}

	if err := s.vectors.UpsertExtractionVector(ctx, id, vector, s.vectorPayload(ctx, e)); err != nil {
		s.logger.Warn("vector upsert failed, document record kept",
			"id", id, "type", e.Type, "error", err)
		return result, nil
	}
	result.QdrantSaved = true
	return result, nil
}

// vectorPayload assembles the payload stored next to an extraction vector:
// the filterable envelope fields, the content map for listings, and a
// snapshot of the source's metadata for attribution.
func (s *KnowledgeStore) vectorPayload(ctx context.Context, e *knowledge.Extraction) map[string]any {
	payload := map[string]any{
		"project_id":       e.ProjectID,
		"content_type":     "extraction",
		"extraction_type":  string(e.Type),
		"source_id":        e.SourceID,
		"chunk_id":         e.ChunkID,
		"content":          e.Content.Map(),
		"extraction_title": knowledge.Title(e.Content),
	}
	if len(e.Topics) > 0 {
		payload["topics"] = e.Topics
	}

	src, err := s.cachedSource(ctx, e.SourceID)
	if err != nil {
		s.logger.Warn("source snapshot unavailable", "source_id", e.SourceID, "error", err)
		return payload
	}
	payload["source_title"] = src.Title
	payload["source_type"] = string(src.Type)
	if src.Category != "" {
		payload["source_category"] = src.Category
	}
	if src.Year != 0 {
		payload["source_year"] = src.Year
	}
	return payload
}

// cachedSource memoizes source lookups for the lifetime of the connection.
// A pipeline run saves many extractions against one source.
func (s *KnowledgeStore) cachedSource(ctx context.Context, id string) (*knowledge.Source, error) {
	s.mu.Lock()
	if src, ok := s.srcCache[id]; ok {
		s.mu.Unlock()
		return src, nil
	}
	s.mu.Unlock()

	src, err := s.documents.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.srcCache[id] = src
	s.mu.Unlock()
	return src, nil
}
