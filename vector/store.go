// Package vector wraps the Qdrant client behind the pipeline's single
// unified collection. Points carry a content_type payload key ("chunk" or
// "extraction") instead of living in separate collections, so semantic
// search can span both kinds in one query.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/c360studio/knowledgepipe/embed"
)

// CollectionName is the default unified collection.
const CollectionName = "knowledge_vectors"

// Content type payload values.
const (
	ContentTypeChunk      = "chunk"
	ContentTypeExtraction = "extraction"
)

// pointNamespace is the fixed namespace for deriving deterministic UUID5
// point ids from store-assigned string ids.
var pointNamespace = uuid.MustParse("b1d3d2a6-84f5-4f8c-9a41-7c2d5f30e9bb")

// PointID maps a store-assigned string id to its Qdrant point id. The same
// input always yields the same UUID, so upserts are idempotent. The
// original id is preserved in the point payload under original_id.
func PointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

// ConnectionError reports an unreachable vector store.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("vector store unreachable at %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Config holds the Qdrant connection settings.
type Config struct {
	// URL is the gRPC address, with or without a scheme
	// (e.g. "localhost:6334", "https://qdrant.example.com:6334").
	URL string

	// APIKey authenticates against a secured deployment. Optional.
	APIKey string

	// Collection overrides the default collection name.
	Collection string

	// ProjectID scopes every read and write to one project namespace.
	ProjectID string
}

// Store is the project-scoped Qdrant client. Safe for concurrent use.
type Store struct {
	client     *qdrant.Client
	addr       string
	collection string
	projectID  string
	logger     *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New connects to Qdrant and verifies the connection by listing collections.
// An unreachable store is a ConnectionError. The collection itself is not
// created here; pipeline-side callers follow up with EnsureCollection.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	host, port, useTLS, err := parseAddr(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, &ConnectionError{Addr: cfg.URL, Err: err}
	}

	s := &Store{
		client:     client,
		addr:       cfg.URL,
		collection: cfg.Collection,
		projectID:  cfg.ProjectID,
		logger:     slog.Default(),
	}
	if s.collection == "" {
		s.collection = CollectionName
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// parseAddr splits a Qdrant URL into host, port, and TLS mode. The port
// defaults to 6334, the gRPC listener.
func parseAddr(url string) (string, int, bool, error) {
	if url == "" {
		return "", 0, false, fmt.Errorf("vector store URL is empty")
	}

	useTLS := false
	addr := url
	switch {
	case strings.HasPrefix(addr, "https://"):
		useTLS = true
		addr = strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = strings.TrimPrefix(addr, "http://")
	}
	addr = strings.TrimSuffix(addr, "/")

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in the address.
		return addr, 6334, useTLS, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid vector store port %q: %w", portStr, err)
	}
	return host, port, useTLS, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close vector store: %w", err)
	}
	return nil
}

// Collection returns the collection name the store operates on.
func (s *Store) Collection() string {
	return s.collection
}

// HealthCheck pings the store by listing collections.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.ListCollections(ctx); err != nil {
		return &ConnectionError{Addr: s.addr, Err: err}
	}
	return nil
}

// EnsureCollection creates the unified collection if it does not exist:
// 768-dimension vectors under cosine distance.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(embed.Dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	s.logger.Info("created vector collection",
		"collection", s.collection, "dimensions", embed.Dimensions)
	return nil
}

// UpsertChunkVector writes a chunk embedding keyed by the chunk's id.
func (s *Store) UpsertChunkVector(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	return s.upsert(ctx, ContentTypeChunk, id, vector, payload)
}

// UpsertExtractionVector writes an extraction embedding keyed by the
// extraction's id.
func (s *Store) UpsertExtractionVector(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	return s.upsert(ctx, ContentTypeExtraction, id, vector, payload)
}

func (s *Store) upsert(ctx context.Context, contentType, id string, vector []float32, payload map[string]any) error {
	if id == "" {
		return fmt.Errorf("upsert %s vector: empty id", contentType)
	}
	if err := embed.ValidateVector(vector); err != nil {
		return fmt.Errorf("upsert %s vector %s: %w", contentType, id, err)
	}

	stored := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		stored[k] = v
	}
	stored["original_id"] = id
	stored["content_type"] = contentType
	stored["project_id"] = s.projectID

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(PointID(id)),
				Vectors: qdrant.NewVectors(vector...),
				Payload: toValueMap(stored),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s vector %s: %w", contentType, id, err)
	}
	return nil
}
