// Package storage persists sources, chunks, and extraction records in
// MongoDB and pairs each stored extraction with a vector-store write.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/c360studio/knowledgepipe/knowledge"
)

// Collection names.
const (
	CollectionSources     = "sources"
	CollectionChunks      = "chunks"
	CollectionExtractions = "extractions"
)

// DocumentConfig holds the MongoDB connection settings.
type DocumentConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// DocumentStore is the typed MongoDB client for the three pipeline
// collections. Construct with NewDocumentStore, then Connect before use.
// Safe for concurrent use once connected.
type DocumentStore struct {
	cfg    DocumentConfig
	logger *slog.Logger

	client      *mongo.Client
	sources     *mongo.Collection
	chunks      *mongo.Collection
	extractions *mongo.Collection
}

// Option configures the document store.
type Option func(*DocumentStore)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *DocumentStore) {
		s.logger = logger
	}
}

// NewDocumentStore creates an unconnected document store.
func NewDocumentStore(cfg DocumentConfig, opts ...Option) *DocumentStore {
	s := &DocumentStore{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials MongoDB, verifies the connection, and ensures the
// collection indexes. Index creation failures are logged, not fatal, so
// read-only credentials can still connect.
func (s *DocumentStore) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	clientOpts := options.Client().ApplyURI(s.cfg.URI)
	if s.cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(s.cfg.MaxPoolSize)
	}
	if s.cfg.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(s.cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(s.cfg.Database)
	s.client = client
	s.sources = db.Collection(CollectionSources)
	s.chunks = db.Collection(CollectionChunks)
	s.extractions = db.Collection(CollectionExtractions)

	if err := s.ensureIndexes(ctx); err != nil {
		s.logger.Warn("index creation failed", "database", s.cfg.Database, "error", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *DocumentStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.sources = nil
	s.chunks = nil
	s.extractions = nil
	if err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *DocumentStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	return nil
}

func (s *DocumentStore) ensureIndexes(ctx context.Context) error {
	plan := []struct {
		col    *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.sources, []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "type", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "category", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "tags", Value: 1}}},
		}},
		{s.chunks, []mongo.IndexModel{
			{Keys: bson.D{{Key: "source_id", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "source_id", Value: 1}}},
		}},
		{s.extractions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "topics", Value: 1}}},
			{Keys: bson.D{{Key: "source_id", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "source_id", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "type", Value: 1}}},
		}},
	}
	for _, p := range plan {
		if _, err := p.col.Indexes().CreateMany(ctx, p.models); err != nil {
			return fmt.Errorf("create %s indexes: %w", p.col.Name(), err)
		}
	}
	return nil
}

// validateID checks that an externally supplied id is a well-formed
// 24-character hex ObjectId. Ids are stored as hex strings, so this is a
// format check only.
func validateID(field, id string) error {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return &InvalidIDError{Field: field, ID: id}
	}
	return nil
}

// InsertSource stores a new source record and returns its id. A missing id
// is assigned; a missing status defaults to pending.
func (s *DocumentStore) InsertSource(ctx context.Context, src *knowledge.Source) (string, error) {
	if s.client == nil {
		return "", ErrNotConnected
	}
	if !src.Type.IsValid() {
		return "", &knowledge.ValidationError{Field: "type", Reason: "unknown source type " + string(src.Type)}
	}
	if src.Title == "" {
		return "", &knowledge.ValidationError{Field: "title", Reason: "required for source"}
	}
	if src.ID == "" {
		src.ID = primitive.NewObjectID().Hex()
	} else if err := validateID("source id", src.ID); err != nil {
		return "", err
	}
	if src.Status == "" {
		src.Status = knowledge.SourceStatusPending
	}
	now := time.Now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now

	if _, err := s.sources.InsertOne(ctx, src); err != nil {
		return "", fmt.Errorf("insert source: %w", err)
	}
	return src.ID, nil
}

// GetSource retrieves a source by id.
func (s *DocumentStore) GetSource(ctx context.Context, id string) (*knowledge.Source, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if err := validateID("source id", id); err != nil {
		return nil, err
	}

	var src knowledge.Source
	err := s.sources.FindOne(ctx, bson.M{"_id": id}).Decode(&src)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return &src, nil
}

// GetSources retrieves a batch of sources keyed by id. Missing ids are
// absent from the result rather than an error.
func (s *DocumentStore) GetSources(ctx context.Context, ids []string) (map[string]*knowledge.Source, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if len(ids) == 0 {
		return map[string]*knowledge.Source{}, nil
	}
	for _, id := range ids {
		if err := validateID("source id", id); err != nil {
			return nil, err
		}
	}

	cursor, err := s.sources.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find sources: %w", err)
	}
	var found []*knowledge.Source
	if err := cursor.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}

	result := make(map[string]*knowledge.Source, len(found))
	for _, src := range found {
		result[src.ID] = src
	}
	return result, nil
}

// SourceFilter narrows ListSources. Zero-value fields are ignored.
type SourceFilter struct {
	ProjectID string
	Status    knowledge.SourceStatus
	Type      knowledge.SourceType
	Category  string
	Tag       string
	Limit     int64
}

func (f SourceFilter) query() bson.M {
	q := bson.M{}
	if f.ProjectID != "" {
		q["project_id"] = f.ProjectID
	}
	if f.Status != "" {
		q["status"] = string(f.Status)
	}
	if f.Type != "" {
		q["type"] = string(f.Type)
	}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.Tag != "" {
		q["tags"] = f.Tag
	}
	return q
}

// ListSources returns sources matching the filter, newest first.
func (s *DocumentStore) ListSources(ctx context.Context, f SourceFilter) ([]*knowledge.Source, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		findOpts.SetLimit(f.Limit)
	}
	cursor, err := s.sources.Find(ctx, f.query(), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find sources: %w", err)
	}
	var sources []*knowledge.Source
	if err := cursor.All(ctx, &sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return sources, nil
}

// UpdateSource applies a partial update to a source. The empty update set
// is rejected, and the id field is immutable.
func (s *DocumentStore) UpdateSource(ctx context.Context, id string, fields map[string]any) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if err := validateID("source id", id); err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrEmptyUpdate
	}

	update := bson.M{}
	for k, v := range fields {
		if k == "_id" || k == "id" {
			continue
		}
		update[k] = v
	}
	if len(update) == 0 {
		return ErrEmptyUpdate
	}
	update["updated_at"] = time.Now().UTC()

	res, err := s.sources.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSourceStatus moves a source through its ingestion lifecycle.
func (s *DocumentStore) UpdateSourceStatus(ctx context.Context, id string, status knowledge.SourceStatus) error {
	return s.UpdateSource(ctx, id, map[string]any{"status": string(status)})
}

// InsertChunks stores a batch of chunks unordered and returns the inserted
// ids. Missing chunk ids are assigned and the schema version is stamped.
func (s *DocumentStore) InsertChunks(ctx context.Context, chunks []*knowledge.Chunk) ([]string, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	docs := make([]any, 0, len(chunks))
	for i, c := range chunks {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if err := validateID("source id", c.SourceID); err != nil {
			return nil, err
		}
		if c.ID == "" {
			c.ID = primitive.NewObjectID().Hex()
		} else if err := validateID("chunk id", c.ID); err != nil {
			return nil, err
		}
		if c.SchemaVersion == "" {
			c.SchemaVersion = knowledge.SchemaVersion
		}
		docs = append(docs, c)
	}

	res, err := s.chunks.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	ids := make([]string, 0, len(chunks))
	if res != nil {
		for _, raw := range res.InsertedIDs {
			if id, ok := raw.(string); ok {
				ids = append(ids, id)
			}
		}
	}
	if err != nil {
		return ids, fmt.Errorf("insert chunks: %w", err)
	}
	return ids, nil
}

// GetChunk retrieves a chunk by id.
func (s *DocumentStore) GetChunk(ctx context.Context, id string) (*knowledge.Chunk, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if err := validateID("chunk id", id); err != nil {
		return nil, err
	}

	var c knowledge.Chunk
	err := s.chunks.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return &c, nil
}

// ListChunksBySource returns a source's chunks ordered by chunk index, so
// iteration over a source is deterministic.
func (s *DocumentStore) ListChunksBySource(ctx context.Context, projectID, sourceID string) ([]*knowledge.Chunk, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if err := validateID("source id", sourceID); err != nil {
		return nil, err
	}

	filter := bson.M{"source_id": sourceID}
	if projectID != "" {
		filter["project_id"] = projectID
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "position.chunk_index", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.chunks.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find chunks: %w", err)
	}
	var chunks []*knowledge.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	return chunks, nil
}

// FindExtractionID looks up the id of an extraction by its deduplication
// key (chunk_id, type) within a project namespace. The chunk id may be a
// synthesized sentinel, so it is not validated as an ObjectId.
func (s *DocumentStore) FindExtractionID(ctx context.Context, projectID, chunkID string, typ knowledge.Type) (string, error) {
	if s.client == nil {
		return "", ErrNotConnected
	}

	filter := bson.M{"chunk_id": chunkID, "type": string(typ)}
	if projectID != "" {
		filter["project_id"] = projectID
	}
	var rec struct {
		ID string `bson:"_id"`
	}
	err := s.extractions.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find extraction: %w", err)
	}
	return rec.ID, nil
}

// extractionDocument renders an extraction as its stored form: envelope
// fields at the top level, category fields nested under content.
func extractionDocument(e *knowledge.Extraction) bson.M {
	doc := bson.M{
		"_id":            e.ID,
		"project_id":     e.ProjectID,
		"source_id":      e.SourceID,
		"chunk_id":       e.ChunkID,
		"type":           string(e.Type),
		"confidence":     e.Confidence,
		"schema_version": e.SchemaVersion,
		"extracted_at":   e.ExtractedAt,
		"context_level":  string(e.ContextLevel),
		"context_id":     e.ContextID,
		"content":        e.Content.Map(),
	}
	if len(e.Topics) > 0 {
		doc["topics"] = e.Topics
	}
	if len(e.ChunkIDs) > 0 {
		doc["chunk_ids"] = e.ChunkIDs
	}
	return doc
}

// InsertExtraction stores an extraction record and returns its id.
func (s *DocumentStore) InsertExtraction(ctx context.Context, e *knowledge.Extraction) (string, error) {
	if s.client == nil {
		return "", ErrNotConnected
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = primitive.NewObjectID().Hex()
	} else if err := validateID("extraction id", e.ID); err != nil {
		return "", err
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = knowledge.SchemaVersion
	}
	if e.ExtractedAt.IsZero() {
		e.ExtractedAt = time.Now().UTC()
	}

	if _, err := s.extractions.InsertOne(ctx, extractionDocument(e)); err != nil {
		return "", fmt.Errorf("insert extraction: %w", err)
	}
	return e.ID, nil
}

// extractionRecord is the stored shape of an extraction document.
type extractionRecord struct {
	ID            string                 `bson:"_id"`
	ProjectID     string                 `bson:"project_id"`
	SourceID      string                 `bson:"source_id"`
	ChunkID       string                 `bson:"chunk_id"`
	Type          knowledge.Type         `bson:"type"`
	Topics        []string               `bson:"topics,omitempty"`
	Confidence    float64                `bson:"confidence"`
	SchemaVersion string                 `bson:"schema_version"`
	ExtractedAt   time.Time              `bson:"extracted_at"`
	ContextLevel  knowledge.ContextLevel `bson:"context_level"`
	ContextID     string                 `bson:"context_id"`
	ChunkIDs      []string               `bson:"chunk_ids,omitempty"`
	Content       bson.M                 `bson:"content"`
}

// toExtraction rebuilds the typed extraction, routing the stored content
// map back through the category shape parser.
func (r *extractionRecord) toExtraction() (*knowledge.Extraction, error) {
	raw, err := json.Marshal(r.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal %s content: %w", r.Type, err)
	}
	content, err := knowledge.ParseContent(r.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("extraction %s: %w", r.ID, err)
	}
	return &knowledge.Extraction{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		SourceID:      r.SourceID,
		ChunkID:       r.ChunkID,
		Type:          r.Type,
		Topics:        r.Topics,
		Confidence:    r.Confidence,
		SchemaVersion: r.SchemaVersion,
		ExtractedAt:   r.ExtractedAt,
		ContextLevel:  r.ContextLevel,
		ContextID:     r.ContextID,
		ChunkIDs:      r.ChunkIDs,
		Content:       content,
	}, nil
}

// GetExtraction retrieves an extraction by id.
func (s *DocumentStore) GetExtraction(ctx context.Context, id string) (*knowledge.Extraction, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if err := validateID("extraction id", id); err != nil {
		return nil, err
	}

	var rec extractionRecord
	err := s.extractions.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("extraction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get extraction: %w", err)
	}
	return rec.toExtraction()
}

// ExtractionFilter narrows ListExtractions. Zero-value fields are ignored.
type ExtractionFilter struct {
	ProjectID string
	SourceID  string
	Type      knowledge.Type
	Topic     string
	Limit     int64
}

func (f ExtractionFilter) query() bson.M {
	q := bson.M{}
	if f.ProjectID != "" {
		q["project_id"] = f.ProjectID
	}
	if f.SourceID != "" {
		q["source_id"] = f.SourceID
	}
	if f.Type != "" {
		q["type"] = string(f.Type)
	}
	if f.Topic != "" {
		q["topics"] = f.Topic
	}
	return q
}

// ListExtractions returns extractions matching the filter, newest first.
// Records whose content no longer parses are skipped with a warning.
func (s *DocumentStore) ListExtractions(ctx context.Context, f ExtractionFilter) ([]*knowledge.Extraction, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if f.SourceID != "" {
		if err := validateID("source id", f.SourceID); err != nil {
			return nil, err
		}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "extracted_at", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		findOpts.SetLimit(f.Limit)
	}
	cursor, err := s.extractions.Find(ctx, f.query(), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find extractions: %w", err)
	}
	defer cursor.Close(ctx)

	var extractions []*knowledge.Extraction
	for cursor.Next(ctx) {
		var rec extractionRecord
		if err := cursor.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode extraction: %w", err)
		}
		e, err := rec.toExtraction()
		if err != nil {
			s.logger.Warn("skipping unparseable extraction", "id", rec.ID, "type", rec.Type, "error", err)
			continue
		}
		extractions = append(extractions, e)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate extractions: %w", err)
	}
	return extractions, nil
}

// CountExtractionsBySource counts a source's extractions grouped by type.
func (s *DocumentStore) CountExtractionsBySource(ctx context.Context, projectID, sourceID string) (map[knowledge.Type]int, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	if err := validateID("source id", sourceID); err != nil {
		return nil, err
	}

	match := bson.M{"source_id": sourceID}
	if projectID != "" {
		match["project_id"] = projectID
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$type", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.extractions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count extractions: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[knowledge.Type]int)
	for cursor.Next(ctx) {
		var row struct {
			Type  string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode count: %w", err)
		}
		counts[knowledge.Type(row.Type)] = row.Count
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}
