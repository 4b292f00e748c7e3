package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/c360studio/knowledgepipe/embed"
)

// Filters narrows a search beyond the always-applied project scope.
// Zero-value fields are ignored.
type Filters struct {
	// ContentType limits hits to "chunk" or "extraction". SearchChunks and
	// SearchExtractions set it themselves; SearchKnowledge leaves it to the
	// caller and spans both kinds when empty.
	ContentType string

	// ExtractionType limits extraction hits to one category.
	ExtractionType string

	// SourceID limits hits to one source.
	SourceID string

	// Topics matches points tagged with any of the given topics.
	Topics []string

	// Source metadata filters from the stored snapshot.
	SourceType     string
	SourceCategory string
	SourceYear     int
}

// Hit is one point returned by a search or listing. ID is the original
// store-assigned id recovered from the payload.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// filter builds the Qdrant filter for a search: the project scope plus any
// set fields. contentType overrides the Filters value when non-empty.
func (s *Store) filter(contentType string, f Filters) *qdrant.Filter {
	if contentType == "" {
		contentType = f.ContentType
	}

	must := []*qdrant.Condition{
		qdrant.NewMatch("project_id", s.projectID),
	}
	if contentType != "" {
		must = append(must, qdrant.NewMatch("content_type", contentType))
	}
	if f.ExtractionType != "" {
		must = append(must, qdrant.NewMatch("extraction_type", f.ExtractionType))
	}
	if f.SourceID != "" {
		must = append(must, qdrant.NewMatch("source_id", f.SourceID))
	}
	if len(f.Topics) > 0 {
		must = append(must, qdrant.NewMatchKeywords("topics", f.Topics...))
	}
	if f.SourceType != "" {
		must = append(must, qdrant.NewMatch("source_type", f.SourceType))
	}
	if f.SourceCategory != "" {
		must = append(must, qdrant.NewMatch("source_category", f.SourceCategory))
	}
	if f.SourceYear != 0 {
		must = append(must, qdrant.NewMatchInt("source_year", int64(f.SourceYear)))
	}
	return &qdrant.Filter{Must: must}
}

// SearchChunks runs a top-k search over chunk points.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, limit int, f Filters) ([]Hit, error) {
	return s.search(ctx, vector, limit, ContentTypeChunk, f)
}

// SearchExtractions runs a top-k search over extraction points.
func (s *Store) SearchExtractions(ctx context.Context, vector []float32, limit int, f Filters) ([]Hit, error) {
	return s.search(ctx, vector, limit, ContentTypeExtraction, f)
}

// SearchKnowledge runs a top-k search spanning chunks and extractions,
// unless f.ContentType narrows it.
func (s *Store) SearchKnowledge(ctx context.Context, vector []float32, limit int, f Filters) ([]Hit, error) {
	return s.search(ctx, vector, limit, "", f)
}

func (s *Store) search(ctx context.Context, vector []float32, limit int, contentType string, f Filters) ([]Hit, error) {
	if err := embed.ValidateVector(vector); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("search: limit must be positive, got %d", limit)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         s.filter(contentType, f),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := payloadToMap(p.GetPayload())
		hits = append(hits, Hit{
			ID:      originalID(payload, p.GetId()),
			Score:   p.GetScore(),
			Payload: payload,
		})
	}
	return hits, nil
}

// ListExtractions returns extraction points of one category without a
// semantic query, optionally narrowed to a topic.
func (s *Store) ListExtractions(ctx context.Context, extractionType string, limit int, topic string) ([]Hit, error) {
	if extractionType == "" {
		return nil, fmt.Errorf("list extractions: extraction type is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("list extractions: limit must be positive, got %d", limit)
	}

	f := Filters{ExtractionType: extractionType}
	if topic != "" {
		f.Topics = []string{topic}
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         s.filter(ContentTypeExtraction, f),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scroll extractions: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := payloadToMap(p.GetPayload())
		hits = append(hits, Hit{
			ID:      originalID(payload, p.GetId()),
			Payload: payload,
		})
	}
	return hits, nil
}

// CountExtractionsBySource counts one source's extraction points grouped
// by category.
func (s *Store) CountExtractionsBySource(ctx context.Context, sourceID string) (map[string]int, error) {
	bySource, err := s.CountExtractionsBySources(ctx, []string{sourceID})
	if err != nil {
		return nil, err
	}
	counts := bySource[sourceID]
	if counts == nil {
		counts = map[string]int{}
	}
	return counts, nil
}

// countScrollPage is the page size for counting scrolls.
const countScrollPage = 1024

// CountExtractionsBySources counts extraction points for a batch of
// sources, grouped by source and category. The scroll carries only the two
// payload keys the aggregation needs.
func (s *Store) CountExtractionsBySources(ctx context.Context, sourceIDs []string) (map[string]map[string]int, error) {
	counts := make(map[string]map[string]int, len(sourceIDs))
	for _, id := range sourceIDs {
		counts[id] = map[string]int{}
	}
	if len(sourceIDs) == 0 {
		return counts, nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("project_id", s.projectID),
			qdrant.NewMatch("content_type", ContentTypeExtraction),
			qdrant.NewMatchKeywords("source_id", sourceIDs...),
		},
	}

	points := s.client.GetPointsClient()
	var offset *qdrant.PointId
	for {
		resp, err := points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(countScrollPage)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("source_id", "extraction_type"),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll extraction counts: %w", err)
		}

		for _, p := range resp.GetResult() {
			payload := payloadToMap(p.GetPayload())
			sourceID := PayloadString(payload, "source_id")
			extractionType := PayloadString(payload, "extraction_type")
			if sourceID == "" || extractionType == "" {
				continue
			}
			if counts[sourceID] == nil {
				counts[sourceID] = map[string]int{}
			}
			counts[sourceID][extractionType]++
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}
	return counts, nil
}

// originalID recovers the store-assigned id from a point's payload,
// falling back to the point's UUID.
func originalID(payload map[string]any, pointID *qdrant.PointId) string {
	if id := PayloadString(payload, "original_id"); id != "" {
		return id
	}
	return pointID.GetUuid()
}
