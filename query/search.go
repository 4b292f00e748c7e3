package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/vector"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100

	// maxSearchBodySize bounds the request body read.
	maxSearchBodySize = 1 << 20
)

// SearchResult is one semantic-search hit, chunk or extraction.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Type    string            `json:"type"`
	Content string            `json:"content"`
	Source  SourceAttribution `json:"source"`
}

// SourceAttribution ties a hit back to where it came from.
type SourceAttribution struct {
	SourceID string              `json:"source_id"`
	ChunkID  string              `json:"chunk_id,omitempty"`
	Title    string              `json:"title,omitempty"`
	Authors  []string            `json:"authors,omitempty"`
	Position *knowledge.Position `json:"position,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSearchBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "invalid JSON body", nil)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "query is required", nil)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	if limit < 1 || limit > maxSearchLimit {
		writeError(w, http.StatusBadRequest, CodeValidationError,
			fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit),
			map[string]any{"limit": limit})
		return
	}

	env, err := s.searchKnowledge(r.Context(), req.Query, limit)
	if err != nil {
		s.logger.Error("semantic search failed", "query_chars", len(req.Query), "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "search failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// searchKnowledge embeds the query once and fans out the two top-k
// searches, then merges by score.
func (s *Service) searchKnowledge(ctx context.Context, query string, limit int) (*Envelope, error) {
	started := time.Now()

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var chunkHits, extractionHits []vector.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.vectors.SearchChunks(gctx, vec, limit, vector.Filters{})
		if err != nil {
			return fmt.Errorf("search chunks: %w", err)
		}
		chunkHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.vectors.SearchExtractions(gctx, vec, limit, vector.Filters{})
		if err != nil {
			return fmt.Errorf("search extractions: %w", err)
		}
		extractionHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeHits(chunkHits, extractionHits, limit)
	sources, err := s.lookupSources(ctx, merged)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(merged))
	for _, hit := range merged {
		results = append(results, s.buildResult(ctx, hit, sources))
	}

	searchResultCount.Observe(float64(len(results)))
	return &Envelope{
		Results: results,
		Metadata: Metadata{
			Query:        query,
			SourcesCited: citedTitles(results),
			ResultCount:  len(results),
			SearchType:   searchTypeSemantic,
			LatencyMS:    time.Since(started).Milliseconds(),
		},
	}, nil
}

// mergeHits interleaves both hit lists by score descending, ties broken
// by id, capped at limit.
func mergeHits(chunks, extractions []vector.Hit, limit int) []vector.Hit {
	merged := make([]vector.Hit, 0, len(chunks)+len(extractions))
	merged = append(merged, chunks...)
	merged = append(merged, extractions...)
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// lookupSources batches the unique source ids across all hits into one
// document-store read. Hits whose payload lacks a valid source id are
// simply not enriched.
func (s *Service) lookupSources(ctx context.Context, hits []vector.Hit) (map[string]*knowledge.Source, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, hit := range hits {
		id := vector.PayloadString(hit.Payload, "source_id")
		if !knowledge.IsValidID(id) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]*knowledge.Source{}, nil
	}
	sources, err := s.documents.GetSources(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("look up sources: %w", err)
	}
	return sources, nil
}

func (s *Service) buildResult(ctx context.Context, hit vector.Hit, sources map[string]*knowledge.Source) SearchResult {
	contentType := vector.PayloadString(hit.Payload, "content_type")
	sourceID := vector.PayloadString(hit.Payload, "source_id")

	attribution := SourceAttribution{
		SourceID: sourceID,
		ChunkID:  vector.PayloadString(hit.Payload, "chunk_id"),
	}
	if src := sources[sourceID]; src != nil {
		attribution.Title = src.Title
		attribution.Authors = src.Authors
	} else if title := vector.PayloadString(hit.Payload, "source_title"); title != "" {
		attribution.Title = title
	}

	result := SearchResult{
		ID:     hit.ID,
		Score:  hit.Score,
		Type:   contentType,
		Source: attribution,
	}

	switch contentType {
	case vector.ContentTypeChunk:
		result.Content = vector.PayloadString(hit.Payload, "content")
		if result.Source.ChunkID == "" {
			result.Source.ChunkID = hit.ID
		}
		result.Source.Position = chunkPosition(hit.Payload)
	case vector.ContentTypeExtraction:
		result.Content = s.extractionContent(ctx, hit)
	default:
		result.Content = vector.PayloadString(hit.Payload, "content")
	}
	return result
}

func chunkPosition(payload map[string]any) *knowledge.Position {
	chapter := vector.PayloadString(payload, "chapter")
	section := vector.PayloadString(payload, "section")
	_, hasIndex := payload["chunk_index"]
	if chapter == "" && section == "" && !hasIndex {
		return nil
	}
	return &knowledge.Position{
		Chapter:    chapter,
		Section:    section,
		Page:       vector.PayloadInt(payload, "page"),
		ChunkIndex: vector.PayloadInt(payload, "chunk_index"),
	}
}

// extractionContent fetches the stored record for its full text; when the
// document store cannot produce it, the payload's short title stands in.
func (s *Service) extractionContent(ctx context.Context, hit vector.Hit) string {
	e, err := s.documents.GetExtraction(ctx, hit.ID)
	if err == nil && e.Content != nil {
		if text := e.Content.EmbeddingText(); text != "" {
			return text
		}
	}
	if err != nil {
		s.logger.Warn("extraction content unavailable, using payload title",
			"id", hit.ID, "error", err)
	}
	return vector.PayloadString(hit.Payload, "extraction_title")
}

func citedTitles(results []SearchResult) []string {
	seen := make(map[string]bool)
	titles := make([]string, 0, len(results))
	for _, r := range results {
		title := r.Source.Title
		if title == "" {
			title = r.Source.SourceID
		}
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles
}
