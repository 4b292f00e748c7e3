package query

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/vector"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// categoryPrimaryField names the field that titles each category's
// public record, mirroring knowledge.Title.
var categoryPrimaryField = map[knowledge.Type]string{
	knowledge.TypeDecision:    "question",
	knowledge.TypePattern:     "name",
	knowledge.TypeWarning:     "title",
	knowledge.TypeMethodology: "name",
	knowledge.TypeChecklist:   "name",
	knowledge.TypePersona:     "role",
	knowledge.TypeWorkflow:    "name",
}

// listHandler serves one category listing endpoint.
func (s *Service) listHandler(typ knowledge.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		topic := strings.TrimSpace(params.Get("topic"))

		limit := defaultListLimit
		if raw := params.Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, CodeValidationError,
					"limit must be an integer", map[string]any{"limit": raw})
				return
			}
			limit = parsed
		}
		if limit < 1 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, CodeValidationError,
				fmt.Sprintf("limit must be between 1 and %d", maxListLimit),
				map[string]any{"limit": limit})
			return
		}

		started := time.Now()
		hits, err := s.vectors.ListExtractions(r.Context(), string(typ), limit, topic)
		if err != nil {
			s.logger.Error("listing failed", "type", typ, "topic", topic, "error", err)
			writeError(w, http.StatusInternalServerError, CodeInternalError, "listing failed", nil)
			return
		}

		results := make([]map[string]any, 0, len(hits))
		seen := make(map[string]bool)
		titles := make([]string, 0, len(hits))
		for _, hit := range hits {
			results = append(results, categoryRecord(typ, hit))
			if title := vector.PayloadString(hit.Payload, "source_title"); title != "" && !seen[title] {
				seen[title] = true
				titles = append(titles, title)
			}
		}
		sort.Strings(titles)

		queryLabel := topic
		if queryLabel == "" {
			queryLabel = "all"
		}
		writeJSON(w, http.StatusOK, &Envelope{
			Results: results,
			Metadata: Metadata{
				Query:        queryLabel,
				SourcesCited: titles,
				ResultCount:  len(results),
				SearchType:   searchTypeFiltered,
				LatencyMS:    time.Since(started).Milliseconds(),
			},
		})
	}
}

// categoryRecord maps one stored payload to a category-shaped public
// record. Structured content maps pass through; a bare string becomes the
// description, and the payload's extraction_title backfills the primary
// field when the content never carried one.
func categoryRecord(typ knowledge.Type, hit vector.Hit) map[string]any {
	record := make(map[string]any)
	if content := vector.PayloadMap(hit.Payload, "content"); len(content) > 0 {
		for k, v := range content {
			record[k] = v
		}
	} else if text := vector.PayloadString(hit.Payload, "content"); text != "" {
		record["description"] = text
	}

	primary := categoryPrimaryField[typ]
	if current, _ := record[primary].(string); current == "" {
		if title := vector.PayloadString(hit.Payload, "extraction_title"); title != "" {
			record[primary] = title
		}
	}

	record["id"] = hit.ID
	if topics := vector.PayloadStrings(hit.Payload, "topics"); len(topics) > 0 {
		record["topics"] = topics
	}
	if sourceID := vector.PayloadString(hit.Payload, "source_id"); sourceID != "" {
		record["source_id"] = sourceID
	}
	if title := vector.PayloadString(hit.Payload, "source_title"); title != "" {
		record["source_title"] = title
	}
	return record
}
