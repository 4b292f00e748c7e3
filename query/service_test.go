package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/knowledgepipe/knowledge"
	"github.com/c360studio/knowledgepipe/storage"
	"github.com/c360studio/knowledgepipe/vector"
)

const (
	testSourceID     = "507f1f77bcf86cd799439011"
	testChunkHitID   = "cccccccccccccccccccccc01"
	testExtractionID = "eeeeeeeeeeeeeeeeeeeeee01"
)

type fakeEmbedder struct {
	vec     []float32
	err     error
	queries []string
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	if f.vec != nil {
		return f.vec, nil
	}
	return make([]float32, 768), nil
}

type listCall struct {
	typ   string
	limit int
	topic string
}

// fakeVectors needs a mutex: the service runs its two searches in
// parallel goroutines.
type fakeVectors struct {
	mu             sync.Mutex
	chunkHits      []vector.Hit
	extractionHits []vector.Hit
	listHits       []vector.Hit
	searchErr      error
	listErr        error
	healthErr      error
	searchLimits   []int
	listCalls      []listCall
}

func (f *fakeVectors) SearchChunks(_ context.Context, _ []float32, limit int, _ vector.Filters) ([]vector.Hit, error) {
	f.mu.Lock()
	f.searchLimits = append(f.searchLimits, limit)
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.chunkHits, nil
}

func (f *fakeVectors) SearchExtractions(_ context.Context, _ []float32, limit int, _ vector.Filters) ([]vector.Hit, error) {
	f.mu.Lock()
	f.searchLimits = append(f.searchLimits, limit)
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.extractionHits, nil
}

func (f *fakeVectors) ListExtractions(_ context.Context, extractionType string, limit int, topic string) ([]vector.Hit, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, listCall{typ: extractionType, limit: limit, topic: topic})
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listHits, nil
}

func (f *fakeVectors) HealthCheck(_ context.Context) error { return f.healthErr }

type fakeDocuments struct {
	sources     map[string]*knowledge.Source
	extractions map[string]*knowledge.Extraction
	pingErr     error
	sourcesErr  error
	sourceCalls [][]string
}

func (f *fakeDocuments) GetSources(_ context.Context, ids []string) (map[string]*knowledge.Source, error) {
	f.sourceCalls = append(f.sourceCalls, ids)
	if f.sourcesErr != nil {
		return nil, f.sourcesErr
	}
	out := make(map[string]*knowledge.Source)
	for _, id := range ids {
		if src, ok := f.sources[id]; ok {
			out[id] = src
		}
	}
	return out, nil
}

func (f *fakeDocuments) GetExtraction(_ context.Context, id string) (*knowledge.Extraction, error) {
	if e, ok := f.extractions[id]; ok {
		return e, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDocuments) Ping(_ context.Context) error { return f.pingErr }

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *fakeEmbedder, *fakeVectors, *fakeDocuments, *KeyRegistry) {
	t.Helper()
	emb := &fakeEmbedder{}
	vecs := &fakeVectors{}
	docs := &fakeDocuments{
		sources:     make(map[string]*knowledge.Source),
		extractions: make(map[string]*knowledge.Extraction),
	}
	keys := NewKeyRegistry()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]ServiceOption{WithServiceLogger(logger)}, opts...)
	svc := NewService(emb, vecs, docs, keys, opts...)
	return svc, emb, vecs, docs, keys
}

func doRequest(t *testing.T, svc *Service, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	return w
}

type searchEnvelope struct {
	Results  []SearchResult `json:"results"`
	Metadata Metadata       `json:"metadata"`
}

type listEnvelope struct {
	Results  []map[string]any `json:"results"`
	Metadata Metadata         `json:"metadata"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}

func TestSearchMergesChunkAndExtractionHits(t *testing.T) {
	svc, emb, vecs, docs, _ := newTestService(t)

	vecs.chunkHits = []vector.Hit{{
		ID:    testChunkHitID,
		Score: 0.80,
		Payload: map[string]any{
			"content_type": "chunk",
			"source_id":    testSourceID,
			"chunk_id":     testChunkHitID,
			"content":      "Hybrid retrieval mixes BM25 with dense vectors.",
			"chapter":      "Retrieval",
			"section":      "Hybrid Search",
			"chunk_index":  3,
		},
	}}
	vecs.extractionHits = []vector.Hit{{
		ID:    testExtractionID,
		Score: 0.95,
		Payload: map[string]any{
			"content_type":     "extraction",
			"extraction_type":  "decision",
			"source_id":        testSourceID,
			"chunk_id":         testChunkHitID,
			"extraction_title": "Should you use RAG or fine-tuning?",
		},
	}}
	docs.sources[testSourceID] = &knowledge.Source{
		ID:      testSourceID,
		Title:   "AI Engineering in Practice",
		Authors: []string{"Dana Osei"},
	}
	docs.extractions[testExtractionID] = &knowledge.Extraction{
		ID:   testExtractionID,
		Type: knowledge.TypeDecision,
		Content: &knowledge.Decision{
			Question:            "Should you use RAG or fine-tuning?",
			RecommendedApproach: "Start with retrieval; fine-tune only for style.",
		},
	}

	w := doRequest(t, svc, "POST", "/search_knowledge", `{"query": "rag vs fine-tuning"}`, nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var env searchEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Results, 2)

	first := env.Results[0]
	assert.Equal(t, testExtractionID, first.ID)
	assert.Equal(t, "extraction", first.Type)
	assert.InDelta(t, 0.95, first.Score, 1e-6)
	assert.Equal(t, "Should you use RAG or fine-tuning?\nStart with retrieval; fine-tune only for style.", first.Content)
	assert.Equal(t, testSourceID, first.Source.SourceID)
	assert.Equal(t, testChunkHitID, first.Source.ChunkID)
	assert.Equal(t, "AI Engineering in Practice", first.Source.Title)
	assert.Equal(t, []string{"Dana Osei"}, first.Source.Authors)

	second := env.Results[1]
	assert.Equal(t, testChunkHitID, second.ID)
	assert.Equal(t, "chunk", second.Type)
	assert.Equal(t, "Hybrid retrieval mixes BM25 with dense vectors.", second.Content)
	require.NotNil(t, second.Source.Position)
	assert.Equal(t, "Retrieval", second.Source.Position.Chapter)
	assert.Equal(t, "Hybrid Search", second.Source.Position.Section)
	assert.Equal(t, 3, second.Source.Position.ChunkIndex)

	assert.Equal(t, "rag vs fine-tuning", env.Metadata.Query)
	assert.Equal(t, []string{"AI Engineering in Practice"}, env.Metadata.SourcesCited)
	assert.Equal(t, 2, env.Metadata.ResultCount)
	assert.Equal(t, "semantic", env.Metadata.SearchType)

	// One embedding, one batched source lookup, both searches at the limit.
	assert.Equal(t, []string{"rag vs fine-tuning"}, emb.queries)
	assert.Equal(t, [][]string{{testSourceID}}, docs.sourceCalls)
	assert.Equal(t, []int{10, 10}, vecs.searchLimits)

	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestSearchTieBreakAndCap(t *testing.T) {
	svc, _, vecs, _, _ := newTestService(t)

	hit := func(id string) vector.Hit {
		return vector.Hit{ID: id, Score: 0.5, Payload: map[string]any{
			"content_type":     "extraction",
			"extraction_title": "tied",
		}}
	}
	vecs.extractionHits = []vector.Hit{hit("cccccccccccccccccccccc03"), hit("aaaaaaaaaaaaaaaaaaaaaa01")}
	vecs.chunkHits = []vector.Hit{
		{ID: "dddddddddddddddddddddd04", Score: 0.5, Payload: map[string]any{"content_type": "chunk", "content": "d"}},
		{ID: "bbbbbbbbbbbbbbbbbbbbbb02", Score: 0.5, Payload: map[string]any{"content_type": "chunk", "content": "b"}},
	}

	w := doRequest(t, svc, "POST", "/search_knowledge", `{"query": "anything", "limit": 3}`, nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var env searchEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Results, 3)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaa01", env.Results[0].ID)
	assert.Equal(t, "bbbbbbbbbbbbbbbbbbbbbb02", env.Results[1].ID)
	assert.Equal(t, "cccccccccccccccccccccc03", env.Results[2].ID)
	assert.Equal(t, []int{3, 3}, vecs.searchLimits)
}

func TestSearchExtractionContentFallsBackToPayloadTitle(t *testing.T) {
	svc, _, vecs, _, _ := newTestService(t)

	vecs.extractionHits = []vector.Hit{{
		ID:    testExtractionID,
		Score: 0.7,
		Payload: map[string]any{
			"content_type":     "extraction",
			"source_id":        testSourceID,
			"extraction_title": "Latency budget per hop",
		},
	}}

	w := doRequest(t, svc, "POST", "/search_knowledge", `{"query": "latency"}`, nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var env searchEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Results, 1)
	assert.Equal(t, "Latency budget per hop", env.Results[0].Content)
}

func TestSearchValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing query", `{}`, "query is required"},
		{"blank query", `{"query": "   "}`, "query is required"},
		{"limit too high", `{"query": "x", "limit": 101}`, "limit must be between 1 and 100"},
		{"negative limit", `{"query": "x", "limit": -2}`, "limit must be between 1 and 100"},
		{"malformed body", `{"query": `, "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, emb, _, _, _ := newTestService(t)
			w := doRequest(t, svc, "POST", "/search_knowledge", tt.body, nil)
			require.Equal(t, 400, w.Code, w.Body.String())

			body := decodeError(t, w)
			assert.Equal(t, CodeValidationError, body.Code)
			assert.Contains(t, body.Message, tt.message)
			assert.Empty(t, emb.queries, "invalid requests must not reach the embedder")
		})
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	svc, emb, _, _, _ := newTestService(t)
	emb.err = errors.New("embedding service down")

	w := doRequest(t, svc, "POST", "/search_knowledge", `{"query": "x"}`, nil)
	require.Equal(t, 500, w.Code)
	assert.Equal(t, CodeInternalError, decodeError(t, w).Code)
}

func TestSearchVectorFailure(t *testing.T) {
	svc, _, vecs, _, _ := newTestService(t)
	vecs.searchErr = errors.New("qdrant unavailable")

	w := doRequest(t, svc, "POST", "/search_knowledge", `{"query": "x"}`, nil)
	require.Equal(t, 500, w.Code)
	assert.Equal(t, CodeInternalError, decodeError(t, w).Code)
}

func TestListingsMapPayloadsToCategoryRecords(t *testing.T) {
	svc, _, vecs, _, _ := newTestService(t)

	vecs.listHits = []vector.Hit{
		{
			ID: "eeeeeeeeeeeeeeeeeeeeee11",
			Payload: map[string]any{
				"content_type":    "extraction",
				"extraction_type": "decision",
				"source_id":       testSourceID,
				"source_title":    "AI Engineering in Practice",
				"topics":          []string{"rag", "evaluation"},
				"content": map[string]any{
					"question":             "Which vector store fits a small team?",
					"recommended_approach": "Managed Qdrant until scale demands otherwise.",
				},
			},
		},
		{
			ID: "eeeeeeeeeeeeeeeeeeeeee12",
			Payload: map[string]any{
				"content_type":     "extraction",
				"extraction_type":  "decision",
				"source_title":     "Ops Handbook",
				"content":          "Always pin model versions in production.",
				"extraction_title": "Pin model versions",
			},
		},
	}

	w := doRequest(t, svc, "GET", "/get_decisions", "", nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var env listEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Results, 2)

	structured := env.Results[0]
	assert.Equal(t, "Which vector store fits a small team?", structured["question"])
	assert.Equal(t, "Managed Qdrant until scale demands otherwise.", structured["recommended_approach"])
	assert.Equal(t, "eeeeeeeeeeeeeeeeeeeeee11", structured["id"])
	assert.Equal(t, testSourceID, structured["source_id"])
	assert.Equal(t, "AI Engineering in Practice", structured["source_title"])
	assert.Equal(t, []any{"rag", "evaluation"}, structured["topics"])

	// String content becomes the description; the primary field falls
	// back to the payload title.
	flat := env.Results[1]
	assert.Equal(t, "Always pin model versions in production.", flat["description"])
	assert.Equal(t, "Pin model versions", flat["question"])

	assert.Equal(t, "all", env.Metadata.Query)
	assert.Equal(t, "filtered", env.Metadata.SearchType)
	assert.Equal(t, 2, env.Metadata.ResultCount)
	assert.Equal(t, []string{"AI Engineering in Practice", "Ops Handbook"}, env.Metadata.SourcesCited)

	require.Len(t, vecs.listCalls, 1)
	assert.Equal(t, listCall{typ: "decision", limit: 100, topic: ""}, vecs.listCalls[0])
}

func TestListingsForwardTopicAndLimit(t *testing.T) {
	svc, _, vecs, _, _ := newTestService(t)

	w := doRequest(t, svc, "GET", "/get_patterns?topic=rag&limit=5", "", nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var env listEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "rag", env.Metadata.Query)
	assert.Equal(t, 0, env.Metadata.ResultCount)

	require.Len(t, vecs.listCalls, 1)
	assert.Equal(t, listCall{typ: "pattern", limit: 5, topic: "rag"}, vecs.listCalls[0])
}

func TestListingsLimitBounds(t *testing.T) {
	for _, raw := range []string{"0", "501", "-3", "abc"} {
		t.Run("limit="+raw, func(t *testing.T) {
			svc, _, vecs, _, _ := newTestService(t)
			w := doRequest(t, svc, "GET", "/get_warnings?limit="+raw, "", nil)
			require.Equal(t, 400, w.Code, w.Body.String())
			assert.Equal(t, CodeValidationError, decodeError(t, w).Code)
			assert.Empty(t, vecs.listCalls)
		})
	}
}

func TestListingsVectorFailure(t *testing.T) {
	svc, _, vecs, _, _ := newTestService(t)
	vecs.listErr = errors.New("scroll failed")

	w := doRequest(t, svc, "GET", "/get_decisions", "", nil)
	require.Equal(t, 500, w.Code)
	assert.Equal(t, CodeInternalError, decodeError(t, w).Code)
}

func TestMethodologiesTierGate(t *testing.T) {
	registered := "kp_0123456789ABCDEF0123456789ABCDEF"
	premium := "kp_fedcba9876543210fedcba9876543210"

	svc, _, _, _, keys := newTestService(t)
	require.NoError(t, keys.Add(registered, TierRegistered, time.Time{}))
	require.NoError(t, keys.Add(premium, TierPremium, time.Time{}))

	t.Run("public is refused", func(t *testing.T) {
		w := doRequest(t, svc, "GET", "/get_methodologies", "", nil)
		require.Equal(t, 403, w.Code, w.Body.String())

		body := decodeError(t, w)
		assert.Equal(t, CodeForbidden, body.Code)
		assert.Equal(t, "PUBLIC", body.Details["current_tier"])
		assert.Equal(t, "REGISTERED", body.Details["required_tier"])
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("registered key passes", func(t *testing.T) {
		w := doRequest(t, svc, "GET", "/get_methodologies", "", map[string]string{"X-API-Key": registered})
		require.Equal(t, 200, w.Code, w.Body.String())
		assert.Equal(t, "1000", w.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("premium key passes", func(t *testing.T) {
		w := doRequest(t, svc, "GET", "/get_methodologies", "", map[string]string{"X-API-Key": premium})
		require.Equal(t, 200, w.Code, w.Body.String())
	})
}

func TestRejectedCredentials(t *testing.T) {
	svc, _, _, _, keys := newTestService(t)

	expired := "kp_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	keys.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, keys.Add(expired, TierPremium, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	tests := []struct {
		name string
		key  string
	}{
		{"truncated hex", "kp_0123456789abcdef0123456789abcde"},
		{"unknown well-formed", "kp_00000000000000000000000000000000"},
		{"expired", expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, svc, "GET", "/get_decisions", "", map[string]string{"X-API-Key": tt.key})
			require.Equal(t, 401, w.Code, w.Body.String())
			assert.Equal(t, CodeUnauthorized, decodeError(t, w).Code)
		})
	}
}

func TestRateLimitBreach(t *testing.T) {
	limiter, _ := frozenLimiter()
	svc, _, _, _, _ := newTestService(t, WithRateLimiter(limiter))

	for i := 0; i < publicHourlyLimit; i++ {
		w := doRequest(t, svc, "GET", "/get_decisions", "", nil)
		require.Equal(t, 200, w.Code, "request %d: %s", i+1, w.Body.String())
	}

	w := doRequest(t, svc, "GET", "/get_decisions", "", nil)
	require.Equal(t, 429, w.Code, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1800", w.Header().Get("Retry-After"))

	body := decodeError(t, w)
	assert.Equal(t, CodeRateLimited, body.Code)
}

func TestRateLimitOutranksAuth(t *testing.T) {
	limiter, _ := frozenLimiter()
	svc, _, _, _, _ := newTestService(t, WithRateLimiter(limiter))

	// An unknown key is rejected with 401 but still burns its bucket.
	headers := map[string]string{"X-API-Key": "kp_deadbeefdeadbeefdeadbeefdeadbeef"}
	for i := 0; i < publicHourlyLimit; i++ {
		w := doRequest(t, svc, "GET", "/get_decisions", "", headers)
		require.Equal(t, 401, w.Code, "request %d", i+1)
	}

	w := doRequest(t, svc, "GET", "/get_decisions", "", headers)
	require.Equal(t, 429, w.Code, w.Body.String())
	assert.Equal(t, CodeRateLimited, decodeError(t, w).Code)
}

func TestHealthHealthy(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		w := doRequest(t, svc, "GET", "/health", "", nil)
		require.Equal(t, 200, w.Code, w.Body.String())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp["status"])
		services, _ := resp["services"].(map[string]any)
		assert.Equal(t, "ok", services["mongodb"])
		assert.Equal(t, "ok", services["qdrant"])

		// Health checks carry rate headers but never consume quota.
		assert.Equal(t, "100", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestHealthUnhealthy(t *testing.T) {
	t.Run("document store down", func(t *testing.T) {
		svc, _, _, docs, _ := newTestService(t)
		docs.pingErr = errors.New("mongo: connection refused")

		w := doRequest(t, svc, "GET", "/health", "", nil)
		require.Equal(t, 503, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp["status"])
		services, _ := resp["services"].(map[string]any)
		assert.Contains(t, services["mongodb"], "connection refused")
		assert.Equal(t, "ok", services["qdrant"])
	})

	t.Run("vector store down", func(t *testing.T) {
		svc, _, vecs, _, _ := newTestService(t)
		vecs.healthErr = errors.New("qdrant: no collections")

		w := doRequest(t, svc, "GET", "/health", "", nil)
		require.Equal(t, 503, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		services, _ := resp["services"].(map[string]any)
		assert.Contains(t, services["qdrant"], "no collections")
	})
}

func TestSearchLimitDefaultsToTen(t *testing.T) {
	svc, _, vecs, _, _ := newTestService(t)
	for i := 0; i < 15; i++ {
		vecs.chunkHits = append(vecs.chunkHits, vector.Hit{
			ID:      fmt.Sprintf("cccccccccccccccccccccc%02d", i),
			Score:   float32(100-i) / 100,
			Payload: map[string]any{"content_type": "chunk", "content": "text"},
		})
	}

	w := doRequest(t, svc, "POST", "/search_knowledge", `{"query": "x"}`, nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var env searchEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Len(t, env.Results, defaultSearchLimit)
	assert.Equal(t, defaultSearchLimit, env.Metadata.ResultCount)
}
