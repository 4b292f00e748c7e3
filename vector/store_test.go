package vector

import (
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, PointID("507f1f77bcf86cd799439011"), PointID("507f1f77bcf86cd799439011"))
	})

	t.Run("distinct inputs give distinct points", func(t *testing.T) {
		assert.NotEqual(t, PointID("507f1f77bcf86cd799439011"), PointID("507f1f77bcf86cd799439012"))
	})

	t.Run("is a name-based UUID", func(t *testing.T) {
		id, err := uuid.Parse(PointID("507f1f77bcf86cd799439011"))
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(5), id.Version())
	})
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{name: "host and port", url: "localhost:6334", wantHost: "localhost", wantPort: 6334},
		{name: "host only defaults port", url: "qdrant.internal", wantHost: "qdrant.internal", wantPort: 6334},
		{name: "http scheme", url: "http://localhost:6334", wantHost: "localhost", wantPort: 6334},
		{name: "https scheme enables TLS", url: "https://qdrant.example.com:6334", wantHost: "qdrant.example.com", wantPort: 6334, wantTLS: true},
		{name: "trailing slash", url: "http://localhost:6334/", wantHost: "localhost", wantPort: 6334},
		{name: "custom port", url: "localhost:7001", wantHost: "localhost", wantPort: 7001},
		{name: "empty", url: "", wantErr: true},
		{name: "bad port", url: "localhost:grpc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseAddr(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
			assert.Equal(t, tt.wantTLS, useTLS)
		})
	}
}

// conditionKeys maps a filter's field conditions by payload key.
func conditionKeys(t *testing.T, filter *qdrant.Filter) map[string]*qdrant.Match {
	t.Helper()
	keys := make(map[string]*qdrant.Match)
	for _, cond := range filter.GetMust() {
		field := cond.GetField()
		require.NotNil(t, field, "expected field condition")
		keys[field.GetKey()] = field.GetMatch()
	}
	return keys
}

func TestFilterAlwaysScopesProject(t *testing.T) {
	s := &Store{projectID: "default", collection: CollectionName}

	keys := conditionKeys(t, s.filter(ContentTypeChunk, Filters{}))
	assert.Equal(t, "default", keys["project_id"].GetKeyword())
	assert.Equal(t, "chunk", keys["content_type"].GetKeyword())
	assert.Len(t, keys, 2)
}

func TestFilterOmitsContentTypeWhenUnset(t *testing.T) {
	s := &Store{projectID: "default"}

	keys := conditionKeys(t, s.filter("", Filters{}))
	assert.Contains(t, keys, "project_id")
	assert.NotContains(t, keys, "content_type")
}

func TestFilterCarriesOptionalConditions(t *testing.T) {
	s := &Store{projectID: "default"}

	filter := s.filter(ContentTypeExtraction, Filters{
		ExtractionType: "decision",
		SourceID:       "507f1f77bcf86cd799439012",
		Topics:         []string{"rag", "embeddings"},
		SourceType:     "book",
		SourceCategory: "ai-engineering",
		SourceYear:     2024,
	})

	keys := conditionKeys(t, filter)
	assert.Equal(t, "decision", keys["extraction_type"].GetKeyword())
	assert.Equal(t, "507f1f77bcf86cd799439012", keys["source_id"].GetKeyword())
	assert.Equal(t, []string{"rag", "embeddings"}, keys["topics"].GetKeywords().GetStrings())
	assert.Equal(t, "book", keys["source_type"].GetKeyword())
	assert.Equal(t, "ai-engineering", keys["source_category"].GetKeyword())
	assert.Equal(t, int64(2024), keys["source_year"].GetInteger())
}

func TestFilterContentTypeFromFilters(t *testing.T) {
	s := &Store{projectID: "default"}

	// SearchKnowledge passes no content type; the caller may still narrow.
	keys := conditionKeys(t, s.filter("", Filters{ContentType: ContentTypeExtraction}))
	assert.Equal(t, "extraction", keys["content_type"].GetKeyword())
}

func TestOriginalID(t *testing.T) {
	pointID := &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: "11111111-2222-5333-8444-555555555555"}}

	t.Run("prefers payload id", func(t *testing.T) {
		payload := map[string]any{"original_id": "507f1f77bcf86cd799439011"}
		assert.Equal(t, "507f1f77bcf86cd799439011", originalID(payload, pointID))
	})

	t.Run("falls back to point uuid", func(t *testing.T) {
		assert.Equal(t, "11111111-2222-5333-8444-555555555555", originalID(map[string]any{}, pointID))
	})
}
