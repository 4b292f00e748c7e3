package vector

import (
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValue(t *testing.T) {
	t.Run("string slices become any slices", func(t *testing.T) {
		got := normalizeValue([]string{"rag", "llm"})
		assert.Equal(t, []any{"rag", "llm"}, got)
	})

	t.Run("small ints widen to int64", func(t *testing.T) {
		assert.Equal(t, int64(2024), normalizeValue(2024))
		assert.Equal(t, int64(7), normalizeValue(int32(7)))
		assert.Equal(t, int64(7), normalizeValue(uint32(7)))
	})

	t.Run("timestamps become RFC3339 strings", func(t *testing.T) {
		ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
		assert.Equal(t, "2025-06-01T12:30:00Z", normalizeValue(ts))
	})

	t.Run("nested maps normalize recursively", func(t *testing.T) {
		got := normalizeValue(map[string]any{
			"tags": []string{"a"},
			"year": 2017,
		})
		assert.Equal(t, map[string]any{
			"tags": []any{"a"},
			"year": int64(2017),
		}, got)
	})

	t.Run("passthrough kinds unchanged", func(t *testing.T) {
		assert.Equal(t, "x", normalizeValue("x"))
		assert.Equal(t, true, normalizeValue(true))
		assert.Equal(t, 0.5, normalizeValue(0.5))
		assert.Nil(t, normalizeValue(nil))
	})
}

func TestValueMapRoundTrip(t *testing.T) {
	payload := map[string]any{
		"project_id":      "default",
		"content_type":    "extraction",
		"extraction_type": "decision",
		"topics":          []string{"rag", "embeddings"},
		"source_year":     2024,
		"confidence":      0.9,
		"content": map[string]any{
			"question": "Which store?",
			"options":  []string{"a", "b"},
		},
	}

	back := payloadToMap(toValueMap(payload))

	assert.Equal(t, "default", PayloadString(back, "project_id"))
	assert.Equal(t, "decision", PayloadString(back, "extraction_type"))
	assert.Equal(t, []string{"rag", "embeddings"}, PayloadStrings(back, "topics"))
	assert.Equal(t, 2024, PayloadInt(back, "source_year"))
	assert.InDelta(t, 0.9, back["confidence"], 1e-9)

	content := PayloadMap(back, "content")
	require.NotNil(t, content)
	assert.Equal(t, "Which store?", content["question"])
}

func TestValueToAny(t *testing.T) {
	str := &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: "hello"}}
	num := &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: 42}}
	dbl := &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: 0.25}}
	flag := &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: true}}
	list := &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{
		Values: []*qdrant.Value{str, num},
	}}}
	nested := &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{
		Fields: map[string]*qdrant.Value{"inner": str},
	}}}

	assert.Equal(t, "hello", valueToAny(str))
	assert.Equal(t, int64(42), valueToAny(num))
	assert.Equal(t, 0.25, valueToAny(dbl))
	assert.Equal(t, true, valueToAny(flag))
	assert.Equal(t, []any{"hello", int64(42)}, valueToAny(list))
	assert.Equal(t, map[string]any{"inner": "hello"}, valueToAny(nested))
}

func TestPayloadAccessorsAbsentKeys(t *testing.T) {
	p := map[string]any{}
	assert.Equal(t, "", PayloadString(p, "missing"))
	assert.Equal(t, 0, PayloadInt(p, "missing"))
	assert.Nil(t, PayloadStrings(p, "missing"))
	assert.Nil(t, PayloadMap(p, "missing"))
}
