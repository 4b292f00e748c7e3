package vector

import (
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/spf13/cast"
)

// toValueMap converts a payload to Qdrant values. Values are normalized
// first so typed slices, timestamps, and small ints all land on the kinds
// the conversion supports.
func toValueMap(payload map[string]any) map[string]*qdrant.Value {
	return qdrant.NewValueMap(normalizeMap(payload))
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, int64, float64:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint, uint32, uint64:
		return cast.ToInt64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return normalizeMap(val)
	default:
		return cast.ToString(val)
	}
}

// payloadToMap converts a point's payload back to plain Go values.
func payloadToMap(fields map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_NullValue:
		return nil
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, 0, len(values))
		for _, item := range values {
			out = append(out, valueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}

// Payload accessors. Hits come back as loosely typed maps; these coerce
// single fields without each caller repeating type switches.

// PayloadString returns the string at key, or "" when absent.
func PayloadString(p map[string]any, key string) string {
	return cast.ToString(p[key])
}

// PayloadInt returns the integer at key, or 0 when absent.
func PayloadInt(p map[string]any, key string) int {
	return cast.ToInt(p[key])
}

// PayloadStrings returns the string list at key, or nil when absent.
func PayloadStrings(p map[string]any, key string) []string {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	return cast.ToStringSlice(v)
}

// PayloadMap returns the nested map at key, or nil when absent.
func PayloadMap(p map[string]any, key string) map[string]any {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	return cast.ToStringMap(v)
}
