package buffer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Normalize converts metadata values to JSON-safe forms: primitives pass
// through, NaN and infinities become "NaN", "+Inf" and "-Inf", times become RFC 3339 strings, errors and fmt.Stringers their
// text, and anything else its fmt representation.
func Normalize(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		return normalizeFloat(float64(x), 32)
	case float64:
		return normalizeFloat(x, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	case map[string]any:
		return Normalize(x)
	default:
		return fmt.Sprint(x)
	}
}

// normalizeFloat keeps finite floats as numbers; JSON has no encoding for
// the rest.
func normalizeFloat(f float64, bits int) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	if bits == 32 {
		return float32(f)
	}
	return f
}
