package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalCanonical parses JSON produced by MarshalCanonical back into a
// Record. Numbers decode to int64; fractional numbers and nulls are rejected,
// mirroring what MarshalCanonical refuses to emit.
func UnmarshalCanonical(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode canonical JSON: %w", err)
	}

	v, err := normalizeValue(raw)
	if err != nil {
		return nil, err
	}
	return v.(Record), nil
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string, bool:
		return val, nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
		}
		return n, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			norm, err := normalizeValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = norm
		}
		return out, nil
	case map[string]any:
		out := make(Record, len(val))
		for k, elem := range val {
			norm, err := normalizeValue(elem)
			if err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
			out[k] = norm
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type in canonical JSON: %T", v)
	}
}
