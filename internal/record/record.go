// Package record defines the document type exchanged between the optimistic
// ledger, the sync journal, and the remote backend, plus the canonical JSON
// serialization used wherever byte-for-byte determinism matters (journal
// payloads, golden traces).
package record

// Record is a string-keyed document, the client-side representation of one
// row of a logical table. Values are restricted to strings, integers, bools,
// nested Records/maps, and slices of those; floats and nulls are rejected at
// the canonical serialization boundary.
type Record map[string]any

// Clone returns a deep copy of the record. Nested maps and slices are copied;
// scalar values are shared (they are immutable).
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case map[string]any:
		return Record(val).Clone()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// Merge returns a new record with overlay's fields applied on top of base.
// Neither input is modified. A nil overlay clones base.
func Merge(base, overlay Record) Record {
	out := base.Clone()
	if out == nil {
		out = make(Record, len(overlay))
	}
	for k, v := range overlay {
		out[k] = cloneValue(v)
	}
	return out
}
