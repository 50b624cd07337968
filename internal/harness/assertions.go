package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Jensinjames/opsync/internal/record"
)

// AssertionError is returned when an assertion fails. It includes the full
// trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s (seq %d)\n", i+1, event.Label(), event.Seq)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertPendingCount:
			err = assertPendingCount(result, assertion)
		case AssertEffectiveState:
			err = assertEffectiveState(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains checks that an event with the given type and id exists.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == assertion.Event && event.ID == assertion.ID {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %q for %s", assertion.Event, assertion.ID),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that event labels appear in the given order.
// Labels don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		label := event.Label()
		if _, seen := positions[label]; !seen {
			positions[label] = i + 1 // 1-indexed for readability
		}
	}

	for _, label := range assertion.Order {
		if positions[label] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", assertion.Order),
				Actual:   fmt.Sprintf("missing event: %s", label),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Order); i++ {
		prev, curr := assertion.Order[i-1], assertion.Order[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Order),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that events of the given type appear exactly Count
// times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == assertion.Event {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %q events", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertPendingCount checks the number of ledger updates still pending.
func assertPendingCount(result *Result, assertion Assertion) error {
	if result.PendingCount != assertion.Count {
		return &AssertionError{
			Type:     AssertPendingCount,
			Expected: fmt.Sprintf("%d pending updates", assertion.Count),
			Actual:   fmt.Sprintf("%d pending", result.PendingCount),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertEffectiveState checks the ledger's effective data for a row key:
// either a subset match against Expect, or Gone (row hidden).
func assertEffectiveState(result *Result, assertion Assertion) error {
	row, known := result.effective[assertion.Key]
	if !known {
		return &AssertionError{
			Type:     AssertEffectiveState,
			Expected: fmt.Sprintf("a step with key %q", assertion.Key),
			Actual:   "no step used that key",
			Trace:    result.Trace,
		}
	}

	if assertion.Gone {
		if row.exists {
			return &AssertionError{
				Type:     AssertEffectiveState,
				Expected: fmt.Sprintf("row %q gone", assertion.Key),
				Actual:   fmt.Sprintf("row present: %v", row.data),
				Trace:    result.Trace,
			}
		}
		return nil
	}

	if !row.exists {
		return &AssertionError{
			Type:     AssertEffectiveState,
			Expected: fmt.Sprintf("row %q with %v", assertion.Key, assertion.Expect),
			Actual:   "row gone",
			Trace:    result.Trace,
		}
	}
	for field, want := range assertion.Expect {
		got, ok := row.data[field]
		if !ok || !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertEffectiveState,
				Expected: fmt.Sprintf("row %q field %q = %v", assertion.Key, field, want),
				Actual:   fmt.Sprintf("row data: %v", row.data),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// valuesEqual compares two payload values through the canonical codec, so
// int vs int64 representations of the same number compare equal.
func valuesEqual(a, b any) bool {
	ca, errA := record.MarshalCanonical(a)
	cb, errB := record.MarshalCanonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
