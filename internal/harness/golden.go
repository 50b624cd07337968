package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/Jensinjames/opsync/internal/record"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// ToCanonicalMap converts a TraceSnapshot to a map[string]any because
// record.MarshalCanonical only handles maps, slices, and primitives.
// Zero-valued optional fields are omitted.
func (s *TraceSnapshot) ToCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type":     event.Type,
			"id":       event.ID,
			"op":       event.Op,
			"table":    event.Table,
			"resource": event.Resource,
			"seq":      event.Seq,
		}
		if event.Attempts > 0 {
			eventMap["attempts"] = event.Attempts
		}
		if len(event.Data) > 0 {
			eventMap["data"] = event.Data
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden files serve as the source of truth for expected trace behavior.
// Returns an error if scenario execution fails; trace mismatches fail the
// test via goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already-obtained result's trace against the golden
// file for scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}

	traceJSON, err := record.MarshalCanonical(snapshot.ToCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
