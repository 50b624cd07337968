package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Jensinjames/opsync/internal/ledger"
)

// Scenario defines a conformance test scenario. Scenarios queue a sequence of
// mutations against a scripted remote, drain the journal, and assert on the
// resulting trace and ledger state.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// MaxAttempts is the per-entry retry budget. Defaults to 1 so a scripted
	// failure is terminal within a single drain pass.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// SyncPasses is how many drain passes run after all steps are queued.
	// Defaults to 1.
	SyncPasses int `yaml:"sync_passes,omitempty"`

	// Steps are the mutations to queue, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final ledger state.
	// Supported types: trace_contains, trace_order, trace_count,
	// pending_count, effective_state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step queues one mutation.
type Step struct {
	// Action is the mutation kind: insert, update, delete, or upsert.
	Action string `yaml:"action"`

	// Table is the logical table name.
	Table string `yaml:"table"`

	// Key identifies the affected row. Steps sharing a key coordinate on the
	// same resource. Optional for inserts.
	Key string `yaml:"key,omitempty"`

	// Data is the mutation payload.
	Data map[string]any `yaml:"data,omitempty"`

	// Original is the pre-image for update/delete steps, restored on failure.
	Original map[string]any `yaml:"original,omitempty"`

	// Remote scripts the backend outcome: "success" (default) or "fail".
	Remote string `yaml:"remote,omitempty"`

	// Error is the failure message used when Remote is "fail".
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with the given type and id exists
	// - "trace_order": event labels ("type id") appear in order
	// - "trace_count": events of the given type appear exactly Count times
	// - "pending_count": the ledger holds exactly Count pending updates
	// - "effective_state": the effective data for Key matches Expect
	Type string `yaml:"type"`

	// Event is the trace event type (used by trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// ID is the update id (used by trace_contains).
	ID string `yaml:"id,omitempty"`

	// Order is the expected event label sequence (used by trace_order).
	// Labels are "type id", e.g. "applied op-1". Intervening events are
	// allowed.
	Order []string `yaml:"order,omitempty"`

	// Count is the expected number (used by trace_count, pending_count).
	Count int `yaml:"count,omitempty"`

	// Key names the row (used by effective_state).
	Key string `yaml:"key,omitempty"`

	// Expect contains expected field values (used by effective_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Gone asserts the row is hidden (used by effective_state instead of
	// Expect, e.g. after a confirmed delete or failed insert).
	Gone bool `yaml:"gone,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertPendingCount   = "pending_count"
	AssertEffectiveState = "effective_state"
)

// Remote outcome constants for Step.Remote.
const (
	RemoteSuccess = "success"
	RemoteFail    = "fail"
)

// LoadScenario reads and parses a scenario YAML file. Returns an error if the
// file doesn't exist, is malformed, contains unknown fields (typos), or is
// missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}
	if s.SyncPasses < 0 {
		return fmt.Errorf("sync_passes must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Action == "" {
			return fmt.Errorf("steps[%d]: action is required", i)
		}
		if _, err := ledger.ParseOp(step.Action); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Table == "" {
			return fmt.Errorf("steps[%d]: table is required", i)
		}
		switch step.Remote {
		case "", RemoteSuccess, RemoteFail:
		default:
			return fmt.Errorf("steps[%d]: unknown remote outcome %q", i, step.Remote)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: event and id are required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Order) == 0 {
			return fmt.Errorf("assertions[%d]: order list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertPendingCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending_count", index)
		}
	case AssertEffectiveState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for effective_state", index)
		}
		if len(a.Expect) == 0 && !a.Gone {
			return fmt.Errorf("assertions[%d]: expect or gone is required for effective_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
