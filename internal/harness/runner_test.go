package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// each trace against its golden file.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenarios found")

	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			sc, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(sc)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertions failed: %v", result.Errors)

			require.NoError(t, AssertGolden(t, sc.Name, result))
		})
	}
}

func TestRun_TraceShape(t *testing.T) {
	sc := &Scenario{
		Name:        "shape",
		Description: "one insert, one drain pass",
		Steps: []Step{
			{Action: "insert", Table: "entries", Data: map[string]any{"minutes": 30}},
		},
		Assertions: []Assertion{
			{Type: AssertPendingCount, Count: 0},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	// queued then applied, deterministic ids and seqs.
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "queued op-1", result.Trace[0].Label())
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Equal(t, "applied op-1", result.Trace[1].Label())
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	sc := &Scenario{
		Name:        "mismatch",
		Description: "assertion that cannot hold",
		Steps: []Step{
			{Action: "insert", Table: "entries", Data: map[string]any{"minutes": 30}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: EventFailed, Count: 3},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "trace_count")
}
