package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, `
name: demo
description: queues one insert
steps:
  - action: insert
    table: entries
    data: {minutes: 30}
assertions:
  - type: pending_count
    count: 0
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", sc.Name)
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, "insert", sc.Steps[0].Action)
	assert.Equal(t, 30, sc.Steps[0].Data["minutes"])
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	// "assertion" instead of "assertions" is a typo, not a silent no-op.
	path := writeScenario(t, `
name: demo
description: typo
steps:
  - action: insert
    table: entries
assertion:
  - type: pending_count
`)

	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadScenario_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"missing name",
			"description: d\nsteps:\n  - {action: insert, table: entries}\nassertions:\n  - {type: pending_count, count: 0}\n",
			"name is required",
		},
		{
			"missing steps",
			"name: n\ndescription: d\nassertions:\n  - {type: pending_count, count: 0}\n",
			"steps list is required",
		},
		{
			"unknown action",
			"name: n\ndescription: d\nsteps:\n  - {action: merge, table: entries}\nassertions:\n  - {type: pending_count, count: 0}\n",
			"merge",
		},
		{
			"unknown remote outcome",
			"name: n\ndescription: d\nsteps:\n  - {action: insert, table: entries, remote: flaky}\nassertions:\n  - {type: pending_count, count: 0}\n",
			"unknown remote outcome",
		},
		{
			"unknown assertion type",
			"name: n\ndescription: d\nsteps:\n  - {action: insert, table: entries}\nassertions:\n  - {type: trace_subset}\n",
			"unknown assertion type",
		},
		{
			"trace_contains needs id",
			"name: n\ndescription: d\nsteps:\n  - {action: insert, table: entries}\nassertions:\n  - {type: trace_contains, event: applied}\n",
			"trace_contains",
		},
		{
			"effective_state needs expect or gone",
			"name: n\ndescription: d\nsteps:\n  - {action: insert, table: entries}\nassertions:\n  - {type: effective_state, key: e1}\n",
			"expect or gone",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
