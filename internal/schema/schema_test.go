package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jensinjames/opsync/internal/record"
)

const testSchema = `
tables: {
	entries: close({
		id?:      string
		category: string
		minutes:  int & >=0
	})
	goals: {
		id?:    string
		target: int
	}
}
`

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Compile(testSchema)
	require.NoError(t, err)
	return r
}

func TestCompile_Tables(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, []string{"entries", "goals"}, r.Tables())
	assert.True(t, r.Has("entries"))
	assert.False(t, r.Has("unknown"))
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(`tables: {}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tables")

	_, err = Compile(`entries: {id: string}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"tables"`)

	_, err = Compile(`tables: { entries: `)
	assert.Error(t, err)
}

func TestValidate_AcceptsConformingPayload(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Validate("entries", record.Record{"category": "exercise", "minutes": 30})
	assert.NoError(t, err)

	// Optional id may be present or absent.
	err = r.Validate("entries", record.Record{"id": "e1", "category": "sleep", "minutes": 0})
	assert.NoError(t, err)
}

func TestValidate_RejectsBadPayloads(t *testing.T) {
	r := newTestRegistry(t)

	cases := []struct {
		name    string
		payload record.Record
	}{
		{"wrong type", record.Record{"category": "exercise", "minutes": "thirty"}},
		{"constraint violated", record.Record{"category": "exercise", "minutes": -5}},
		{"missing required field", record.Record{"minutes": 30}},
		{"unknown field on closed table", record.Record{"category": "exercise", "minutes": 30, "mood": "great"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Validate("entries", tc.payload)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "entries", vErr.Table)
		})
	}
}

func TestValidate_OpenTableToleratesExtraFields(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Validate("goals", record.Record{"target": 5, "note": "stretch"})
	assert.NoError(t, err)
}

func TestValidate_UnknownTable(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Validate("nope", record.Record{"a": 1})
	var uErr *UnknownTableError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, "nope", uErr.Table)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entries.cue"), []byte(`
package schemas

tables: entries: close({
	id?:      string
	category: string
	minutes:  int & >=0
})
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "goals.cue"), []byte(`
package schemas

tables: goals: {
	id?:    string
	target: int
}
`), 0o644))

	r, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"entries", "goals"}, r.Tables())
	assert.NoError(t, r.Validate("entries", record.Record{"category": "exercise", "minutes": 10}))
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
