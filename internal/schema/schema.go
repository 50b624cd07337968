// Package schema validates mutation payloads against CUE table schemas
// before they enter the journal. Schemas live in a directory of .cue files
// declaring a top-level "tables" struct, one field per logical table:
//
//	tables: {
//		entries: close({
//			id?:      string
//			category: string
//			minutes:  int & >=0
//		})
//	}
//
// close() makes unknown payload fields an error; an open struct tolerates
// them. That choice belongs to the schema author, not this package.
package schema

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/Jensinjames/opsync/internal/record"
)

// ValidationError reports a payload that does not satisfy its table schema.
type ValidationError struct {
	Table string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload invalid for table %q: %v", e.Table, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnknownTableError reports a payload for a table the registry has no schema
// for.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("no schema for table %q", e.Table)
}

// Registry holds the compiled table schemas.
type Registry struct {
	cuectx *cue.Context
	tables map[string]cue.Value
}

// LoadDir loads every .cue file in dir as one CUE instance and extracts the
// "tables" struct. Returns an error if the directory is missing, the CUE does
// not build, or no tables are declared.
func LoadDir(dir string) (*Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema directory: not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema directory %s: no CUE instances loaded", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	cuectx := cuecontext.New()
	value := cuectx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}

	return fromValue(cuectx, value)
}

// Compile builds a registry from CUE source text. Used by tests and embedded
// default schemas.
func Compile(src string) (*Registry, error) {
	cuectx := cuecontext.New()
	value := cuectx.CompileString(src)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compiling CUE: %w", err)
	}
	return fromValue(cuectx, value)
}

func fromValue(cuectx *cue.Context, value cue.Value) (*Registry, error) {
	tablesVal := value.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, fmt.Errorf("schema has no top-level \"tables\" struct")
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterating tables: %w", err)
	}

	tables := make(map[string]cue.Value)
	for iter.Next() {
		tables[iter.Label()] = iter.Value()
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("schema declares no tables")
	}

	return &Registry{cuectx: cuectx, tables: tables}, nil
}

// Tables returns the declared table names, sorted.
func (r *Registry) Tables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a schema exists for the table.
func (r *Registry) Has(table string) bool {
	_, ok := r.tables[table]
	return ok
}

// Validate unifies the payload with the table's schema and checks the result
// is valid and concrete. A nil payload validates like an empty one.
func (r *Registry) Validate(table string, payload record.Record) error {
	schemaVal, ok := r.tables[table]
	if !ok {
		return &UnknownTableError{Table: table}
	}

	if payload == nil {
		payload = record.Record{}
	}
	dataVal := r.cuectx.Encode(map[string]any(payload))
	if err := dataVal.Err(); err != nil {
		return &ValidationError{Table: table, Err: err}
	}

	unified := schemaVal.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Table: table, Err: err}
	}
	return nil
}
