package emulator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dune-client/pkg/dune"
)

// Fixture scripts one execution: the state reported on each status poll and
// the result set served once it completes. After the script is exhausted the
// last state repeats.
type Fixture struct {
	States       []dune.ExecutionState `yaml:"states"`
	Columns      []string              `yaml:"columns"`
	Types        []string              `yaml:"types"`
	Rows         [][]any               `yaml:"rows"`
	ErrorType    string                `yaml:"error_type"`
	ErrorMessage string                `yaml:"error_message"`
}

// Validate checks that the fixture can be served.
func (f Fixture) Validate() error {
	if len(f.States) == 0 {
		return fmt.Errorf("fixture has no states")
	}
	for i, st := range f.States {
		if i < len(f.States)-1 && st.IsTerminal() {
			return fmt.Errorf("state %d (%s) is terminal but is not last", i, st)
		}
	}
	for i, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(f.Columns))
		}
	}
	if len(f.Types) > len(f.Columns) {
		return fmt.Errorf("fixture has %d types for %d columns", len(f.Types), len(f.Columns))
	}
	return nil
}

// DefaultFixture completes on the third poll with a single row.
func DefaultFixture() Fixture {
	return Fixture{
		States:  []dune.ExecutionState{dune.StatePending, dune.StateExecuting, dune.StateCompleted},
		Columns: []string{"answer"},
		Types:   []string{"integer"},
		Rows:    [][]any{{42}},
	}
}

// FixtureSet maps submissions to fixtures. SQL keys match the trimmed SQL text.
type FixtureSet struct {
	Default *Fixture           `yaml:"default"`
	SQL     map[string]Fixture `yaml:"sql"`
	Queries map[int64]Fixture  `yaml:"queries"`
}

// ForSQL returns the fixture for SQL text.
func (fs *FixtureSet) ForSQL(sql string) Fixture {
	if f, ok := fs.SQL[strings.TrimSpace(sql)]; ok {
		return f
	}
	return fs.fallback()
}

// ForQuery returns the fixture for a saved query.
func (fs *FixtureSet) ForQuery(id int64) Fixture {
	if f, ok := fs.Queries[id]; ok {
		return f
	}
	return fs.fallback()
}

func (fs *FixtureSet) fallback() Fixture {
	if fs.Default != nil {
		return *fs.Default
	}
	return DefaultFixture()
}

// Validate checks every fixture in the set.
func (fs *FixtureSet) Validate() error {
	if fs.Default != nil {
		if err := fs.Default.Validate(); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}
	for sql, f := range fs.SQL {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("sql %q: %w", sql, err)
		}
	}
	for id, f := range fs.Queries {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("query %d: %w", id, err)
		}
	}
	return nil
}

// LoadFixtures reads a YAML fixture file.
func LoadFixtures(path string) (*FixtureSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes YAML fixture data.
func ParseFixtures(data []byte) (*FixtureSet, error) {
	var fs FixtureSet
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if fs.SQL == nil {
		fs.SQL = map[string]Fixture{}
	}
	if fs.Queries == nil {
		fs.Queries = map[int64]Fixture{}
	}
	normalized := make(map[string]Fixture, len(fs.SQL))
	for sql, f := range fs.SQL {
		normalized[strings.TrimSpace(sql)] = f
	}
	fs.SQL = normalized
	if err := fs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixtures: %w", err)
	}
	return &fs, nil
}
