package emulator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dune-client/pkg/dune"
)

const fixtureYAML = `
default:
  states: [QUERY_STATE_EXECUTING, QUERY_STATE_COMPLETED]
  columns: [n]
  rows: [[1], [2]]
sql:
  "  SELECT broken  ":
    states: [QUERY_STATE_PENDING, QUERY_STATE_FAILED]
    error_message: "Column 'broken' cannot be resolved"
queries:
  1234:
    states: [QUERY_STATE_PENDING, QUERY_STATE_EXECUTING, QUERY_STATE_COMPLETED]
    columns: [chain, volume]
    types: [varchar, double]
    rows:
      - [ethereum, 1200.5]
      - [solana, 800.25]
`

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o644))

	fs, err := LoadFixtures(path)
	require.NoError(t, err)

	require.NotNil(t, fs.Default)
	assert.Equal(t, []dune.ExecutionState{dune.StateExecuting, dune.StateCompleted}, fs.Default.States)

	broken := fs.ForSQL("SELECT broken")
	assert.Equal(t, dune.StateFailed, broken.States[1])
	assert.Equal(t, "Column 'broken' cannot be resolved", broken.ErrorMessage)

	q := fs.ForQuery(1234)
	assert.Equal(t, []string{"chain", "volume"}, q.Columns)
	assert.Equal(t, "ethereum", q.Rows[0][0])
	assert.InDelta(t, 1200.5, q.Rows[0][1], 0.0001)

	assert.Equal(t, *fs.Default, fs.ForSQL("SELECT unknown"))
	assert.Equal(t, *fs.Default, fs.ForQuery(1))
}

func TestLoadFixtures_MissingFile(t *testing.T) {
	_, err := LoadFixtures(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read fixtures")
}

func TestParseFixtures_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown state", yaml: "default:\n  states: [QUERY_STATE_SLEEPING]\n", want: "parse fixtures"},
		{name: "no states", yaml: "default:\n  columns: [a]\n", want: "no states"},
		{name: "terminal before end", yaml: "default:\n  states: [QUERY_STATE_COMPLETED, QUERY_STATE_EXECUTING]\n", want: "terminal"},
		{name: "ragged rows", yaml: "default:\n  states: [QUERY_STATE_COMPLETED]\n  columns: [a, b]\n  rows: [[1]]\n", want: "row 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFixtureSet_BuiltinDefault(t *testing.T) {
	fs := &FixtureSet{}
	f := fs.ForSQL("SELECT 1")
	assert.Equal(t, DefaultFixture(), f)
	assert.NoError(t, f.Validate())
}
