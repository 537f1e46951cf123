package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a scenario file whose mapping is the shop fixture.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	mapping, err := filepath.Abs(shopMapping)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	content := "mapping: " + mapping + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, `
name: valid
description: "save and commit"
steps:
  - op: new
    ref: c
    type: Customer
    fields: { name: Ada, tags: ["@a", "@b"] }
  - op: load
    ref: d
    type: Customer
    id: [1]
  - op: commit
assertions:
  - type: write_order
    writes: ["insert Customer"]
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "valid", s.Name)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, OpNew, s.Steps[0].Op)
	assert.Equal(t, "Ada", s.Steps[0].Fields["name"])
	assert.Equal(t, []any{"@a", "@b"}, s.Steps[0].Fields["tags"])
	assert.Equal(t, []any{1}, s.Steps[1].ID)
	assert.Equal(t, []string{"insert Customer"}, s.Assertions[0].Writes)
}

func TestLoadScenario_Invalid(t *testing.T) {
	steps := `
steps:
  - op: commit
`
	asserts := `
assertions:
  - type: pending
`
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing name", "description: d\n" + steps + asserts, "name is required"},
		{"missing description", "name: n\n" + steps + asserts, "description is required"},
		{"no steps", "name: n\ndescription: d\n" + asserts, "steps list is required"},
		{"no assertions", "name: n\ndescription: d\n" + steps, "assertions list is required"},
		{"unknown key", "name: n\ndescription: d\nflow: []\n" + steps + asserts, "failed to parse YAML"},
		{"unknown op", "name: n\ndescription: d\nsteps:\n  - op: flush\n" + asserts, `unknown op "flush"`},
		{"missing op", "name: n\ndescription: d\nsteps:\n  - ref: x\n" + asserts, "op is required"},
		{"save without ref", "name: n\ndescription: d\nsteps:\n  - op: save\n" + asserts, "save requires ref"},
		{"new without type", "name: n\ndescription: d\nsteps:\n  - op: new\n    ref: x\n" + asserts, "new requires ref and type"},
		{"load without id", "name: n\ndescription: d\nsteps:\n  - op: load\n    ref: x\n    type: Tag\n" + asserts, "load requires ref, type and id"},
		{"set without fields", "name: n\ndescription: d\nsteps:\n  - op: set\n    ref: x\n" + asserts, "set requires ref and fields"},
		{"unknown assertion", "name: n\ndescription: d\n" + steps + "assertions:\n  - type: vibes\n", `unknown assertion type "vibes"`},
		{"write_order without writes", "name: n\ndescription: d\n" + steps + "assertions:\n  - type: write_order\n", "writes list is required"},
		{"state without ref", "name: n\ndescription: d\n" + steps + "assertions:\n  - type: state\n    state: managed\n", "ref and state are required"},
		{"field without field", "name: n\ndescription: d\n" + steps + "assertions:\n  - type: field\n    ref: x\n", "ref and field are required"},
		{"row_count without entity", "name: n\ndescription: d\n" + steps + "assertions:\n  - type: row_count\n", "entity is required"},
		{"negative count", "name: n\ndescription: d\n" + steps + "assertions:\n  - type: pending\n    count: -1\n", "count must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadScenario_MissingMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	body := "name: n\ndescription: d\nmapping: nowhere\nsteps:\n  - op: commit\nassertions:\n  - type: pending\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "mapping directory not found")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenarios_EmptyDir(t *testing.T) {
	_, err := LoadScenarios(t.TempDir())
	assert.ErrorContains(t, err, "no scenario files")
}
