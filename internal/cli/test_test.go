package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommand_MissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentScenariosDir(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_PassesAgainstGoldens(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir, "--golden", scenarioGoldens)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ checkout (8 writes)")
	assert.Contains(t, out, "✓ post_insert_payment (4 writes)")
	assert.Contains(t, out, "✓ lifecycle_errors (2 writes)")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", scenariosDir, "--golden", scenarioGoldens, "--filter", "check*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, ScenarioResult{Name: "checkout", Pass: true, Writes: 8}, resp.Data.Scenarios[0])
}

func TestTestCommand_InvalidFilter(t *testing.T) {
	_, _, err := execute(t, "test", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestTestCommand_UpdateWritesGoldens(t *testing.T) {
	golden := t.TempDir()

	out, _, err := execute(t, "test", scenariosDir, "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "3 passed")

	written, err := os.ReadFile(filepath.Join(golden, "checkout.golden"))
	require.NoError(t, err)
	expected, err := os.ReadFile(filepath.Join(scenarioGoldens, "checkout.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(written))

	_, _, err = execute(t, "test", scenariosDir, "--golden", golden)
	require.NoError(t, err)
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "checkout.golden"), []byte(`{"scenario":"checkout","trace":[]}`), 0o644))

	out, _, err := execute(t, "test", scenariosDir, "--golden", golden, "--filter", "checkout")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ checkout")
	assert.Contains(t, out, "trace does not match golden file")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_FailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	mapping, err := filepath.Abs(shopMapping)
	require.NoError(t, err)
	body := "name: wrong\ndescription: expects a write that never happens\nmapping: " + mapping + `
steps:
  - op: commit
assertions:
  - type: write_count
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(body), 0o644))

	out, _, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Error  CLIError   `json:"error"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios[0].Errors, 1)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "Assertion failed: write_count")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\n"), 0o644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ bad.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_Metrics(t *testing.T) {
	_, errOut, err := execute(t, "test", scenariosDir, "--golden", scenarioGoldens, "--metrics")
	require.NoError(t, err)

	assert.Contains(t, errOut, "# TYPE uow_writes_total counter")
	assert.Contains(t, errOut, `uow_writes_total{op="insert",type="Order"} 2`)
	assert.Contains(t, errOut, "# TYPE uow_commit_duration_seconds histogram")
}
