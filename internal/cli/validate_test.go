package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, _, err := execute(t, "validate", splitMapping)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Mapping valid: 6 type(s) in 2 file(s)")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "validate", shopMapping)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, ValidationResult{Valid: true, Types: 6, Files: 1}, resp.Data)
}

func TestValidate_UnknownTarget(t *testing.T) {
	out, _, err := execute(t, "validate", filepath.Join("testdata", "dangling"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, `E106: Invoice.associations.account: target type "Account" is not mapped`)
}

func TestValidate_UnknownTargetJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "validate", filepath.Join("testdata", "dangling"))
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E106", resp.Error.Code)
	assert.Equal(t, "Invoice", resp.Error.Type)
	assert.Equal(t, "associations.account", resp.Error.Field)
}

func TestValidate_ErrorsJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "validate", brokenMapping)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Error  CLIError   `json:"error"`
		Data   []CLIError `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E007", resp.Error.Code)
	assert.Len(t, resp.Data, 2)
}

func TestValidate_NonExistentDirectory(t *testing.T) {
	out, _, err := execute(t, "validate", "/nonexistent/mapping")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestValidate_EmptyDirectory(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E003", resp.Error.Code)
}

func TestValidate_MissingArgs(t *testing.T) {
	_, _, err := execute(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
