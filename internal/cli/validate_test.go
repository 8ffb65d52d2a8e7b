package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidScenarios(t *testing.T) {
	out, err := execute(t, "validate", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "5 file(s) valid")
}

func TestValidate_ValidScenariosJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 5, resp.Data.Files)
}

func TestValidate_InvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", brokenGraphScenario)
	writeFile(t, dir, "bad.yaml", badSchemaScenario)

	out, err := execute(t, "--format", "json", "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 2)

	codes := map[string]string{}
	for _, e := range resp.Data.Errors {
		codes[filepath.Base(e.File)] = e.Code
	}
	assert.Equal(t, ErrCodeSchema, codes["bad.yaml"])
	assert.Equal(t, ErrCodeGraph, codes["broken.yaml"])
}

func TestValidate_TextReportsEachFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", brokenGraphScenario)

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, out, "broken.yaml")
	assert.Contains(t, out, "[E202]")
}

func TestValidate_NonExistentPath(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_EmptyDirectory(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoFiles)
}
