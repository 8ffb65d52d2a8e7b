package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Text(t *testing.T) {
	out, err := execute(t, "compile", scenarioPath("exclusive_routing"))
	require.NoError(t, err)
	assert.Contains(t, out, "Process ")
	assert.Contains(t, out, "exclusiveGateway")
	assert.Contains(t, out, "[default]")
	assert.Contains(t, out, "[guarded]")
	assert.Contains(t, out, "transitions: ")
}

func TestCompile_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "compile", scenarioPath("message_correlation"))
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   []CompiledProcess `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)

	seller := resp.Data[0]
	assert.Equal(t, "seller", seller.ID)
	require.Len(t, seller.Nodes, 4)
	wait := seller.Nodes[1]
	assert.Equal(t, "wait-order", wait.ID)
	assert.Equal(t, "intermediateCatchEvent", wait.Kind)
	assert.Equal(t, "order", wait.Message)
	assert.Equal(t, []string{"flow-1"}, wait.Incoming)
	assert.Equal(t, []string{"flow-2"}, wait.Outgoing)
	assert.NotEmpty(t, wait.Transitions)

	start := seller.Nodes[0]
	assert.Empty(t, start.Incoming)
	require.Len(t, seller.Flows, 3)
	assert.Equal(t, CompiledFlow{ID: "flow-1", From: "start", To: "wait-order"}, seller.Flows[0])
}

func TestCompile_GraphError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.yaml", brokenGraphScenario)

	out, err := execute(t, "--format", "json", "compile", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeGraph)
}

func TestCompile_MissingFile(t *testing.T) {
	_, err := execute(t, "compile", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
