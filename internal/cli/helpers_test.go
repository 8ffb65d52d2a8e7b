package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

func scenarioPath(name string) string {
	return filepath.Join(scenariosDir, name+".yaml")
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NAYRA_STORE_PATH", "")
	t.Setenv("NAYRA_REDIS_ADDR", "")
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// copyScenarios copies the named testdata scenarios into a fresh directory.
func copyScenarios(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(scenarioPath(name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const brokenGraphScenario = `name: broken
description: "flow to a missing node"
processes:
  - id: p
    nodes:
      - { id: start, kind: startEvent }
    flows:
      - { from: start, to: nowhere }
steps:
  - create: { as: main, process: p }
`

const badSchemaScenario = `name: Bad-Name
description: "name breaks the pattern"
processes:
  - id: p
    nodes:
      - { id: start, kind: startEvent }
steps:
  - run: {}
`
