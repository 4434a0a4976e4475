package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: seeded_architecture
description: An architecture note is proposed, staged, scored and deployed
findings:
  - kind: architecture_improvement
    component: pipeline
    title: Document the pipeline
    description: Describe every stage.
flow:
  - cycle: true
    expect:
      ok: true
      counts:
        governance.deployed: 1
assertions:
  - type: trace_order
    events: ["discovery:proposed", "validation:passed", "governance:deployed"]
`

const failingScenario = `
name: nothing_deployed
description: An empty queue deploys nothing
flow:
  - stage: governance
assertions:
  - type: trace_contains
    event: deployed
`

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestTest_UpdateThenMatch(t *testing.T) {
	base := t.TempDir()
	dir := t.TempDir()
	writeScenario(t, dir, "seeded_architecture.yaml", passingScenario)

	out, _, err := execute(t, base, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ seeded_architecture (golden updated)")
	assert.FileExists(t, filepath.Join(dir, "golden", "seeded_architecture.golden"))

	out, _, err = execute(t, base, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ seeded_architecture\n")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTest_GoldenMismatch(t *testing.T) {
	base := t.TempDir()
	dir := t.TempDir()
	writeScenario(t, dir, "seeded_architecture.yaml", passingScenario)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "seeded_architecture.golden"), []byte(`{"trace":[]}`), 0o644))

	out, _, err := execute(t, base, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_FailingScenarioJSON(t *testing.T) {
	base := t.TempDir()
	dir := t.TempDir()
	writeScenario(t, dir, "nothing_deployed.yaml", failingScenario)
	writeScenario(t, dir, "seeded_architecture.yaml", passingScenario)

	out, _, err := execute(t, base, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decode(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
	assert.Equal(t, "1 scenario(s) failed", resp.Error.Message)

	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, details["passed"])
	assert.EqualValues(t, 2, details["total"])
}

func TestTest_Filter(t *testing.T) {
	base := t.TempDir()
	dir := t.TempDir()
	writeScenario(t, dir, "nothing_deployed.yaml", failingScenario)
	writeScenario(t, dir, "seeded_architecture.yaml", passingScenario)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	out, _, err := execute(t, base, "test", dir, "--filter", "seeded_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "nothing_deployed")
}

func TestTest_LoadError(t *testing.T) {
	base := t.TempDir()
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	out, _, err := execute(t, base, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "description is required")
}

func TestTest_CommandErrors(t *testing.T) {
	base := t.TempDir()

	_, _, err := execute(t, base, "test", filepath.Join(base, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	dir := t.TempDir()
	writeScenario(t, dir, "seeded_architecture.yaml", passingScenario)
	_, _, err = execute(t, base, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_NoScenarios(t *testing.T) {
	base := t.TempDir()
	dir := t.TempDir()

	out, _, err := execute(t, base, "test", dir)
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
