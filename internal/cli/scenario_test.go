package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const passingScenario = `name: copy_one
description: "One record crosses to an empty replica"
replicas:
  - { name: a, id: 1 }
  - { name: b, id: 2 }
setup:
  - { op: put, replica: a, key: k1, fields: { text: hello } }
flow:
  - op: sync
    source: a
    target: b
    expect: { inserted: [k1] }
assertions:
  - { type: converged, replicas: [a, b] }
`

const failingScenario = `name: wrong_count
description: "Expects a record that never existed"
replicas:
  - { name: a, id: 1 }
  - { name: b, id: 2 }
setup:
  - { op: put, replica: a, key: k1, fields: { text: hello } }
flow:
  - op: sync
    source: a
    target: b
    expect: { inserted: [k1, k2] }
assertions:
  - { type: ledger_size, replica: b, count: 1 }
`

func writeScenario(t *testing.T, dir, file, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestScenarioCommand_HarnessScenarios(t *testing.T) {
	var summary ScenarioSummary
	runJSON(t, &summary, "scenario", harnessScenarios)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 5, summary.Passed)
	for _, r := range summary.Scenarios {
		assert.True(t, r.Pass, "%s: %v", r.Name, r.Errors)
		assert.Equal(t, "match", r.Golden, r.Name)
	}
}

func TestScenarioCommand_Filter(t *testing.T) {
	var summary ScenarioSummary
	runJSON(t, &summary, "scenario", harnessScenarios, "--filter", "one_way*")

	require.Equal(t, 1, summary.Total)
	assert.Equal(t, "one_way_insert", summary.Scenarios[0].Name)
}

func TestScenarioCommand_SingleFile(t *testing.T) {
	var summary ScenarioSummary
	runJSON(t, &summary, "scenario", filepath.Join(harnessScenarios, "fail_strategy.yaml"))

	require.Equal(t, 1, summary.Total)
	assert.True(t, summary.Scenarios[0].Pass)
	assert.Equal(t, "match", summary.Scenarios[0].Golden)
}

func TestScenarioCommand_UpdateGolden(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	writeScenario(t, scenarios, "copy_one.yaml", passingScenario)

	var summary ScenarioSummary
	runJSON(t, &summary, "scenario", scenarios)
	require.Equal(t, 1, summary.Passed)
	assert.Equal(t, "missing", summary.Scenarios[0].Golden)

	runJSON(t, &summary, "scenario", scenarios, "--update")
	assert.Equal(t, "updated", summary.Scenarios[0].Golden)

	golden, err := os.ReadFile(filepath.Join(root, "golden", "copy_one.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"copy_one"`)

	runJSON(t, &summary, "scenario", scenarios)
	assert.Equal(t, "match", summary.Scenarios[0].Golden)

	t.Run("mismatch fails", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "golden", "copy_one.golden"), []byte(`{}`), 0o644))
		code, errCode := runError(t, "scenario", scenarios)
		assert.Equal(t, ExitFailure, code)
		assert.Equal(t, ErrCodeScenarioFailed, errCode)
	})
}

func TestScenarioCommand_Failures(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scenarios")
	writeScenario(t, dir, "a_pass.yaml", passingScenario)
	writeScenario(t, dir, "b_fail.yaml", failingScenario)
	writeScenario(t, dir, "c_broken.yaml", "name: [unclosed")

	out, _, code := run(t, "scenario", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "✓ copy_one")
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "inserted: expected")
	assert.Contains(t, out, "✗ c_broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
	assert.Contains(t, out, "1 passed, 2 failed, 3 total")
}

func TestScenarioCommand_Empty(t *testing.T) {
	out, _, code := run(t, "scenario", t.TempDir())
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestScenarioCommand_MissingPath(t *testing.T) {
	code, errCode := runError(t, "scenario", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, code)
	assert.Equal(t, ErrCodeNotFound, errCode)
}
