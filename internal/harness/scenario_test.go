package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content to a scenario file next to an empty stack
// directory named "stack".
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stack"), 0o755))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
stack: stack
params:
  hostedZone: example.com
zones: [example.com]
deployments:
  - id: dep-1
  - id: dep-2
    zones: [other.org]
    expect:
      status: failed
      error_code: ZONE_NOT_FOUND
assertions:
  - type: node_status
    deployment: dep-2
    resource: HostedZone
    status: failed
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "stack"), scenario.Stack)
	assert.Equal(t, "example.com", scenario.Params["hostedZone"])
	require.Len(t, scenario.Deployments, 2)
	assert.Nil(t, scenario.Deployments[0].Expect)
	assert.Equal(t, []string{"other.org"}, scenario.Deployments[1].Zones)
	assert.Equal(t, "ZONE_NOT_FOUND", scenario.Deployments[1].Expect.ErrorCode)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertNodeStatus, scenario.Assertions[0].Type)
}

func TestLoadScenario_ShippedScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "typo"
stack: stack
deployments:
  - id: dep-1
assertion:
  - type: output
    output: apiUrl
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: "d"
stack: stack
deployments: [{id: dep-1}]
assertions: [{type: output, output: apiUrl}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing stack dir",
			content: `
name: n
description: "d"
stack: elsewhere
deployments: [{id: dep-1}]
assertions: [{type: output, output: apiUrl}]
`,
			wantErr: "stack directory not found",
		},
		{
			name: "no deployments",
			content: `
name: n
description: "d"
stack: stack
assertions: [{type: output, output: apiUrl}]
`,
			wantErr: "deployments list is required",
		},
		{
			name: "duplicate deployment id",
			content: `
name: n
description: "d"
stack: stack
deployments: [{id: dep-1}, {id: dep-1}]
assertions: [{type: output, output: apiUrl}]
`,
			wantErr: `duplicate id "dep-1"`,
		},
		{
			name: "bad expected status",
			content: `
name: n
description: "d"
stack: stack
deployments: [{id: dep-1, expect: {status: maybe}}]
assertions: [{type: output, output: apiUrl}]
`,
			wantErr: "status must be",
		},
		{
			name: "unknown assertion type",
			content: `
name: n
description: "d"
stack: stack
deployments: [{id: dep-1}]
assertions: [{type: trace_contains}]
`,
			wantErr: `unknown assertion type "trace_contains"`,
		},
		{
			name: "assertion on unknown deployment",
			content: `
name: n
description: "d"
stack: stack
deployments: [{id: dep-1}]
assertions: [{type: output, output: apiUrl, deployment: dep-9}]
`,
			wantErr: `unknown deployment "dep-9"`,
		},
		{
			name: "final_state without expect",
			content: `
name: n
description: "d"
stack: stack
deployments: [{id: dep-1}]
assertions: [{type: final_state, table: deployments}]
`,
			wantErr: "expect is required for final_state",
		},
		{
			name: "stage_order without stages",
			content: `
name: n
description: "d"
stack: stack
deployments: [{id: dep-1}]
assertions: [{type: stage_order}]
`,
			wantErr: "stages list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
