package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/consentstack/internal/engine"
	"github.com/roach88/consentstack/internal/store"
)

// apiURLOutput is the invocation URL output of the shipped stack.
const apiURLOutput = "HTTP API URL"

type deployResponse struct {
	Status       string        `json:"status"`
	Data         engine.Report `json:"data"`
	Error        *CLIError     `json:"error"`
	DeploymentID string        `json:"deployment_id"`
}

func deployCmd(t *testing.T, format string, ids ...string) *DeployOptions {
	t.Helper()
	return &DeployOptions{
		RootOptions: testOptions(t, format),
		IDGenerator: engine.NewFixedGenerator(ids...),
	}
}

func runDeployJSON(t *testing.T, db, id string, args ...string) (deployResponse, error) {
	t.Helper()
	out, err := execute(newDeployCommand(deployCmd(t, "json", id)),
		append([]string{"--db", db, stackDir}, args...)...)
	var resp deployResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp, err
}

func TestDeploySucceeds(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	resp, err := runDeployJSON(t, db, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "dep-1", resp.DeploymentID)
	assert.Equal(t, "CookiesConsent", resp.Data.Stack)
	assert.True(t, resp.Data.Succeeded())

	out, ok := resp.Data.Output(apiURLOutput)
	require.True(t, ok)
	assert.True(t, out.Resolved)
	assert.Contains(t, out.Value, "execute-api.eu-west-1")
	assert.Contains(t, out.Value, "/dev/")

	for _, s := range resp.Data.Chain {
		assert.Equal(t, engine.StateReady, s.State, s.Stage)
	}
}

func TestDeployText(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	out, err := execute(newDeployCommand(deployCmd(t, "text", "dep-1")), "--db", db, stackDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Deployment dep-1 of CookiesConsent")
	assert.Contains(t, out, "Domain chain:")
	assert.Contains(t, out, "Outputs:")
	assert.Contains(t, out, "HTTP API URL = https://")
	assert.NotContains(t, out, "Error:")
}

func TestDeployReapplyIsUnchanged(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	first, err := runDeployJSON(t, db, "dep-1")
	require.NoError(t, err)

	second, err := runDeployJSON(t, db, "dep-2")
	require.NoError(t, err)
	assert.Equal(t, "dep-2", second.DeploymentID)
	assert.Equal(t, first.Data.PlanHash, second.Data.PlanHash)
	for _, n := range second.Data.Nodes {
		assert.Equal(t, engine.NodeUnchanged, n.Status, n.ID)
	}
	assert.Equal(t, first.Data.Outputs, second.Data.Outputs)
}

func TestDeployZoneMiss(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	resp, err := runDeployJSON(t, db, "dep-1", "--zones", "other.org")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.ErrCodeZoneNotFound), resp.Error.Code)
	assert.False(t, resp.Data.Succeeded())

	out, ok := resp.Data.Output(apiURLOutput)
	require.True(t, ok)
	assert.False(t, out.Resolved)
	assert.Equal(t, "Something went wrong with deploying the API", out.Value)

	table, ok := resp.Data.Node("CookiesConsentTable")
	require.True(t, ok)
	assert.Equal(t, engine.NodeSkipped, table.Status)
}

func TestDeployZoneMissText(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	out, err := execute(newDeployCommand(deployCmd(t, "text", "dep-1")),
		"--db", db, "--zones", "other.org", stackDir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ Deployment dep-1")
	assert.Contains(t, out, "Error: ")
	assert.Contains(t, out, "HTTP API URL = Something went wrong with deploying the API")
}

func TestDeployBadZoneSource(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, err := execute(newDeployCommand(deployCmd(t, "text", "dep-1")),
		"--db", db, "--zone-source", "carrier-pigeon", stackDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown zone source")
}

func TestDeployBuildFailure(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, err := execute(newDeployCommand(deployCmd(t, "text", "dep-1")),
		"--db", db, writeStack(t, invalidStack))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStatusReadsLedger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	_, err := runDeployJSON(t, db, "dep-1")
	require.NoError(t, err)

	out, err := execute(NewStatusCommand(testOptions(t, "json")), "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   StatusResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "dep-1", resp.Data.Deployment.ID)
	assert.Equal(t, store.DeploymentSucceeded, resp.Data.Deployment.Status)
	assert.NotEmpty(t, resp.Data.Nodes)
	assert.NotEmpty(t, resp.Data.Events)

	// Transitions are recorded in order.
	for i := 1; i < len(resp.Data.Events); i++ {
		assert.Less(t, resp.Data.Events[i-1].Seq, resp.Data.Events[i].Seq)
	}
}

func TestStatusText(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	_, err := runDeployJSON(t, db, "dep-1", "--zones", "other.org")
	require.Error(t, err)

	out, err := execute(NewStatusCommand(testOptions(t, "text")), "--db", db, "--stack", "CookiesConsent")
	require.NoError(t, err)
	assert.Contains(t, out, "✗ Deployment dep-1 of CookiesConsent: failed")
	assert.Contains(t, out, "error: ")
	assert.Contains(t, out, "Resources:")
	assert.Contains(t, out, "Stage transitions:")
}

func TestStatusSelectsDeployment(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	_, err := runDeployJSON(t, db, "dep-1")
	require.NoError(t, err)
	_, err = runDeployJSON(t, db, "dep-2")
	require.NoError(t, err)

	pick := func(args ...string) string {
		out, err := execute(NewStatusCommand(testOptions(t, "json")), append([]string{"--db", db}, args...)...)
		require.NoError(t, err)
		var resp struct {
			Data StatusResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		return resp.Data.Deployment.ID
	}
	assert.Equal(t, "dep-2", pick())
	assert.Equal(t, "dep-1", pick("--deployment", "dep-1"))
	assert.Equal(t, "dep-2", pick("--stack", "CookiesConsent"))
}

func TestStatusEmptyLedger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, err := execute(NewStatusCommand(testOptions(t, "text")), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)

	_, err = execute(NewStatusCommand(testOptions(t, "text")), "--db", db, "--deployment", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching deployment")
}

func TestOutputsReadsLedger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	_, err := runDeployJSON(t, db, "dep-1")
	require.NoError(t, err)

	out, err := execute(NewOutputsCommand(testOptions(t, "text")), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ HTTP API URL = https://")

	out, err = execute(NewOutputsCommand(testOptions(t, "json")), "--db", db)
	require.NoError(t, err)
	var resp struct {
		Data OutputsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "dep-1", resp.Data.DeploymentID)
	require.Len(t, resp.Data.Outputs, 1)
	assert.True(t, resp.Data.Outputs[0].Resolved)
}

func TestOutputsPlaceholderAfterFailure(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	_, err := runDeployJSON(t, db, "dep-1", "--zones", "other.org")
	require.Error(t, err)

	out, err := execute(NewOutputsCommand(testOptions(t, "text")), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "! HTTP API URL = Something went wrong with deploying the API")
}

func TestOutputsEmptyLedger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, err := execute(NewOutputsCommand(testOptions(t, "text")), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestShippedStackOutputName(t *testing.T) {
	loaded, err := LoadStack(stackDir, "", nil)
	require.NoError(t, err)
	require.Len(t, loaded.Topology.Outputs, 1)
	out := loaded.Topology.Outputs[0]
	assert.Equal(t, apiURLOutput, out.Name)
	assert.Equal(t, "Something went wrong with deploying the API", out.Placeholder)
}
