package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invalidStack = `
package bad

stack: Bad: {
	function: F: {
		handler: "f.handler"
		runtime: "nodejs14.x"
		code:    "src"
		access: [{table: "Missing", mode: "read"}]
	}
	api: Api: {
		stageName: "dev"
		routes: [
			{path: "consent", method: "GET", target: "F"},
			{path: "/consent/", method: "get", target: "F"},
		]
	}
}
`

func TestValidateShippedStack(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions(t, "text")), stackDir)
	require.NoError(t, err)

	assert.Contains(t, out, "Stack CookiesConsent valid")
	assert.NotContains(t, out, "W201", "the read function is granted explicitly")
}

func TestValidateShippedStackJSON(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions(t, "json")), stackDir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "CookiesConsent", resp.Data.Stack)
	assert.Positive(t, resp.Data.Resources)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions(t, "text")), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions(t, "text")), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, out, "no CUE files found")
}

func TestValidateNoStack(t *testing.T) {
	dir := writeStack(t, "package empty\n\nparams: {}\n")

	_, err := execute(NewValidateCommand(testOptions(t, "text")), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoStack)
}

func TestValidateSeveralStacks(t *testing.T) {
	dir := writeStack(t, `
package two

stack: A: zone: Z: domainName: "a.example.com"
stack: B: zone: Z: domainName: "b.example.com"
`)

	_, err := execute(NewValidateCommand(testOptions(t, "text")), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A, B")

	out, err := execute(NewValidateCommand(testOptions(t, "text")), dir, "--stack", "B")
	require.NoError(t, err)
	assert.Contains(t, out, "Stack B valid")
}

func TestValidateTopologyError(t *testing.T) {
	dir := writeStack(t, `
package bad

stack: Bad: function: F: {runtime: "nodejs14.x", code: "src"}
`)

	_, err := execute(NewValidateCommand(testOptions(t, "text")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeTopology)
	assert.Contains(t, err.Error(), "function.F.handler")
}

func TestValidateReportsAllErrors(t *testing.T) {
	dir := writeStack(t, invalidStack)

	out, err := execute(NewValidateCommand(testOptions(t, "text")), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed")
	assert.Contains(t, out, "E102")
	assert.Contains(t, out, "E110")
}

func TestValidateReportsAllErrorsJSON(t *testing.T) {
	dir := writeStack(t, invalidStack)

	out, err := execute(NewValidateCommand(testOptions(t, "json")), dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.GreaterOrEqual(t, len(resp.Data.Errors), 2)
	require.NotNil(t, resp.Error)
	assert.Equal(t, resp.Data.Errors[0].Code, resp.Error.Code)
}

func TestValidateUngrantedReferenceWarning(t *testing.T) {
	dir := writeStack(t, `
package warn

stack: Warn: {
	table: T: partitionKey: {name: "PK", type: "S"}
	function: Get: {
		handler: "get.handler"
		runtime: "nodejs14.x"
		code:    "src"
		environment: TABLE_NAME: {ref: "T", attr: "name"}
	}
}
`)

	out, err := execute(NewValidateCommand(testOptions(t, "text")), dir)
	require.NoError(t, err, "warnings do not fail validation")
	assert.Contains(t, out, "W201")
}

func TestValidateParamOverride(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions(t, "text")), stackDir, "-p", "hostedZone=example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	_, err = execute(NewValidateCommand(testOptions(t, "text")), stackDir, "-p", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}
