package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/consentstack/internal/ir"
	"github.com/roach88/consentstack/internal/template"
)

func TestPlanText(t *testing.T) {
	out, err := execute(NewPlanCommand(testOptions(t, "text")), stackDir)
	require.NoError(t, err)

	assert.Contains(t, out, "Stack CookiesConsent")
	for _, section := range []string{"Order:", "Edges:", "Policies:", "Routes:", "Domain chains:"} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, out, "HostedZone -> WildcardCertificate -> domain-name -> cookiesApi-route -> apiMapping")
	assert.Contains(t, out, "POST    /cookiesconsent -> CookiesConsentLambda")

	// The zone is provisioned before anything that depends on it.
	assert.Less(t, strings.Index(out, "HostedZone (hosted_zone)"), strings.Index(out, "WildcardCertificate (certificate)"))
}

func TestPlanJSON(t *testing.T) {
	out, err := execute(NewPlanCommand(testOptions(t, "json")), stackDir)
	require.NoError(t, err)

	var resp struct {
		Status string   `json:"status"`
		Data   PlanView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.PlanHash, 64)
	assert.Equal(t, ir.PlanVersion, resp.Data.Version)
	require.Len(t, resp.Data.Routes, 2)
	assert.Contains(t, resp.Data.Routes[0].SourceArn, "/dev/")

	seen := make(map[ir.ResourceID]int)
	for _, s := range resp.Data.Order {
		seen[s.ID] = s.Step
	}
	for _, e := range resp.Data.Edges {
		assert.Less(t, seen[e.From], seen[e.To], "%s must precede %s", e.From, e.To)
	}
}

func TestPlanYAMLMatchesJSON(t *testing.T) {
	jsonOut, err := execute(NewPlanCommand(testOptions(t, "json")), stackDir)
	require.NoError(t, err)
	yamlOut, err := execute(NewPlanCommand(testOptions(t, "yaml")), stackDir)
	require.NoError(t, err)

	var fromJSON, fromYAML map[string]any
	require.NoError(t, json.Unmarshal([]byte(jsonOut), &fromJSON))
	require.NoError(t, yaml.Unmarshal([]byte(yamlOut), &fromYAML))

	jsonData := fromJSON["data"].(map[string]any)
	yamlData := fromYAML["data"].(map[string]any)
	assert.Equal(t, jsonData["plan_hash"], yamlData["plan_hash"])
	assert.Equal(t, jsonData["stack"], yamlData["stack"])
	assert.Len(t, yamlData["order"], len(jsonData["order"].([]any)))
}

func TestPlanIsDeterministic(t *testing.T) {
	first, err := execute(NewPlanCommand(testOptions(t, "json")), stackDir)
	require.NoError(t, err)
	second, err := execute(NewPlanCommand(testOptions(t, "json")), stackDir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlanParamsChangeHash(t *testing.T) {
	hash := func(args ...string) string {
		out, err := execute(NewPlanCommand(testOptions(t, "json")), append([]string{stackDir}, args...)...)
		require.NoError(t, err)
		var resp struct {
			Data PlanView `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		return resp.Data.PlanHash
	}
	assert.NotEqual(t, hash(), hash("-p", "stage=prod"))
}

func TestPlanBuildFailure(t *testing.T) {
	_, err := execute(NewPlanCommand(testOptions(t, "text")), writeStack(t, invalidStack))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSynthToStdout(t *testing.T) {
	out, err := execute(NewSynthCommand(testOptions(t, "text")), stackDir)
	require.NoError(t, err)

	var tmpl template.Template
	require.NoError(t, json.Unmarshal([]byte(out), &tmpl))
	assert.Equal(t, template.FormatVersion, tmpl.FormatVersion)
	assert.Contains(t, tmpl.Parameters, "HostedZone")

	table, ok := tmpl.Resources["CookiesConsentTable"]
	require.True(t, ok)
	assert.Equal(t, "AWS::DynamoDB::Table", table.Type)

	mapping := tmpl.Resources[template.LogicalID("apiMapping")]
	assert.Contains(t, mapping.DependsOn, template.LogicalID("cookiesApi-route"))
}

func TestSynthYAML(t *testing.T) {
	out, err := execute(NewSynthCommand(testOptions(t, "yaml")), stackDir)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, template.FormatVersion, doc["AWSTemplateFormatVersion"])
}

func TestSynthToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.json")

	out, err := execute(NewSynthCommand(testOptions(t, "text")), stackDir, "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var tmpl template.Template
	require.NoError(t, json.Unmarshal(data, &tmpl))
	assert.NotEmpty(t, tmpl.Resources)
}

func TestSynthWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "template.json")

	_, err := execute(NewSynthCommand(testOptions(t, "text")), stackDir, "-o", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeWriteFailed)
}
