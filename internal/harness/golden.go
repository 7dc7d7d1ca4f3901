package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/consentstack/internal/ir"
)

// TraceSnapshot captures the outcome of a scenario execution for golden
// comparison.
type TraceSnapshot struct {
	ScenarioName string              `json:"scenario_name"`
	Deployments  []DeploymentOutcome `json:"deployments"`
	Trace        []TraceEvent        `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for
// canonical JSON serialization.
//
// Seq is left out: node results draw from the same clock as stage
// transitions, so the numbers shift whenever a resource is added to the
// stack. The trace order is kept.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	deployments := make([]any, len(s.Deployments))
	for i, d := range s.Deployments {
		m := map[string]any{
			"id":     d.ID,
			"status": d.Status,
		}
		if d.ErrorCode != "" {
			m["error_code"] = d.ErrorCode
		}
		deployments[i] = m
	}

	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"deployment": event.Deployment,
			"stage":      event.Stage,
			"from":       event.From,
			"to":         event.To,
		}
		if event.Cause != "" {
			m["cause"] = event.Cause
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"deployments":   deployments,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares its outcome against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the outcome doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Deployments:  result.Deployments,
		Trace:        result.Trace,
	}

	traceJSON, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
