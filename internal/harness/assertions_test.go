package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/consentstack/internal/engine"
	"github.com/roach88/consentstack/internal/store"
)

// chainTrace is a successful chain followed by a re-apply that failed at
// the certificate.
func chainTrace() []TraceEvent {
	return []TraceEvent{
		{Deployment: "dep-1", Seq: 1, Stage: "zone", From: "unresolved", To: "pending"},
		{Deployment: "dep-1", Seq: 2, Stage: "zone", From: "pending", To: "ready"},
		{Deployment: "dep-1", Seq: 3, Stage: "cert", From: "unresolved", To: "pending"},
		{Deployment: "dep-1", Seq: 4, Stage: "cert", From: "pending", To: "ready"},
		{Deployment: "dep-1", Seq: 5, Stage: "domain", From: "unresolved", To: "pending"},
		{Deployment: "dep-1", Seq: 6, Stage: "domain", From: "pending", To: "ready"},
		{Deployment: "dep-2", Seq: 7, Stage: "zone", From: "unresolved", To: "pending"},
		{Deployment: "dep-2", Seq: 8, Stage: "zone", From: "pending", To: "ready"},
		{Deployment: "dep-2", Seq: 9, Stage: "cert", From: "unresolved", To: "failed", Cause: "boom"},
	}
}

func TestAssertStageOrder(t *testing.T) {
	trace := chainTrace()

	require.NoError(t, assertStageOrder(trace, Assertion{Stages: []string{"zone", "cert", "domain"}}))
	require.NoError(t, assertStageOrder(trace, Assertion{Stages: []string{"zone", "domain"}}))

	err := assertStageOrder(trace, Assertion{Stages: []string{"domain", "zone"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain (pos 6) should be before zone (pos 2)")

	err = assertStageOrder(trace, Assertion{Stages: []string{"zone", "alias"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never ready: alias")
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertTransitionCount(t *testing.T) {
	trace := chainTrace()

	require.NoError(t, assertTransitionCount(trace, Assertion{Stage: "zone", To: "ready", Count: 2}))
	require.NoError(t, assertTransitionCount(trace, Assertion{Stage: "cert", To: "failed", Count: 1}))
	require.NoError(t, assertTransitionCount(trace, Assertion{Stage: "domain", To: "failed", Count: 0}))

	err := assertTransitionCount(trace, Assertion{Stage: "cert", To: "ready", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 transitions")
}

func reportResult() *Result {
	r := NewResult()
	r.AddReport(&engine.Report{
		DeploymentID: "dep-1",
		Nodes: []engine.NodeReport{
			{ID: "table", Kind: "table", Status: engine.NodeReady},
		},
		Outputs: []engine.OutputReport{{Name: "apiUrl", Value: "https://x/dev/", Resolved: true}},
	}, "")
	r.AddReport(&engine.Report{
		DeploymentID: "dep-2",
		Nodes: []engine.NodeReport{
			{ID: "table", Kind: "table", Status: engine.NodeSkipped, Error: "skipped"},
		},
		Outputs: []engine.OutputReport{{Name: "apiUrl", Value: "placeholder"}},
		Error:   "ZONE_NOT_FOUND: no zone",
	}, "ZONE_NOT_FOUND")
	return r
}

func TestAddReport(t *testing.T) {
	r := reportResult()

	assert.Equal(t, []DeploymentOutcome{
		{ID: "dep-1", Status: StatusSucceeded},
		{ID: "dep-2", Status: StatusFailed, ErrorCode: "ZONE_NOT_FOUND"},
	}, r.Deployments)
	assert.Equal(t, "dep-2", r.Last().DeploymentID)
	assert.True(t, r.Pass)
}

func TestAssertNodeStatus(t *testing.T) {
	r := reportResult()

	require.NoError(t, assertNodeStatus(r, Assertion{Resource: "table", Status: "skipped"}))
	require.NoError(t, assertNodeStatus(r, Assertion{Deployment: "dep-1", Resource: "table", Status: "ready"}))

	err := assertNodeStatus(r, Assertion{Resource: "table", Status: "ready"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table skipped (skipped)")

	err = assertNodeStatus(r, Assertion{Resource: "function", Status: "ready"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resource not in report")
}

func TestAssertOutput(t *testing.T) {
	r := reportResult()
	yes, no := true, false

	require.NoError(t, assertOutput(r, Assertion{Output: "apiUrl", Value: "placeholder", Resolved: &no}))
	require.NoError(t, assertOutput(r, Assertion{Deployment: "dep-1", Output: "apiUrl", Resolved: &yes}))

	err := assertOutput(r, Assertion{Output: "apiUrl", Resolved: &yes})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiUrl resolved=false")

	err = assertOutput(r, Assertion{Output: "apiUrl", Value: "https://x/dev/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"placeholder"`)

	err = assertOutput(r, Assertion{Output: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output not in report")
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.BeginDeployment(ctx, "dep-1", "Stack", "hash")
	require.NoError(t, err)
	require.NoError(t, st.WriteOutputs(ctx, []store.OutputValue{
		{DeploymentID: "dep-1", Name: "apiUrl", Value: "placeholder", Resolved: false},
	}))
	require.NoError(t, st.FinishDeployment(ctx, "dep-1", store.DeploymentFailed, "boom"))

	require.NoError(t, assertFinalState(ctx, st, Assertion{
		Table:  "deployments",
		Where:  map[string]interface{}{"id": "dep-1"},
		Expect: map[string]interface{}{"status": "failed", "error": "boom"},
	}))
	require.NoError(t, assertFinalState(ctx, st, Assertion{
		Table:  "outputs",
		Where:  map[string]interface{}{"deployment_id": "dep-1", "name": "apiUrl"},
		Expect: map[string]interface{}{"resolved": false, "value": "placeholder"},
	}))

	err = assertFinalState(ctx, st, Assertion{
		Table:  "deployments",
		Where:  map[string]interface{}{"id": "dep-1"},
		Expect: map[string]interface{}{"status": "succeeded"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "status" = succeeded`)

	err = assertFinalState(ctx, st, Assertion{
		Table:  "deployments",
		Where:  map[string]interface{}{"id": "dep-9"},
		Expect: map[string]interface{}{"status": "failed"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row not found")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "deployments",
		Expect: map[string]interface{}{"nope": "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "nope" not present`)
}

func TestAssertFinalState_RejectsBadIdentifiers(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	err = assertFinalState(ctx, st, Assertion{
		Table:  "deployments; DROP TABLE deployments",
		Expect: map[string]interface{}{"status": "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "deployments",
		Where:  map[string]interface{}{"id = id OR 1": 1},
		Expect: map[string]interface{}{"status": "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected interface{}
		actual   interface{}
		want     bool
	}{
		{"string", "a", "a", true},
		{"string bytes", "a", []byte("a"), true},
		{"string mismatch", "a", "b", false},
		{"int vs int64", 3, int64(3), true},
		{"int mismatch", 3, int64(4), false},
		{"bool vs int64 true", true, int64(1), true},
		{"bool vs int64 false", false, int64(0), true},
		{"bool mismatch", true, int64(0), false},
		{"nil both", nil, nil, true},
		{"nil one", nil, "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "bogus"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "bogus"`)
}

func TestEvaluateAssertions_FinalStateNeedsStore(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertFinalState, Table: "deployments"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires database context")
}
