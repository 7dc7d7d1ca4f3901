package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/consentstack/internal/cli"
	"github.com/roach88/consentstack/internal/compiler"
	"github.com/roach88/consentstack/internal/engine"
	"github.com/roach88/consentstack/internal/ir"
	"github.com/roach88/consentstack/internal/store"
	"github.com/roach88/consentstack/internal/testutil"
	"github.com/roach88/consentstack/internal/zones"
)

// Harness is the scenario execution engine.
// Every deployment of a scenario shares one in-memory ledger and one
// logical clock, and provisions with a single worker, so the recorded
// sequence is identical across runs.
type Harness struct {
	store    *store.Store
	clock    *engine.Clock
	logger   *slog.Logger
	scenario *Scenario
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Create fresh in-memory ledger
// 2. For each deployment: load and compile the stack, then apply it
// 3. Check each deployment against its expect clause
// 4. Evaluate assertions against the trace and the ledger
//
// An error is returned only when the scenario cannot be executed (the
// stack does not build, the ledger fails). A failed expectation is
// reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		clock:    engine.NewClock(),
		logger:   testutil.DiscardLogger(),
		scenario: scenario,
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Deployments {
		if err := h.deploy(ctx, step, result); err != nil {
			return nil, fmt.Errorf("deployment %d (%s): %w", i, step.ID, err)
		}
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// deploy applies the stack once and checks the expect clause.
func (h *Harness) deploy(ctx context.Context, step DeploymentStep, result *Result) error {
	plan, err := h.compile(step)
	if err != nil {
		return err
	}

	names := h.scenario.Zones
	if len(step.Zones) > 0 {
		names = step.Zones
	}
	orch := engine.NewLocalOrchestrator(h.store, engine.WithLocalLogger(h.logger))
	d := engine.NewDeployer(orch, zones.NewStaticLookup(names...),
		engine.WithLogger(h.logger),
		engine.WithParallelism(1),
		engine.WithClock(h.clock),
		engine.WithRecorder(h.store),
		engine.WithIDGenerator(engine.NewFixedGenerator(step.ID)),
	)

	report, deployErr := d.Deploy(ctx, plan)
	if report == nil {
		return deployErr
	}
	code := engine.ErrorCode(deployErr)
	if deployErr != nil && code == "" {
		// Neither a resolution nor a provisioning failure: the ledger broke.
		return deployErr
	}
	result.AddReport(report, code)

	expect := step.Expect
	if expect == nil {
		expect = &ExpectClause{Status: StatusSucceeded}
	}
	outcome := result.Deployments[len(result.Deployments)-1]
	if outcome.Status != expect.Status {
		result.AddError(fmt.Sprintf("deployment %s: expected status %s, got %s (%s)",
			step.ID, expect.Status, outcome.Status, report.Error))
	}
	if expect.ErrorCode != "" && outcome.ErrorCode != expect.ErrorCode {
		result.AddError(fmt.Sprintf("deployment %s: expected error code %s, got %q",
			step.ID, expect.ErrorCode, outcome.ErrorCode))
	}

	h.logger.Info("deployment step completed",
		"deployment_id", step.ID,
		"status", outcome.Status,
		"error_code", outcome.ErrorCode,
	)
	return nil
}

// compile loads the stack with the step's params and builds its plan.
func (h *Harness) compile(step DeploymentStep) (*ir.Plan, error) {
	params := make(map[string]string, len(h.scenario.Params)+len(step.Params))
	for k, v := range h.scenario.Params {
		params[k] = v
	}
	for k, v := range step.Params {
		params[k] = v
	}

	loaded, err := cli.LoadStack(h.scenario.Stack, h.scenario.StackName, params)
	if err != nil {
		return nil, err
	}
	res, err := compiler.Compile(loaded.Topology)
	if err != nil {
		return nil, err
	}
	return res.Plan, nil
}
