package harness

import (
	"github.com/roach88/consentstack/internal/engine"
)

// TraceEvent is one chain stage transition recorded during a scenario.
type TraceEvent struct {
	Deployment string `json:"deployment"`
	Seq        int64  `json:"seq"`
	Stage      string `json:"stage"`
	From       string `json:"from"`
	To         string `json:"to"`
	Cause      string `json:"cause,omitempty"`
}

// DeploymentOutcome summarizes one apply.
type DeploymentOutcome struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every stage transition of every deployment in order.
	Trace []TraceEvent `json:"trace"`

	// Deployments lists the outcome of each apply in scenario order.
	Deployments []DeploymentOutcome `json:"deployments"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Reports holds the full report of each deployment by id.
	Reports map[string]*engine.Report `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Deployments: []DeploymentOutcome{},
		Errors:      []string{},
		Reports:     make(map[string]*engine.Report),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddReport records a deployment report and appends its transitions to
// the trace.
func (r *Result) AddReport(report *engine.Report, errorCode string) {
	status := StatusSucceeded
	if !report.Succeeded() {
		status = StatusFailed
	}
	r.Deployments = append(r.Deployments, DeploymentOutcome{
		ID:        report.DeploymentID,
		Status:    status,
		ErrorCode: errorCode,
	})
	r.Reports[report.DeploymentID] = report
	for _, t := range report.Transitions {
		r.Trace = append(r.Trace, TraceEvent{
			Deployment: report.DeploymentID,
			Seq:        t.Seq,
			Stage:      string(t.Stage),
			From:       string(t.From),
			To:         string(t.To),
			Cause:      t.Cause,
		})
	}
}

// Last returns the report of the last deployment, or nil.
func (r *Result) Last() *engine.Report {
	if len(r.Deployments) == 0 {
		return nil
	}
	return r.Reports[r.Deployments[len(r.Deployments)-1].ID]
}
