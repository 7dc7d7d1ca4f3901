package engine

import (
	"github.com/roach88/consentstack/internal/ir"
)

// NodeStatus is the per-node outcome of a deployment.
type NodeStatus string

const (
	NodeReady     NodeStatus = "ready"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeUnchanged NodeStatus = "unchanged"
	NodeReplaced  NodeStatus = "replaced"
	NodeUpdated   NodeStatus = "updated"
)

// statusFor maps an orchestrator change onto a node status.
// Created resources report as plain ready.
func statusFor(c Change) NodeStatus {
	switch c {
	case ChangeUnchanged:
		return NodeUnchanged
	case ChangeReplaced:
		return NodeReplaced
	case ChangeUpdated:
		return NodeUpdated
	default:
		return NodeReady
	}
}

// NodeReport is the outcome of one plan node.
type NodeReport struct {
	ID         ir.ResourceID `json:"id"`
	Kind       ir.Kind       `json:"kind"`
	Status     NodeStatus    `json:"status"`
	PhysicalID string        `json:"physical_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	Seq        int64         `json:"seq"`
}

// OutputReport is one resolved stack output.
type OutputReport struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Resolved bool   `json:"resolved"`
}

// Report describes one deployment.
type Report struct {
	DeploymentID string         `json:"deployment_id"`
	Stack        string         `json:"stack"`
	PlanHash     string         `json:"plan_hash"`
	Nodes        []NodeReport   `json:"nodes"`
	Chain        []StageStatus  `json:"chain"`
	Transitions  []Transition   `json:"transitions"`
	Outputs      []OutputReport `json:"outputs"`
	Error        string         `json:"error,omitempty"`
}

// Succeeded reports whether every node is usable.
func (r *Report) Succeeded() bool {
	if r.Error != "" {
		return false
	}
	for _, n := range r.Nodes {
		if n.Status == NodeFailed || n.Status == NodeSkipped {
			return false
		}
	}
	return true
}

// Node returns the report of one node.
func (r *Report) Node(id ir.ResourceID) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeReport{}, false
}

// Output returns the output with the given name.
func (r *Report) Output(name string) (OutputReport, bool) {
	for _, o := range r.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return OutputReport{}, false
}

// Counts tallies nodes by status.
func (r *Report) Counts() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	for _, n := range r.Nodes {
		counts[n.Status]++
	}
	return counts
}
