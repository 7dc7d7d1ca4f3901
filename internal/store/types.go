package store

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Deployment statuses.
const (
	DeploymentRunning   = "running"
	DeploymentSucceeded = "succeeded"
	DeploymentFailed    = "failed"
)

// Deployment is one apply of a plan.
type Deployment struct {
	ID       string `json:"id"`
	Stack    string `json:"stack"`
	PlanHash string `json:"plan_hash"`
	Seq      int64  `json:"seq"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Resource is the current provisioned state of one logical resource.
type Resource struct {
	Stack        string            `json:"stack"`
	LogicalID    string            `json:"logical_id"`
	Kind         string            `json:"kind"`
	PhysicalID   string            `json:"physical_id"`
	SpecHash     string            `json:"spec_hash"`
	Attributes   map[string]string `json:"attributes"`
	Generation   int               `json:"generation"`
	DeploymentID string            `json:"deployment_id"`
}

// NodeResult is the outcome of one plan node within a deployment.
type NodeResult struct {
	DeploymentID string `json:"deployment_id"`
	LogicalID    string `json:"logical_id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	PhysicalID   string `json:"physical_id"`
	Error        string `json:"error,omitempty"`
	Seq          int64  `json:"seq"`
}

// StageEvent is one domain binding chain transition.
type StageEvent struct {
	DeploymentID string `json:"deployment_id"`
	Seq          int64  `json:"seq"`
	Stage        string `json:"stage"`
	From         string `json:"from"`
	To           string `json:"to"`
	Cause        string `json:"cause,omitempty"`
}

// OutputValue is a recorded stack output.
type OutputValue struct {
	DeploymentID string `json:"deployment_id"`
	Name         string `json:"name"`
	Value        string `json:"value"`
	Resolved     bool   `json:"resolved"`
}
