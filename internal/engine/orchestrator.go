package engine

import (
	"context"

	"github.com/roach88/consentstack/internal/ir"
)

// Change describes what provisioning did to a resource.
type Change string

const (
	ChangeCreated   Change = "created"
	ChangeUpdated   Change = "updated"
	ChangeReplaced  Change = "replaced"
	ChangeUnchanged Change = "unchanged"
)

// ProvisionRequest is everything the orchestrator receives for one node.
//
// Properties is the declared descriptor for declared resources, or the
// compiled form for derived nodes (ir.APIResource, ir.APIMethod, and the
// ir.APISurface for a deployment stage). Inputs carries the attributes of
// every direct dependency as "id.attr" keys; Environment holds the function
// environment with references already resolved.
type ProvisionRequest struct {
	DeploymentID string               `json:"deployment_id"`
	Stack        string               `json:"stack"`
	ID           ir.ResourceID        `json:"id"`
	Kind         ir.Kind              `json:"kind"`
	DependsOn    []ir.ResourceID      `json:"depends_on"`
	Properties   any                  `json:"properties"`
	Inputs       map[string]string    `json:"inputs,omitempty"`
	Environment  map[string]string    `json:"environment,omitempty"`
	Policies     []ir.PolicyStatement `json:"policies,omitempty"`
	Permission   *ir.InvokePermission `json:"permission,omitempty"`
}

// ProvisionResult is the orchestrator's report for one node.
//
// A Pending result means creation was accepted but readiness is not yet
// observable (certificate DNS validation); the caller must Await it before
// treating the resource as Ready.
type ProvisionResult struct {
	PhysicalID string            `json:"physical_id"`
	Attributes map[string]string `json:"attributes"`
	Change     Change            `json:"change"`
	Pending    bool              `json:"pending,omitempty"`
}

// Orchestrator is the provisioning boundary. It turns one request into a
// provisioned resource and owns its own idempotency and rollback; the core
// never retries a failed call.
type Orchestrator interface {
	// Provision creates or updates a resource.
	Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error)

	// Await blocks until a Pending resource is ready or fails.
	// Cancelling ctx abandons the wait.
	Await(ctx context.Context, req ProvisionRequest, pending ProvisionResult) (ProvisionResult, error)
}

// Zone is a resolved pre-existing hosted zone.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ZoneLookup resolves a hosted zone by domain name.
// Implementations return an error wrapping ErrZoneNotFound on a miss.
type ZoneLookup interface {
	LookupZone(ctx context.Context, name string) (Zone, error)
}
