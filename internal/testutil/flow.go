package testutil

// FixedDeploymentID returns the same deployment id every time.
//
// Unlike engine.FixedGenerator, which hands out ids in sequence and panics
// when they run out, this generator can back any number of deployments.
// Golden snapshots use it so the id never appears as noise in a diff.
//
// Thread-safety: FixedDeploymentID is stateless and safe for concurrent use.
type FixedDeploymentID struct {
	id string
}

// NewFixedDeploymentID creates a fixed deployment id generator.
//
// The id is typically set in the scenario YAML:
//
//	deployment_id: "dep-00000000-0000-0000-0000-000000000001"
//
// If id is empty, Generate() returns "test-deployment".
func NewFixedDeploymentID(id string) *FixedDeploymentID {
	if id == "" {
		id = "test-deployment"
	}
	return &FixedDeploymentID{id: id}
}

// Generate returns the fixed id. Implements engine.IDGenerator.
func (g *FixedDeploymentID) Generate() string {
	return g.id
}
