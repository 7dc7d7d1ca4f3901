package ir

// Version constants for plan schema and tooling.
const (
	// PlanVersion is the plan schema version.
	PlanVersion = "1"

	// ToolVersion is the consentstack version stamped on deployments.
	ToolVersion = "0.1.0"
)
