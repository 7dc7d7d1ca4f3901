package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a deployment conformance scenario.
// A scenario compiles one stack, applies it one or more times against a
// fresh ledger, and asserts on the recorded outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Stack is the directory holding the stack's CUE files.
	// Relative paths are resolved against the scenario file location.
	Stack string `yaml:"stack"`

	// StackName selects a stack when the directory declares several.
	StackName string `yaml:"stack_name,omitempty"`

	// Params fill the stack's top-level params struct.
	Params map[string]string `yaml:"params,omitempty"`

	// Zones are the hosted zone names the static zone source serves.
	Zones []string `yaml:"zones"`

	// Deployments are applied in order against the same ledger.
	Deployments []DeploymentStep `yaml:"deployments"`

	// Assertions validate the final trace and ledger.
	// Supported types: node_status, stage_order, transition_count,
	// output, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// DeploymentStep is one apply of the stack.
type DeploymentStep struct {
	// ID is the fixed deployment id for deterministic ledgers.
	ID string `yaml:"id"`

	// Zones overrides the scenario zones for this apply only.
	Zones []string `yaml:"zones,omitempty"`

	// Params are merged over the scenario params for this apply only.
	Params map[string]string `yaml:"params,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the deployment is expected to succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a deployment.
type ExpectClause struct {
	// Status is "succeeded" or "failed".
	Status string `yaml:"status"`

	// ErrorCode is the stable code of the deployment error, if any.
	ErrorCode string `yaml:"error_code,omitempty"`
}

// Assertion validates the trace or the ledger.
type Assertion struct {
	// Type specifies the assertion type:
	// - "node_status": Check the reported status of one resource
	// - "stage_order": Check chain stages became ready in order
	// - "transition_count": Check a stage reached a state exactly N times
	// - "output": Check an output's value and resolution
	// - "final_state": Query a ledger table and verify expected values
	Type string `yaml:"type"`

	// Deployment selects the deployment (default: the last one).
	// Used by node_status and output.
	Deployment string `yaml:"deployment,omitempty"`

	// Resource and Status are used by node_status.
	Resource string `yaml:"resource,omitempty"`
	Status   string `yaml:"status,omitempty"`

	// Stages is the expected ready order (used by stage_order).
	Stages []string `yaml:"stages,omitempty"`

	// Stage, To and Count are used by transition_count.
	Stage string `yaml:"stage,omitempty"`
	To    string `yaml:"to,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Output, Value and Resolved are used by output.
	Output   string `yaml:"output,omitempty"`
	Value    string `yaml:"value,omitempty"`
	Resolved *bool  `yaml:"resolved,omitempty"`

	// Table is the ledger table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertNodeStatus      = "node_status"
	AssertStageOrder      = "stage_order"
	AssertTransitionCount = "transition_count"
	AssertOutput          = "output"
	AssertFinalState      = "final_state"
)

// Expected deployment statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// LoadScenario reads and parses a scenario YAML file. A relative stack
// path is resolved against the directory of the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the stack path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the stack path BEFORE validation
	if scenario.Stack != "" && !filepath.IsAbs(scenario.Stack) && basePath != "" {
		scenario.Stack = filepath.Join(basePath, scenario.Stack)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Stack == "" {
		return fmt.Errorf("stack is required")
	}
	if info, err := os.Stat(s.Stack); err != nil || !info.IsDir() {
		return fmt.Errorf("stack directory not found: %s", s.Stack)
	}

	if len(s.Deployments) == 0 {
		return fmt.Errorf("deployments list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Deployments))
	for i, step := range s.Deployments {
		if step.ID == "" {
			return fmt.Errorf("deployments[%d]: id is required", i)
		}
		if seen[step.ID] {
			return fmt.Errorf("deployments[%d]: duplicate id %q", i, step.ID)
		}
		seen[step.ID] = true
		if step.Expect != nil {
			switch step.Expect.Status {
			case StatusSucceeded, StatusFailed:
			default:
				return fmt.Errorf("deployments[%d].expect: status must be %q or %q", i, StatusSucceeded, StatusFailed)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
		if assertion.Deployment != "" && !seen[assertion.Deployment] {
			return fmt.Errorf("assertions[%d]: unknown deployment %q", i, assertion.Deployment)
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNodeStatus:
		if a.Resource == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: resource and status are required for node_status", index)
		}
	case AssertStageOrder:
		if len(a.Stages) == 0 {
			return fmt.Errorf("assertions[%d]: stages list is required for stage_order", index)
		}
	case AssertTransitionCount:
		if a.Stage == "" || a.To == "" {
			return fmt.Errorf("assertions[%d]: stage and to are required for transition_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for transition_count", index)
		}
	case AssertOutput:
		if a.Output == "" {
			return fmt.Errorf("assertions[%d]: output is required for output", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
