// Package harness provides conformance testing for consentstack deployments.
//
// The harness compiles a stack, applies it one or more times through the
// local orchestrator against a fresh in-memory ledger, and checks the
// recorded outcome: deployment status, per-resource results, domain
// binding chain transitions, outputs and ledger rows.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	stack: ../../stacks/cookiesconsent
//	params: { hostedZone: example.com }
//	zones: [example.com]
//	deployments:
//	  - id: dep-1
//	  - id: dep-2
//	    zones: [other.org]
//	    expect:
//	      status: failed
//	      error_code: ZONE_NOT_FOUND
//	assertions:
//	  - type: stage_order
//	    stages: [HostedZone, WildcardCertificate, domain-name]
//	  - type: final_state
//	    table: deployments
//	    where: { id: dep-2 }
//	    expect: { status: failed }
//
// # Assertion Types
//
//   - node_status: Verifies the reported status of one resource
//   - stage_order: Verifies chain stages became ready in the specified order
//   - transition_count: Verifies a stage entered a state exactly N times
//   - output: Verifies an output's value and whether it resolved
//   - final_state: Queries a ledger table and verifies expected values
//
// # Deterministic Testing
//
// Deployment ids come from the scenario, every deployment shares one
// logical clock, and resources are provisioned by a single worker, so the
// trace is identical across runs and can be compared against a golden file.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/zone_miss.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
