// Package engine applies a compiled plan through the orchestrator boundary.
//
// The engine receives an assembled, acyclic plan, resolves the external
// state it depends on, and hands every node to an Orchestrator in
// dependency order. It never retries and never rolls back; both belong to
// the orchestrator.
//
// ARCHITECTURE:
//
// Deployment Flow:
// 1. Hosted zones are looked up by name through a ZoneLookup
// 2. Certificate names are checked against the resolved zones
// 3. Walk visits the remaining nodes with bounded parallelism
// 4. Chain stages go through the ChainResolver state machine
// 5. Outputs are resolved, or set to their placeholders on failure
// 6. The report is written to the ledger through a Recorder
//
// Steps 1 and 2 abort the deployment before any orchestrator call.
//
// Domain Binding Chain:
// Zone, certificate, domain binding, alias record and base path mapping
// form a strictly sequential chain, gated additionally by the API
// deployment stage. Each stage moves Unresolved → Pending → Ready, or to
// Failed. A failure fails every downstream stage without attempting it.
//
// Certificate validation is the one suspend point: the orchestrator
// reports the certificate Pending and Deployer waits on Await under a
// timeout while independent nodes keep provisioning on other workers.
//
// CRITICAL PATTERNS:
//
// Confirmed Readiness:
// A stage is committed Ready only after the orchestrator reported success.
// Cancelling a deployment can therefore never leave a mapping on top of a
// binding that was not confirmed.
//
// Logical Clock:
// Transitions and node results are stamped with Clock.Next(), never with
// wall time.
//
// Error Taxonomy:
// ResolutionError for external state (zone miss, certificate outside its
// zone, validation failure or timeout); OrchestratorError for failures
// reported by the provisioning boundary. Build errors never reach the
// engine.
package engine
