// Package store provides the SQLite-backed deployment ledger.
//
// The ledger records:
//   - Deployments: one row per apply of a plan, ordered by seq
//   - Resources: current provisioned state keyed by (stack, logical id)
//   - Node results: per-deployment outcome of every plan node
//   - Stage events: domain binding chain state transitions
//   - Outputs: resolved or placeholder output values
//
// # Critical Patterns
//
// Idempotent writes
//   - Append-only tables use ON CONFLICT DO NOTHING, so re-recording the
//     same event is a no-op
//   - The resources table is the only upsert target; its spec_hash decides
//     whether a re-apply changes anything
//
// Logical time
//   - All ordering uses seq INTEGER, NEVER timestamps
//   - All list queries use ORDER BY seq ASC, id COLLATE BINARY ASC
//
// Canonical attributes
//   - Attribute maps are stored as RFC 8785 canonical JSON
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Referential integrity
package store
