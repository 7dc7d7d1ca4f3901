// Package ir provides the descriptor and plan types for consentstack.
//
// This package contains type definitions, canonical serialization and
// content hashing only. All other internal packages import ir; ir imports
// nothing internal, so the descriptor set stays the foundational layer.
//
// Key design constraints:
//   - Cross-resource references are ResourceID values resolved through a
//     Topology lookup table, never live object handles. A Topology and a
//     Plan are plain data and can be serialized before anything is deployed.
//   - Descriptors are immutable after compilation. The only values resolved
//     later are attribute references (see Token), filled in by the
//     orchestrator once the referenced resource exists.
//   - All JSON tags use snake_case.
//   - No float types anywhere; canonical JSON rejects them.
package ir
