package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/consentstack/internal/ir"
)

// StageState is the state of one domain binding chain stage.
type StageState string

const (
	StateUnresolved StageState = "unresolved"
	StatePending    StageState = "pending"
	StateReady      StageState = "ready"
	StateFailed     StageState = "failed"
)

// StageRole names the position of a stage in a chain.
type StageRole string

const (
	RoleZone            StageRole = "zone"
	RoleCertificate     StageRole = "certificate"
	RoleDomainName      StageRole = "domain_name"
	RoleAliasRecord     StageRole = "alias_record"
	RoleAPI             StageRole = "api"
	RoleBasePathMapping StageRole = "base_path_mapping"
)

// Transition is one recorded state change.
type Transition struct {
	Seq   int64         `json:"seq"`
	Stage ir.ResourceID `json:"stage"`
	From  StageState    `json:"from"`
	To    StageState    `json:"to"`
	Cause string        `json:"cause,omitempty"`
}

// StageStatus is a point-in-time view of one stage.
type StageStatus struct {
	Stage ir.ResourceID `json:"stage"`
	Role  StageRole     `json:"role"`
	State StageState    `json:"state"`
}

// ChainResolver enforces the domain binding order
//
//	HostedZoneRef → Certificate → DomainBinding → AliasRecord → BasePathMapping
//
// with the API deployment stage as an additional predecessor of the
// mapping. Every stage is a state machine:
//
//	Unresolved → Pending → Ready
//	     ↓          ↓
//	   Failed     Failed
//
// A stage becomes Pending only when all its predecessors are Ready. Ready is
// committed only by Confirm, i.e. after the orchestrator reported success.
// Fail marks the stage and every downstream stage Failed; downstream stages
// are never attempted afterwards. Stages shared by several chains (one zone
// behind two domains) are tracked once.
//
// Thread-safety: ChainResolver is safe for concurrent use.
type ChainResolver struct {
	mu          sync.Mutex
	clock       *Clock
	roles       map[ir.ResourceID]StageRole
	preds       map[ir.ResourceID][]ir.ResourceID
	succs       map[ir.ResourceID][]ir.ResourceID
	states      map[ir.ResourceID]StageState
	transitions []Transition
	observers   []func(Transition)
}

// NewChainResolver builds the stage machines for a set of chains.
// All stages start Unresolved.
func NewChainResolver(chains []ir.ChainSpec, clock *Clock) *ChainResolver {
	if clock == nil {
		clock = NewClock()
	}
	r := &ChainResolver{
		clock:  clock,
		roles:  make(map[ir.ResourceID]StageRole),
		preds:  make(map[ir.ResourceID][]ir.ResourceID),
		succs:  make(map[ir.ResourceID][]ir.ResourceID),
		states: make(map[ir.ResourceID]StageState),
	}
	for _, c := range chains {
		r.add(c.Zone, RoleZone)
		r.add(c.Certificate, RoleCertificate, c.Zone)
		r.add(c.DomainName, RoleDomainName, c.Certificate)
		r.add(c.AliasRecord, RoleAliasRecord, c.DomainName, c.Zone)
		r.add(c.API, RoleAPI)
		r.add(c.BasePathMapping, RoleBasePathMapping, c.Certificate, c.DomainName, c.AliasRecord, c.API)
	}
	for id := range r.preds {
		sortIDs(r.preds[id])
	}
	for id := range r.succs {
		sortIDs(r.succs[id])
	}
	return r
}

func (r *ChainResolver) add(id ir.ResourceID, role StageRole, preds ...ir.ResourceID) {
	if id == "" {
		return
	}
	if _, ok := r.roles[id]; !ok {
		r.roles[id] = role
		r.states[id] = StateUnresolved
	}
	for _, p := range preds {
		if p == "" || containsID(r.preds[id], p) {
			continue
		}
		r.preds[id] = append(r.preds[id], p)
		r.succs[p] = append(r.succs[p], id)
	}
}

// Observe registers a callback invoked for every transition, in order,
// while the resolver lock is held. Callbacks must not call back into the
// resolver.
func (r *ChainResolver) Observe(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Contains reports whether id is a chain stage.
func (r *ChainResolver) Contains(id ir.ResourceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.roles[id]
	return ok
}

// State returns the current state of a stage.
func (r *ChainResolver) State(id ir.ResourceID) StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id]
}

// Begin moves a stage from Unresolved to Pending.
// Returns ErrPredecessorNotReady unless every predecessor is Ready.
func (r *ChainResolver) Begin(id ir.ResourceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[id]
	if !ok {
		return fmt.Errorf("begin %s: unknown stage", id)
	}
	if state != StateUnresolved {
		return fmt.Errorf("begin %s from %s: %w", id, state, ErrInvalidTransition)
	}
	for _, p := range r.preds[id] {
		if r.states[p] != StateReady {
			return fmt.Errorf("begin %s: %s is %s: %w", id, p, r.states[p], ErrPredecessorNotReady)
		}
	}
	r.transition(id, StatePending, "")
	return nil
}

// Confirm commits a Pending stage as Ready.
func (r *ChainResolver) Confirm(id ir.ResourceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[id]
	if !ok {
		return fmt.Errorf("confirm %s: unknown stage", id)
	}
	if state != StatePending {
		return fmt.Errorf("confirm %s from %s: %w", id, state, ErrInvalidTransition)
	}
	r.transition(id, StateReady, "")
	return nil
}

// Fail marks a stage Failed and propagates Failed to every downstream stage
// that is not already Ready or Failed. It returns the downstream stages
// failed by propagation, sorted. Failing a Ready or Failed stage is a no-op.
func (r *ChainResolver) Fail(id ir.ResourceID, cause error) []ir.ResourceID {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[id]
	if !ok || state == StateReady || state == StateFailed {
		return nil
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	r.transition(id, StateFailed, msg)

	var propagated []ir.ResourceID
	queue := append([]ir.ResourceID(nil), r.succs[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if s := r.states[next]; s == StateFailed || s == StateReady {
			continue
		}
		r.transition(next, StateFailed, fmt.Sprintf("upstream %s failed", id))
		propagated = append(propagated, next)
		queue = append(queue, r.succs[next]...)
	}
	sortIDs(propagated)
	return propagated
}

// Complete reports whether every stage is Ready.
func (r *ChainResolver) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s != StateReady {
			return false
		}
	}
	return true
}

// Snapshot returns the state of every stage sorted by stage id.
func (r *ChainResolver) Snapshot() []StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageStatus, 0, len(r.states))
	for id, s := range r.states {
		out = append(out, StageStatus{Stage: id, Role: r.roles[id], State: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Transitions returns every recorded transition in seq order.
func (r *ChainResolver) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.transitions...)
}

// transition must be called with mu held.
func (r *ChainResolver) transition(id ir.ResourceID, to StageState, cause string) {
	t := Transition{
		Seq:   r.clock.Next(),
		Stage: id,
		From:  r.states[id],
		To:    to,
		Cause: cause,
	}
	r.states[id] = to
	r.transitions = append(r.transitions, t)
	for _, fn := range r.observers {
		fn(t)
	}
}

func containsID(ids []ir.ResourceID, id ir.ResourceID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func sortIDs(ids []ir.ResourceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
