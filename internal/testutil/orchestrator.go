package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/consentstack/internal/engine"
	"github.com/roach88/consentstack/internal/ir"
	"github.com/roach88/consentstack/internal/store"
)

// MemoryLedger is an in-memory engine.ResourceLedger.
//
// Thread-safety: MemoryLedger is safe for concurrent use.
type MemoryLedger struct {
	mu        sync.Mutex
	resources map[string]store.Resource
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{resources: make(map[string]store.Resource)}
}

// GetResource implements engine.ResourceLedger.
func (l *MemoryLedger) GetResource(_ context.Context, stack, logicalID string) (store.Resource, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.resources[stack+"/"+logicalID]
	return r, ok, nil
}

// PutResource implements engine.ResourceLedger.
func (l *MemoryLedger) PutResource(_ context.Context, r store.Resource) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.Generation == 0 {
		r.Generation = 1
	}
	l.resources[r.Stack+"/"+r.LogicalID] = r
	return nil
}

// Len returns the number of recorded resources.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.resources)
}

// RecordingOrchestrator wraps an orchestrator and records every call.
//
// Failures can be injected per logical id, and certificate validation can
// be held open until the test releases it, which makes the certificate
// suspend point observable.
//
// Thread-safety: RecordingOrchestrator is safe for concurrent use.
type RecordingOrchestrator struct {
	inner engine.Orchestrator

	mu       sync.Mutex
	calls    []ir.ResourceID
	requests map[ir.ResourceID]engine.ProvisionRequest
	failures map[ir.ResourceID]error
	awaitErr map[ir.ResourceID]error
	holds    map[ir.ResourceID]chan struct{}
	waiting  map[ir.ResourceID]chan struct{}
}

// NewRecordingOrchestrator wraps inner. A nil inner uses a
// LocalOrchestrator over a fresh MemoryLedger.
func NewRecordingOrchestrator(inner engine.Orchestrator) *RecordingOrchestrator {
	if inner == nil {
		inner = engine.NewLocalOrchestrator(NewMemoryLedger(), engine.WithLocalLogger(DiscardLogger()))
	}
	return &RecordingOrchestrator{
		inner:    inner,
		requests: make(map[ir.ResourceID]engine.ProvisionRequest),
		failures: make(map[ir.ResourceID]error),
		awaitErr: make(map[ir.ResourceID]error),
		holds:    make(map[ir.ResourceID]chan struct{}),
		waiting:  make(map[ir.ResourceID]chan struct{}),
	}
}

// FailOn makes Provision fail for id.
func (o *RecordingOrchestrator) FailOn(id ir.ResourceID, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[id] = err
}

// FailAwait makes Await fail for id.
func (o *RecordingOrchestrator) FailAwait(id ir.ResourceID, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.awaitErr[id] = err
}

// Hold blocks Await for id until Release is called or the context ends.
func (o *RecordingOrchestrator) Hold(id ir.ResourceID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.holds[id] = make(chan struct{})
	o.waiting[id] = make(chan struct{})
}

// Waiting is closed once Await for a held id has started.
func (o *RecordingOrchestrator) Waiting(id ir.ResourceID) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waiting[id]
}

// Release lets a held Await complete.
func (o *RecordingOrchestrator) Release(id ir.ResourceID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ch, ok := o.holds[id]; ok {
		close(ch)
		delete(o.holds, id)
	}
}

// Provision implements engine.Orchestrator.
func (o *RecordingOrchestrator) Provision(ctx context.Context, req engine.ProvisionRequest) (engine.ProvisionResult, error) {
	o.mu.Lock()
	o.calls = append(o.calls, req.ID)
	o.requests[req.ID] = req
	err := o.failures[req.ID]
	o.mu.Unlock()

	if err != nil {
		return engine.ProvisionResult{}, err
	}
	return o.inner.Provision(ctx, req)
}

// Await implements engine.Orchestrator.
func (o *RecordingOrchestrator) Await(ctx context.Context, req engine.ProvisionRequest, pending engine.ProvisionResult) (engine.ProvisionResult, error) {
	o.mu.Lock()
	hold := o.holds[req.ID]
	if w, ok := o.waiting[req.ID]; ok {
		close(w)
		o.waiting[req.ID] = closedChan()
	}
	err := o.awaitErr[req.ID]
	o.mu.Unlock()

	if hold != nil {
		select {
		case <-ctx.Done():
			return pending, ctx.Err()
		case <-hold:
		}
	}
	if err != nil {
		return pending, err
	}
	return o.inner.Await(ctx, req, pending)
}

// Calls returns the provisioned ids in call order.
func (o *RecordingOrchestrator) Calls() []ir.ResourceID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ir.ResourceID(nil), o.calls...)
}

// Called reports whether Provision was called for id.
func (o *RecordingOrchestrator) Called(id ir.ResourceID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.requests[id]
	return ok
}

// Request returns the last request for id.
func (o *RecordingOrchestrator) Request(id ir.ResourceID) (engine.ProvisionRequest, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[id]
	if !ok {
		return engine.ProvisionRequest{}, fmt.Errorf("no request for %s", id)
	}
	return req, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
