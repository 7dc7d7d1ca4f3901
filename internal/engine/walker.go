package engine

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/consentstack/internal/ir"
)

// VisitFunc is executed once for every node whose dependencies all
// succeeded.
type VisitFunc func(ctx context.Context, node ir.Node) error

// WalkOptions configures Walk.
type WalkOptions struct {
	// Parallelism sets the maximum number of concurrent visits.
	// If <= 0, defaults to runtime.NumCPU().
	Parallelism int
}

// WalkResult reports the outcome of a walk.
type WalkResult struct {
	// Errors holds the error of every failed visit.
	Errors map[ir.ResourceID]error
	// Skipped lists nodes never visited because a dependency failed or
	// the walk was cancelled, sorted.
	Skipped []ir.ResourceID
}

// Walk visits a dependency graph in topological order with bounded
// parallelism: a node is visited only after every node it depends on was
// visited successfully, and independent nodes are visited concurrently.
// A failed visit never stops independent branches; its dependents are
// skipped.
//
// Indegrees are tracked with atomic counters; ready nodes are seeded and
// dispatched in id order, so with Parallelism 1 the visit order is
// deterministic.
func Walk(ctx context.Context, nodes []ir.Node, fn VisitFunc, opts WalkOptions) WalkResult {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}

	byID := make(map[ir.ResourceID]ir.Node, len(nodes))
	indegree := make(map[ir.ResourceID]*int32, len(nodes))
	next := make(map[ir.ResourceID][]ir.ResourceID)
	for _, n := range nodes {
		byID[n.ID] = n
	}
	// Dependencies outside the node set are treated as satisfied.
	for _, n := range nodes {
		count := int32(0)
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; ok {
				count++
				next[dep] = append(next[dep], n.ID)
			}
		}
		indegree[n.ID] = &count
	}
	for id := range next {
		sortIDs(next[id])
	}

	result := WalkResult{Errors: make(map[ir.ResourceID]error)}
	if len(nodes) == 0 {
		return result
	}

	var (
		mu        sync.Mutex
		done      = make(map[ir.ResourceID]bool, len(nodes))
		skipped   = make(map[ir.ResourceID]bool)
		remaining = len(nodes)
		ready     = make(chan ir.ResourceID, len(nodes))
		closed    bool
	)

	// finish must be called with mu held.
	finish := func(id ir.ResourceID) {
		done[id] = true
		remaining--
		if remaining == 0 && !closed {
			closed = true
			close(ready)
		}
	}

	var markSkipped func(ir.ResourceID)
	markSkipped = func(id ir.ResourceID) {
		if done[id] {
			return
		}
		skipped[id] = true
		finish(id)
		for _, n := range next[id] {
			markSkipped(n)
		}
	}

	var roots []ir.ResourceID
	for id, count := range indegree {
		if *count == 0 {
			roots = append(roots, id)
		}
	}
	sortIDs(roots)

	// Nodes on or behind a cycle can never become ready.
	reachable := orderable(roots, next, indegree)
	for _, n := range nodes {
		if !reachable[n.ID] {
			skipped[n.ID] = true
			finish(n.ID)
		}
	}
	if closed {
		return collect(nodes, result, done, skipped)
	}
	for _, id := range roots {
		ready <- id
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(opts.Parallelism))

	for i := 0; i < opts.Parallelism; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case id, ok := <-ready:
					if !ok {
						return nil
					}
					if err := sem.Acquire(gctx, 1); err != nil {
						return err
					}
					err := fn(gctx, byID[id])
					sem.Release(1)

					mu.Lock()
					if err != nil {
						result.Errors[id] = err
						finish(id)
						for _, n := range next[id] {
							markSkipped(n)
						}
						mu.Unlock()
						continue
					}
					var unblocked []ir.ResourceID
					for _, n := range next[id] {
						if atomic.AddInt32(indegree[n], -1) == 0 && !done[n] {
							unblocked = append(unblocked, n)
						}
					}
					for _, n := range unblocked {
						ready <- n
					}
					finish(id)
					mu.Unlock()
				}
			}
		})
	}

	// Cancellation surfaces as unvisited nodes below, not as an error.
	_ = g.Wait()
	return collect(nodes, result, done, skipped)
}

// collect runs after every worker returned.
func collect(nodes []ir.Node, result WalkResult, done, skipped map[ir.ResourceID]bool) WalkResult {
	for _, n := range nodes {
		if !done[n.ID] {
			skipped[n.ID] = true
		}
	}
	for id := range skipped {
		result.Skipped = append(result.Skipped, id)
	}
	sort.Slice(result.Skipped, func(i, j int) bool { return result.Skipped[i] < result.Skipped[j] })
	return result
}

// orderable runs Kahn's algorithm on a copy of the indegrees and returns
// the nodes that can ever be reached from the roots.
func orderable(roots []ir.ResourceID, next map[ir.ResourceID][]ir.ResourceID, indegree map[ir.ResourceID]*int32) map[ir.ResourceID]bool {
	left := make(map[ir.ResourceID]int32, len(indegree))
	for id, c := range indegree {
		left[id] = *c
	}
	seen := make(map[ir.ResourceID]bool, len(indegree))
	queue := append([]ir.ResourceID(nil), roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen[id] = true
		for _, n := range next[id] {
			left[n]--
			if left[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	return seen
}
