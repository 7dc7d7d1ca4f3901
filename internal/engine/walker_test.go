package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/consentstack/internal/ir"
)

func node(id ir.ResourceID, deps ...ir.ResourceID) ir.Node {
	return ir.Node{ID: id, Kind: ir.KindTable, DependsOn: deps}
}

type visitLog struct {
	mu    sync.Mutex
	order []ir.ResourceID
}

func (l *visitLog) visit(fail map[ir.ResourceID]bool) VisitFunc {
	return func(_ context.Context, n ir.Node) error {
		l.mu.Lock()
		l.order = append(l.order, n.ID)
		l.mu.Unlock()
		if fail[n.ID] {
			return errors.New("boom")
		}
		return nil
	}
}

func (l *visitLog) index(id ir.ResourceID) int {
	for i, v := range l.order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestWalk_RespectsDependencies(t *testing.T) {
	nodes := []ir.Node{
		node("mapping", "alias", "stage"),
		node("alias", "domain"),
		node("domain", "cert"),
		node("cert", "zone"),
		node("zone"),
		node("stage", "method"),
		node("method", "fn"),
		node("fn", "table", "layer"),
		node("table"),
		node("layer"),
	}
	log := &visitLog{}
	res := Walk(context.Background(), nodes, log.visit(nil), WalkOptions{Parallelism: 4})

	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Skipped)
	require.Len(t, log.order, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			assert.Less(t, log.index(dep), log.index(n.ID), "%s before %s", dep, n.ID)
		}
	}
}

func TestWalk_SequentialIsDeterministic(t *testing.T) {
	nodes := []ir.Node{node("c"), node("b", "a"), node("a"), node("d", "c")}

	first := &visitLog{}
	Walk(context.Background(), nodes, first.visit(nil), WalkOptions{Parallelism: 1})
	second := &visitLog{}
	Walk(context.Background(), nodes, second.visit(nil), WalkOptions{Parallelism: 1})

	assert.Equal(t, first.order, second.order)
	assert.Equal(t, ir.ResourceID("a"), first.order[0])
}

func TestWalk_FailureSkipsDependentsOnly(t *testing.T) {
	nodes := []ir.Node{
		node("cert"),
		node("domain", "cert"),
		node("mapping", "domain", "stage"),
		node("table"),
		node("fn", "table"),
		node("stage", "fn"),
	}
	log := &visitLog{}
	res := Walk(context.Background(), nodes, log.visit(map[ir.ResourceID]bool{"cert": true}), WalkOptions{Parallelism: 2})

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors, ir.ResourceID("cert"))
	assert.Equal(t, []ir.ResourceID{"domain", "mapping"}, res.Skipped)
	assert.ElementsMatch(t, []ir.ResourceID{"cert", "table", "fn", "stage"}, log.order)
}

func TestWalk_IndependentNodesRunConcurrently(t *testing.T) {
	nodes := []ir.Node{node("cert"), node("table"), node("fn", "table")}

	release := make(chan struct{})
	var fnDone atomic.Bool
	visit := func(ctx context.Context, n ir.Node) error {
		switch n.ID {
		case "cert":
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		case "fn":
			fnDone.Store(true)
			close(release)
		}
		return nil
	}

	done := make(chan WalkResult)
	go func() { done <- Walk(context.Background(), nodes, visit, WalkOptions{Parallelism: 2}) }()

	select {
	case res := <-done:
		assert.Empty(t, res.Errors)
		assert.True(t, fnDone.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("blocked node stalled an independent branch")
	}
}

func TestWalk_CancellationSkipsUnvisited(t *testing.T) {
	nodes := []ir.Node{node("a"), node("b", "a"), node("c", "b")}
	ctx, cancel := context.WithCancel(context.Background())

	var visited []ir.ResourceID
	visit := func(ctx context.Context, n ir.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		visited = append(visited, n.ID)
		if n.ID == "a" {
			cancel()
		}
		return nil
	}
	res := Walk(ctx, nodes, visit, WalkOptions{Parallelism: 1})
	assert.Equal(t, []ir.ResourceID{"a"}, visited)
	assert.Contains(t, res.Skipped, ir.ResourceID("c"))
}

func TestWalk_ExternalDependenciesAreSatisfied(t *testing.T) {
	nodes := []ir.Node{node("fn", "table-from-elsewhere")}
	log := &visitLog{}
	res := Walk(context.Background(), nodes, log.visit(nil), WalkOptions{})
	assert.Empty(t, res.Skipped)
	assert.Equal(t, []ir.ResourceID{"fn"}, log.order)
}

func TestWalk_CycleNeverRuns(t *testing.T) {
	nodes := []ir.Node{node("a", "b"), node("b", "a"), node("c")}
	log := &visitLog{}
	res := Walk(context.Background(), nodes, log.visit(nil), WalkOptions{Parallelism: 2})
	assert.Equal(t, []ir.ResourceID{"a", "b"}, res.Skipped)
	assert.Equal(t, []ir.ResourceID{"c"}, log.order)
}

func TestWalk_Empty(t *testing.T) {
	res := Walk(context.Background(), nil, nil, WalkOptions{})
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Skipped)
}
