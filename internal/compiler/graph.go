package compiler

import (
	"sort"
	"strings"

	"github.com/roach88/consentstack/internal/ir"
)

// Edge reasons.
const (
	ReasonLayer       = "layer"
	ReasonAccess      = "access"
	ReasonEnv         = "env"
	ReasonZone        = "zone"
	ReasonCertificate = "certificate"
	ReasonTarget      = "target"
	ReasonParent      = "parent"
	ReasonResource    = "resource"
	ReasonIntegration = "integration"
	ReasonDeployment  = "deployment"
	ReasonDomain      = "domain"
	ReasonStage       = "stage"
	ReasonChain       = "chain"
)

// Graph is the dependency graph of a topology.
type Graph struct {
	Nodes []ir.Node
	Edges []ir.Edge
	Order []ir.ResourceID
}

type graphBuilder struct {
	kinds   map[ir.ResourceID]ir.Kind
	reasons map[[2]ir.ResourceID][]string
}

func (b *graphBuilder) node(id ir.ResourceID, kind ir.Kind) {
	b.kinds[id] = kind
}

func (b *graphBuilder) edge(from, to ir.ResourceID, reason string) {
	key := [2]ir.ResourceID{from, to}
	for _, r := range b.reasons[key] {
		if r == reason {
			return
		}
	}
	b.reasons[key] = append(b.reasons[key], reason)
}

// BuildGraph derives every "must exist before" edge from the explicit
// references in the topology and its compiled API surfaces, then orders
// the nodes topologically.
//
// Edges come from references only; declaration order never implies an
// edge. Ties in the topological order break on the node id, so the order
// is a pure function of the descriptors. A cycle yields a BuildError with
// code E120.
func BuildGraph(t *ir.Topology, apis []ir.APISurface) (*Graph, error) {
	b := &graphBuilder{
		kinds:   t.Kinds(),
		reasons: make(map[[2]ir.ResourceID][]string),
	}

	for _, fn := range t.Functions {
		for _, layer := range fn.Layers {
			b.edge(layer, fn.ID, ReasonLayer)
		}
		for _, g := range fn.Access {
			b.edge(g.Table, fn.ID, ReasonAccess)
		}
		for _, name := range sortedEnvNames(fn.Environment) {
			if val := fn.Environment[name]; val.IsRef() {
				b.edge(val.Ref, fn.ID, ReasonEnv)
			}
		}
	}
	for _, c := range t.Certificates {
		b.edge(c.Zone, c.ID, ReasonZone)
	}
	for _, d := range t.DomainNames {
		b.edge(d.Certificate, d.ID, ReasonCertificate)
	}
	for _, a := range t.AliasRecords {
		b.edge(a.Zone, a.ID, ReasonZone)
		b.edge(a.Target, a.ID, ReasonTarget)
	}

	stages := make(map[ir.ResourceID]ir.ResourceID, len(apis))
	for _, s := range apis {
		stages[s.API] = s.Stage
		b.node(s.Stage, ir.KindStage)
		b.edge(s.API, s.Stage, ReasonDeployment)
		for _, r := range s.Resources {
			b.node(r.ID, ir.KindAPIResource)
			b.edge(r.Parent, r.ID, ReasonParent)
		}
		for _, m := range s.Methods {
			b.node(m.ID, ir.KindAPIMethod)
			b.edge(m.Resource, m.ID, ReasonResource)
			b.edge(m.Function, m.ID, ReasonIntegration)
			b.edge(m.ID, s.Stage, ReasonDeployment)
		}
	}

	for _, m := range t.BasePathMappings {
		b.edge(m.Domain, m.ID, ReasonDomain)
		if stage, ok := stages[m.API]; ok {
			b.edge(stage, m.ID, ReasonStage)
		} else {
			b.edge(m.API, m.ID, ReasonStage)
		}
		for _, alias := range aliasesFor(t, m.Domain) {
			b.edge(alias, m.ID, ReasonChain)
		}
	}

	g := b.build()
	if cycles := FindCycles(g.Edges); len(cycles) > 0 {
		return nil, cycleError(cycles)
	}
	g.Order = topoSort(g.Nodes)
	return g, nil
}

func (b *graphBuilder) build() *Graph {
	g := &Graph{Edges: []ir.Edge{}}
	deps := make(map[ir.ResourceID][]ir.ResourceID)
	for key, reasons := range b.reasons {
		g.Edges = append(g.Edges, ir.Edge{From: key[0], To: key[1], Reason: strings.Join(reasons, ",")})
		deps[key[1]] = append(deps[key[1]], key[0])
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})

	ids := make([]ir.ResourceID, 0, len(b.kinds))
	for id := range b.kinds {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for _, id := range ids {
		dependsOn := append([]ir.ResourceID{}, deps[id]...)
		sortIDs(dependsOn)
		g.Nodes = append(g.Nodes, ir.Node{ID: id, Kind: b.kinds[id], DependsOn: dependsOn})
	}
	return g
}

// topoSort is Kahn's algorithm with the smallest ready id taken first.
func topoSort(nodes []ir.Node) []ir.ResourceID {
	indegree := make(map[ir.ResourceID]int, len(nodes))
	dependents := make(map[ir.ResourceID][]ir.ResourceID)
	for _, n := range nodes {
		indegree[n.ID] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var ready []ir.ResourceID
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]ir.ResourceID, 0, len(nodes))
	for len(ready) > 0 {
		sortIDs(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}

// aliasesFor returns the alias records targeting a domain binding, sorted.
func aliasesFor(t *ir.Topology, domain ir.ResourceID) []ir.ResourceID {
	var out []ir.ResourceID
	for _, a := range t.AliasRecords {
		if a.Target == domain {
			out = append(out, a.ID)
		}
	}
	sortIDs(out)
	return out
}
