package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/consentstack/internal/ir"
)

// Warning codes (W200-W299)
const (
	WarnUngrantedTableReference = "W201" // function names a table it has no grant for
	WarnCertificateOutsideZone  = "W202" // certificate name not under its declared zone
)

// Warning is a finding that does not block the build.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s: %s", w.Code, w.Field, w.Message)
}

// Result is the outcome of a successful build.
type Result struct {
	Plan     *ir.Plan
	Warnings []Warning
}

// Compile assembles the deployable plan of a topology.
//
// Stages run in a fixed sequence: validation, API surface compilation,
// policy derivation, domain chain extraction, then graph building. Any
// validation error or cycle stops the build with a *BuildError before a
// plan exists. Compile is pure: identical topologies yield identical plans.
func Compile(t *ir.Topology) (*Result, error) {
	if errs := Validate(t); len(errs) > 0 {
		return nil, newBuildError(errs)
	}

	apis := make([]ir.APISurface, 0, len(t.APIs))
	for _, a := range t.APIs {
		apis = append(apis, CompileAPI(a))
	}
	sort.Slice(apis, func(i, j int) bool { return apis[i].API < apis[j].API })

	graph, err := BuildGraph(t, apis)
	if err != nil {
		return nil, err
	}

	outputs := append([]ir.Output{}, t.Outputs...)
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Name < outputs[j].Name })

	plan := &ir.Plan{
		Version:  ir.PlanVersion,
		Stack:    t.Name,
		Nodes:    graph.Nodes,
		Edges:    graph.Edges,
		Order:    graph.Order,
		Policies: DerivePolicies(t),
		APIs:     apis,
		Chains:   ChainSpecs(t),
		Outputs:  outputs,
		Topology: *t,
	}
	return &Result{Plan: plan, Warnings: Analyze(t)}, nil
}

// ChainSpecs extracts one linear domain binding chain per base path mapping.
// The topology must be valid, which leaves every mapped domain one alias.
func ChainSpecs(t *ir.Topology) []ir.ChainSpec {
	chains := []ir.ChainSpec{}
	for _, m := range t.BasePathMappings {
		domain, _ := t.DomainName(m.Domain)
		cert, _ := t.Certificate(domain.Certificate)
		api, _ := t.API(m.API)
		c := ir.ChainSpec{
			Zone:            cert.Zone,
			Certificate:     cert.ID,
			DomainName:      domain.ID,
			BasePathMapping: m.ID,
			API:             api.StageID(),
		}
		if aliases := aliasesFor(t, domain.ID); len(aliases) > 0 {
			c.AliasRecord = aliases[0]
		}
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].BasePathMapping < chains[j].BasePathMapping })
	return chains
}

// Analyze reports non-blocking findings on a valid topology.
func Analyze(t *ir.Topology) []Warning {
	var warnings []Warning
	kinds := t.Kinds()

	for i, fn := range t.Functions {
		granted := make(map[ir.ResourceID]bool)
		for _, g := range fn.Access {
			granted[g.Table] = true
		}
		for _, name := range sortedEnvNames(fn.Environment) {
			val := fn.Environment[name]
			if !val.IsRef() || kinds[val.Ref] != ir.KindTable || granted[val.Ref] {
				continue
			}
			warnings = append(warnings, Warning{
				Field: fmt.Sprintf("functions[%d].environment.%s", i, name),
				Message: fmt.Sprintf("function %q references table %q but declares no access to it; "+
					"add an access relation or the function cannot use the table", fn.ID, val.Ref),
				Code: WarnUngrantedTableReference,
			})
		}
	}

	for i, c := range t.Certificates {
		zone, ok := t.Zone(c.Zone)
		if !ok {
			continue
		}
		for _, name := range c.Names() {
			if !InZone(name, zone.DomainName) {
				warnings = append(warnings, Warning{
					Field:   fmt.Sprintf("certificates[%d]", i),
					Message: fmt.Sprintf("name %q is not under zone %q; issuance cannot validate", name, zone.DomainName),
					Code:    WarnCertificateOutsideZone,
				})
			}
		}
	}
	return warnings
}

// InZone reports whether a (possibly wildcard) domain name is the zone
// apex or subordinate to it. Comparison ignores case and trailing dots.
func InZone(name, zone string) bool {
	name = strings.TrimPrefix(canonicalName(name), "*.")
	zone = canonicalName(zone)
	if zone == "" {
		return false
	}
	return name == zone || strings.HasSuffix(name, "."+zone)
}

func canonicalName(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
}
