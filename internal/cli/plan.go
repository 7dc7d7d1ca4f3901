package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/consentstack/internal/compiler"
	"github.com/roach88/consentstack/internal/ir"
)

// PlanView is the printable summary of an assembled plan.
type PlanView struct {
	Stack    string               `json:"stack"`
	Version  string               `json:"version"`
	PlanHash string               `json:"plan_hash"`
	Order    []PlanStep           `json:"order"`
	Edges    []ir.Edge            `json:"edges"`
	Policies []ir.PolicyStatement `json:"policies"`
	Routes   []RouteView          `json:"routes"`
	Chains   []ir.ChainSpec       `json:"chains"`
	Warnings []compiler.Warning   `json:"warnings,omitempty"`
}

// PlanStep is one node in provisioning order.
type PlanStep struct {
	Step int           `json:"step"`
	ID   ir.ResourceID `json:"id"`
	Kind ir.Kind       `json:"kind"`
}

// RouteView is one compiled method binding with its invoke permission.
type RouteView struct {
	API       ir.ResourceID `json:"api"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Function  ir.ResourceID `json:"function"`
	SourceArn string        `json:"source_arn"`
}

// NewPlanView summarizes a build result.
func NewPlanView(res *compiler.Result) (*PlanView, error) {
	p := res.Plan
	hash, err := ir.PlanHash(p)
	if err != nil {
		return nil, err
	}
	v := &PlanView{
		Stack:    p.Stack,
		Version:  p.Version,
		PlanHash: hash,
		Edges:    p.Edges,
		Policies: p.Policies,
		Chains:   p.Chains,
		Warnings: res.Warnings,
	}
	for i, id := range p.Order {
		n, _ := p.Node(id)
		v.Order = append(v.Order, PlanStep{Step: i + 1, ID: id, Kind: n.Kind})
	}
	for _, s := range p.APIs {
		for i, m := range s.Methods {
			r := RouteView{API: s.API, Method: m.Method, Path: m.Path, Function: m.Function}
			if i < len(s.Permissions) {
				r.SourceArn = s.Permissions[i].SourceArn
			}
			v.Routes = append(v.Routes, r)
		}
	}
	return v, nil
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &stackFlags{}

	cmd := &cobra.Command{
		Use:   "plan <stack-dir>",
		Short: "Print the assembled deployment plan",
		Long: `Compile a stack and print its plan: provisioning order, dependency
edges with their reasons, derived execution role statements, compiled
routes with their invoke permissions, and the domain binding chains.

Example:
  consentstack plan ./stacks/cookiesconsent
  consentstack plan ./stacks/cookiesconsent --format yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, flags, args[0], cmd)
		},
	}
	flags.register(cmd)

	return cmd
}

func runPlan(opts *RootOptions, flags *stackFlags, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loaded, res, err := flags.load(opts, formatter, dir)
	if err != nil {
		if loaded == nil {
			return err
		}
		return buildFailure(formatter, err)
	}

	view, err := NewPlanView(res)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	if formatter.Structured() {
		return formatter.Success(view)
	}
	writePlanText(formatter.Writer, view)
	return nil
}

func writePlanText(w io.Writer, v *PlanView) {
	fmt.Fprintf(w, "Stack %s (plan %s, hash %s)\n", v.Stack, v.Version, short(v.PlanHash))

	fmt.Fprintf(w, "\nOrder:\n")
	for _, s := range v.Order {
		fmt.Fprintf(w, "  %3d. %s (%s)\n", s.Step, s.ID, s.Kind)
	}

	fmt.Fprintf(w, "\nEdges:\n")
	for _, e := range v.Edges {
		fmt.Fprintf(w, "  %s -> %s  [%s]\n", e.From, e.To, e.Reason)
	}

	fmt.Fprintf(w, "\nPolicies:\n")
	for _, p := range v.Policies {
		fmt.Fprintf(w, "  %s: %s %s on %s\n", p.Function, p.Effect,
			strings.Join(p.Actions, ","), strings.Join(p.Resources, ","))
	}

	fmt.Fprintf(w, "\nRoutes:\n")
	for _, r := range v.Routes {
		fmt.Fprintf(w, "  %-7s %s -> %s\n", r.Method, r.Path, r.Function)
	}

	fmt.Fprintf(w, "\nDomain chains:\n")
	for _, c := range v.Chains {
		fmt.Fprintf(w, "  %s -> %s -> %s -> %s -> %s (after %s)\n",
			c.Zone, c.Certificate, c.DomainName, c.AliasRecord, c.BasePathMapping, c.API)
	}

	for _, warn := range v.Warnings {
		fmt.Fprintf(w, "\n%s %s\n", warnMark, warn)
	}
}

// short abbreviates a hash for text output.
func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
