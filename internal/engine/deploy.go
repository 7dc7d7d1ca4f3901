package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/consentstack/internal/compiler"
	"github.com/roach88/consentstack/internal/ir"
	"github.com/roach88/consentstack/internal/store"
)

// DefaultCertificateTimeout bounds how long a deployment waits for DNS
// validation of one certificate.
const DefaultCertificateTimeout = 30 * time.Minute

// Recorder persists the outcome of a deployment. *store.Store implements it.
type Recorder interface {
	BeginDeployment(ctx context.Context, id, stack, planHash string) (store.Deployment, error)
	FinishDeployment(ctx context.Context, id, status, errMsg string) error
	RecordNodeResult(ctx context.Context, r store.NodeResult) error
	RecordStageEvent(ctx context.Context, e store.StageEvent) error
	WriteOutputs(ctx context.Context, outputs []store.OutputValue) error
}

// Deployer drives a compiled plan through the orchestrator boundary.
//
// Hosted zones are resolved before anything is provisioned, so a zone miss
// aborts the deployment without a single orchestrator call. The remaining
// nodes are walked in dependency order with bounded parallelism; domain
// binding chain stages additionally go through a ChainResolver, which only
// commits Ready after the orchestrator confirmed the stage.
type Deployer struct {
	orch        Orchestrator
	zones       ZoneLookup
	recorder    Recorder
	logger      *slog.Logger
	parallelism int
	certTimeout time.Duration
	clock       *Clock
	ids         IDGenerator
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Deployer) { d.logger = l }
}

// WithParallelism bounds concurrent orchestrator calls.
func WithParallelism(n int) Option {
	return func(d *Deployer) { d.parallelism = n }
}

// WithCertificateTimeout bounds the wait for certificate validation.
func WithCertificateTimeout(t time.Duration) Option {
	return func(d *Deployer) { d.certTimeout = t }
}

// WithClock sets the logical clock stamping transitions and node results.
func WithClock(c *Clock) Option {
	return func(d *Deployer) { d.clock = c }
}

// WithIDGenerator sets the deployment id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Deployer) { d.ids = g }
}

// WithRecorder persists deployments to a ledger.
func WithRecorder(r Recorder) Option {
	return func(d *Deployer) { d.recorder = r }
}

// NewDeployer creates a deployer for an orchestrator and a zone lookup.
func NewDeployer(orch Orchestrator, zones ZoneLookup, opts ...Option) *Deployer {
	d := &Deployer{
		orch:        orch,
		zones:       zones,
		logger:      slog.Default(),
		certTimeout: DefaultCertificateTimeout,
		clock:       NewClock(),
		ids:         UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// deployment is the mutable state of one Deploy call.
type deployment struct {
	*Deployer
	id       string
	plan     *ir.Plan
	resolver *ChainResolver
	kinds    map[ir.ResourceID]ir.Kind
	logger   *slog.Logger

	mu       sync.Mutex
	attrs    map[ir.ResourceID]map[string]string
	reports  map[ir.ResourceID]NodeReport
	resolved map[ir.ResourceID]Zone
}

// Deploy applies a plan and returns its report.
//
// The returned error is the deployment's fatal error, if any: a
// *ResolutionError takes precedence over an *OrchestratorError. A failed
// deployment still returns a complete report in which every output holds
// its placeholder. Recording failures are returned as plain errors.
func (d *Deployer) Deploy(ctx context.Context, plan *ir.Plan) (*Report, error) {
	hash, err := ir.PlanHash(plan)
	if err != nil {
		return nil, err
	}
	id := d.ids.Generate()
	logger := d.logger.With("deployment_id", id, "stack", plan.Stack)
	dep := &deployment{
		Deployer: d,
		id:       id,
		logger:   logger,
		plan:     plan,
		resolver: NewChainResolver(plan.Chains, d.clock),
		kinds:    make(map[ir.ResourceID]ir.Kind, len(plan.Nodes)),
		attrs:    make(map[ir.ResourceID]map[string]string),
		reports:  make(map[ir.ResourceID]NodeReport),
		resolved: make(map[ir.ResourceID]Zone),
	}
	for _, n := range plan.Nodes {
		dep.kinds[n.ID] = n.Kind
	}
	dep.resolver.Observe(func(t Transition) {
		logger.Debug("stage transition", "stage", t.Stage, "from", t.From, "to", t.To, "cause", t.Cause)
	})

	if d.recorder != nil {
		if _, err := d.recorder.BeginDeployment(ctx, dep.id, plan.Stack, hash); err != nil {
			return nil, err
		}
	}
	logger.Info("deployment started", "plan_hash", hash, "nodes", len(plan.Nodes))

	fatal := dep.resolveZones(ctx)
	if fatal == nil {
		fatal = dep.checkCertificates()
	}
	if fatal != nil {
		logger.Error("deployment aborted before provisioning", "error", fatal)
		dep.skipAll(fatal)
	} else {
		result := Walk(ctx, plan.Nodes, dep.visit, WalkOptions{Parallelism: d.parallelism})
		fatal = dep.settle(ctx, result)
	}

	report := dep.report(hash, fatal)
	if err := dep.record(ctx, report); err != nil {
		return report, err
	}
	if fatal != nil {
		logger.Error("deployment failed", "error", fatal)
	} else {
		logger.Info("deployment succeeded")
	}
	return report, fatal
}

// resolveZones looks up every hosted zone reference and commits the
// resolved zones as Ready. The first miss fails its chain stage and aborts
// the deployment.
func (dep *deployment) resolveZones(ctx context.Context) error {
	refs := append([]ir.HostedZoneRef(nil), dep.plan.Topology.Zones...)
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })

	for _, ref := range refs {
		chained := dep.resolver.Contains(ref.ID)
		if chained {
			if err := dep.resolver.Begin(ref.ID); err != nil {
				return err
			}
		}
		zone, err := dep.Deployer.zones.LookupZone(ctx, ref.DomainName)
		if err != nil {
			code := ErrCodeZoneLookupFailed
			if errors.Is(err, ErrZoneNotFound) {
				code = ErrCodeZoneNotFound
			}
			rerr := &ResolutionError{
				Code:     code,
				Resource: ref.ID,
				Message:  fmt.Sprintf("no hosted zone for %q", ref.DomainName),
				Err:      err,
			}
			dep.fail(ref.ID, rerr)
			return rerr
		}
		dep.mu.Lock()
		dep.resolved[ref.ID] = zone
		dep.attrs[ref.ID] = map[string]string{"id": zone.ID, "name": zone.Name}
		dep.mu.Unlock()
		if chained {
			if err := dep.resolver.Confirm(ref.ID); err != nil {
				return err
			}
		}
		dep.succeed(ir.Node{ID: ref.ID, Kind: ir.KindHostedZone}, zone.ID, ChangeUnchanged)
		dep.logger.Debug("zone resolved", "logical_id", ref.ID, "zone_id", zone.ID, "name", zone.Name)
	}
	return nil
}

// checkCertificates rejects certificates the resolved zone cannot validate.
func (dep *deployment) checkCertificates() error {
	certs := append([]ir.Certificate(nil), dep.plan.Topology.Certificates...)
	sort.Slice(certs, func(i, j int) bool { return certs[i].ID < certs[j].ID })

	for _, c := range certs {
		zone, ok := dep.resolved[c.Zone]
		if !ok {
			continue
		}
		for _, name := range c.Names() {
			if compiler.InZone(name, zone.Name) {
				continue
			}
			rerr := &ResolutionError{
				Code:     ErrCodeCertificateOutsideZone,
				Resource: c.ID,
				Message:  fmt.Sprintf("name %q is not under zone %q", name, zone.Name),
			}
			dep.fail(c.ID, rerr)
			return rerr
		}
	}
	return nil
}

// visit provisions one node.
func (dep *deployment) visit(ctx context.Context, node ir.Node) error {
	// Zones were resolved up front.
	if node.Kind == ir.KindHostedZone {
		return nil
	}

	chained := dep.resolver.Contains(node.ID)
	if chained {
		if err := dep.resolver.Begin(node.ID); err != nil {
			return err
		}
	}

	req, err := dep.request(node)
	if err != nil {
		oerr := &OrchestratorError{Resource: node.ID, Kind: node.Kind, Err: err}
		dep.fail(node.ID, oerr)
		return oerr
	}
	res, err := dep.orch.Provision(ctx, req)
	if err != nil {
		oerr := &OrchestratorError{Resource: node.ID, Kind: node.Kind, Err: err}
		dep.fail(node.ID, oerr)
		return oerr
	}
	if res.Pending {
		dep.logger.Info("awaiting validation", "logical_id", node.ID, "kind", node.Kind)
		res, err = dep.await(ctx, req, res)
		if err != nil {
			dep.fail(node.ID, err)
			return err
		}
	}

	dep.mu.Lock()
	dep.attrs[node.ID] = res.Attributes
	dep.mu.Unlock()
	if chained {
		if err := dep.resolver.Confirm(node.ID); err != nil {
			return err
		}
	}
	dep.succeed(node, res.PhysicalID, res.Change)
	dep.logger.Info("provisioned", "logical_id", node.ID, "kind", node.Kind,
		"physical_id", res.PhysicalID, "change", res.Change)
	return nil
}

// await is the certificate suspend point. Independent nodes keep
// provisioning on other workers while it blocks.
func (dep *deployment) await(ctx context.Context, req ProvisionRequest, pending ProvisionResult) (ProvisionResult, error) {
	wctx := ctx
	if dep.certTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, dep.certTimeout)
		defer cancel()
	}
	res, err := dep.orch.Await(wctx, req, pending)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("await %s: %w", req.ID, ctx.Err())
	}
	if req.Kind != ir.KindCertificate {
		return res, &OrchestratorError{Resource: req.ID, Kind: req.Kind, Err: err}
	}
	msg := "validation failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("validation did not complete within %s", dep.certTimeout)
	}
	return res, &ResolutionError{
		Code:     ErrCodeCertificateValidation,
		Resource: req.ID,
		Message:  msg,
		Err:      err,
	}
}

// request assembles what the orchestrator receives for a node. A reference
// that has not resolved fails the request rather than reaching the
// orchestrator in token form.
func (dep *deployment) request(node ir.Node) (ProvisionRequest, error) {
	dep.mu.Lock()
	defer dep.mu.Unlock()

	req := ProvisionRequest{
		DeploymentID: dep.id,
		Stack:        dep.plan.Stack,
		ID:           node.ID,
		Kind:         node.Kind,
		DependsOn:    node.DependsOn,
		Properties:   dep.properties(node),
	}
	for _, d := range node.DependsOn {
		for k, v := range dep.attrs[d] {
			if req.Inputs == nil {
				req.Inputs = make(map[string]string)
			}
			req.Inputs[string(d)+"."+k] = v
		}
	}

	if node.Kind == ir.KindFunction {
		if fn, ok := dep.plan.Topology.Function(node.ID); ok && len(fn.Environment) > 0 {
			req.Environment = make(map[string]string, len(fn.Environment))
			for name, val := range fn.Environment {
				if !val.IsRef() {
					req.Environment[name] = val.Value
					continue
				}
				v, ok := dep.resolve(val.Ref, val.Attr)
				if !ok {
					return req, fmt.Errorf("environment %s: %s did not resolve", name, ir.Token(val.Ref, val.Attr))
				}
				req.Environment[name] = v
			}
		}
		for _, s := range dep.plan.PoliciesFor(node.ID) {
			resources := make([]string, len(s.Resources))
			for i, r := range s.Resources {
				v, err := dep.expand(r)
				if err != nil {
					return req, fmt.Errorf("policy %s: %w", s.Sid, err)
				}
				resources[i] = v
			}
			s.Resources = resources
			req.Policies = append(req.Policies, s)
		}
	}

	if node.Kind == ir.KindAPIMethod {
		for _, api := range dep.plan.APIs {
			for i, m := range api.Methods {
				if m.ID == node.ID && i < len(api.Permissions) {
					p := api.Permissions[i]
					arn, err := dep.expand(p.SourceArn)
					if err != nil {
						return req, fmt.Errorf("invoke permission: %w", err)
					}
					p.SourceArn = arn
					req.Permission = &p
				}
			}
		}
	}
	return req, nil
}

// properties returns the declared descriptor, or the compiled form of a
// derived API node. Must be called with mu held.
func (dep *deployment) properties(node ir.Node) any {
	if d := dep.plan.Topology.Descriptor(node.ID); d != nil {
		return d
	}
	for _, api := range dep.plan.APIs {
		if api.Stage == node.ID {
			return api
		}
		for _, r := range api.Resources {
			if r.ID == node.ID {
				return r
			}
		}
		for _, m := range api.Methods {
			if m.ID == node.ID {
				return m
			}
		}
	}
	return nil
}

// resolve must be called with mu held.
func (dep *deployment) resolve(id ir.ResourceID, attr string) (string, bool) {
	v, ok := dep.attrs[id][attr]
	return v, ok
}

// expand resolves every token in s. Must be called with mu held.
func (dep *deployment) expand(s string) (string, error) {
	var missing []string
	out := ir.ExpandTokens(s, func(id ir.ResourceID, attr string) (string, bool) {
		v, ok := dep.resolve(id, attr)
		if !ok {
			missing = append(missing, ir.Token(id, attr))
		}
		return v, ok
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%s did not resolve", strings.Join(missing, ", "))
	}
	return out, nil
}

func (dep *deployment) succeed(node ir.Node, physicalID string, change Change) {
	dep.mu.Lock()
	defer dep.mu.Unlock()
	dep.reports[node.ID] = NodeReport{
		ID:         node.ID,
		Kind:       node.Kind,
		Status:     statusFor(change),
		PhysicalID: physicalID,
		Seq:        dep.clock.Next(),
	}
}

// fail records a failed node and, for chain stages, fails every downstream
// stage through the resolver.
func (dep *deployment) fail(id ir.ResourceID, cause error) {
	propagated := dep.resolver.Fail(id, cause)

	dep.mu.Lock()
	defer dep.mu.Unlock()
	dep.reports[id] = NodeReport{
		ID:     id,
		Kind:   dep.kinds[id],
		Status: NodeFailed,
		Error:  cause.Error(),
		Seq:    dep.clock.Next(),
	}
	for _, p := range propagated {
		dep.logger.Warn("stage failed upstream", "stage", p, "upstream", id)
	}
}

// skipAll marks every node not yet reported as skipped.
func (dep *deployment) skipAll(cause error) {
	for _, id := range dep.plan.Order {
		dep.skip(id, cause)
	}
}

func (dep *deployment) skip(id ir.ResourceID, cause error) {
	if dep.resolver.Contains(id) {
		dep.resolver.Fail(id, ErrSkipped)
	}
	dep.mu.Lock()
	defer dep.mu.Unlock()
	if _, done := dep.reports[id]; done {
		return
	}
	dep.reports[id] = NodeReport{
		ID:     id,
		Kind:   dep.kinds[id],
		Status: NodeSkipped,
		Error:  fmt.Sprintf("%v: %v", ErrSkipped, cause),
		Seq:    dep.clock.Next(),
	}
}

// settle folds the walk result into the deployment and picks the fatal
// error: resolution errors first, then orchestrator errors, each by id.
func (dep *deployment) settle(ctx context.Context, result WalkResult) error {
	ids := make([]ir.ResourceID, 0, len(result.Errors))
	for id := range result.Errors {
		ids = append(ids, id)
	}
	sortIDs(ids)

	var fatal error
	for _, id := range ids {
		err := result.Errors[id]
		dep.mu.Lock()
		_, reported := dep.reports[id]
		dep.mu.Unlock()
		if !reported {
			dep.fail(id, err)
		}
		if fatal == nil || (IsResolutionError(err) && !IsResolutionError(fatal)) {
			fatal = err
		}
	}

	cause := fatal
	if cause == nil {
		cause = ctx.Err()
	}
	for _, id := range result.Skipped {
		dep.skip(id, cause)
	}
	if fatal == nil && len(result.Skipped) > 0 {
		fatal = fmt.Errorf("deployment cancelled: %w", cause)
	}
	return fatal
}

// report assembles the deployment report in plan order.
func (dep *deployment) report(hash string, fatal error) *Report {
	r := &Report{
		DeploymentID: dep.id,
		Stack:        dep.plan.Stack,
		PlanHash:     hash,
		Nodes:        make([]NodeReport, 0, len(dep.plan.Order)),
		Chain:        dep.resolver.Snapshot(),
		Transitions:  dep.resolver.Transitions(),
		Outputs:      dep.outputs(fatal != nil),
	}
	if fatal != nil {
		r.Error = fatal.Error()
	}
	dep.mu.Lock()
	defer dep.mu.Unlock()
	for _, id := range dep.plan.Order {
		if n, ok := dep.reports[id]; ok {
			r.Nodes = append(r.Nodes, n)
		}
	}
	return r
}

// outputs resolves stack outputs. Nothing resolves for a failed
// deployment; every output then carries its placeholder.
//
// An output sourced from a REST API reads the API's deployment stage
// first, since the invocation URL only exists once the stage is Ready.
func (dep *deployment) outputs(failed bool) []OutputReport {
	dep.mu.Lock()
	defer dep.mu.Unlock()

	out := make([]OutputReport, 0, len(dep.plan.Outputs))
	for _, o := range dep.plan.Outputs {
		value, ok := "", false
		if !failed {
			if api, isAPI := dep.plan.Topology.API(o.Source); isAPI {
				value, ok = dep.resolve(api.StageID(), o.Attr)
			}
			if !ok {
				value, ok = dep.resolve(o.Source, o.Attr)
			}
		}
		if !ok || value == "" {
			out = append(out, OutputReport{Name: o.Name, Value: o.Placeholder})
			continue
		}
		out = append(out, OutputReport{Name: o.Name, Value: value, Resolved: true})
	}
	return out
}

// record persists the report. Recording uses a context detached from
// cancellation so an aborted deployment is still written down.
func (dep *deployment) record(ctx context.Context, r *Report) error {
	if dep.recorder == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	for _, n := range r.Nodes {
		err := dep.recorder.RecordNodeResult(ctx, store.NodeResult{
			DeploymentID: r.DeploymentID,
			LogicalID:    string(n.ID),
			Kind:         string(n.Kind),
			Status:       string(n.Status),
			PhysicalID:   n.PhysicalID,
			Error:        n.Error,
			Seq:          n.Seq,
		})
		if err != nil {
			return err
		}
	}
	for _, t := range r.Transitions {
		err := dep.recorder.RecordStageEvent(ctx, store.StageEvent{
			DeploymentID: r.DeploymentID,
			Seq:          t.Seq,
			Stage:        string(t.Stage),
			From:         string(t.From),
			To:           string(t.To),
			Cause:        t.Cause,
		})
		if err != nil {
			return err
		}
	}
	values := make([]store.OutputValue, 0, len(r.Outputs))
	for _, o := range r.Outputs {
		values = append(values, store.OutputValue{
			DeploymentID: r.DeploymentID,
			Name:         o.Name,
			Value:        o.Value,
			Resolved:     o.Resolved,
		})
	}
	if err := dep.recorder.WriteOutputs(ctx, values); err != nil {
		return err
	}
	status := store.DeploymentSucceeded
	if r.Error != "" {
		status = store.DeploymentFailed
	}
	return dep.recorder.FinishDeployment(ctx, r.DeploymentID, status, r.Error)
}
