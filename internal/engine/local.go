package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/consentstack/internal/ir"
	"github.com/roach88/consentstack/internal/store"
)

// Defaults for the local ledger orchestrator.
const (
	DefaultRegion  = "eu-west-1"
	DefaultAccount = "000000000000"

	// edgeHostedZoneID is the fixed alias zone of edge-optimized domains.
	edgeHostedZoneID = "Z2FDTNDATAQYW2"
)

// ResourceLedger is the part of the store the local orchestrator uses.
// *store.Store implements it.
type ResourceLedger interface {
	GetResource(ctx context.Context, stack, logicalID string) (store.Resource, bool, error)
	PutResource(ctx context.Context, r store.Resource) error
}

// LocalOrchestrator provisions a plan into the deployment ledger instead of
// a cloud account. Identifiers and attributes are derived deterministically
// from the stack, the logical id and the resource generation, in the shape
// the real provider reports them.
//
// The ledger makes re-applies idempotent: a resource whose spec hash did
// not change is reported unchanged, a table whose partition key changed is
// replaced under a new physical id, and any other change updates in place.
type LocalOrchestrator struct {
	ledger          ResourceLedger
	region          string
	account         string
	validationDelay time.Duration
	logger          *slog.Logger
}

// LocalOption configures a LocalOrchestrator.
type LocalOption func(*LocalOrchestrator)

// WithRegion sets the region used in derived ARNs.
func WithRegion(region string) LocalOption {
	return func(o *LocalOrchestrator) { o.region = region }
}

// WithAccount sets the account used in derived ARNs.
func WithAccount(account string) LocalOption {
	return func(o *LocalOrchestrator) { o.account = account }
}

// WithValidationDelay makes certificate validation take d.
func WithValidationDelay(d time.Duration) LocalOption {
	return func(o *LocalOrchestrator) { o.validationDelay = d }
}

// WithLocalLogger sets the logger. Defaults to slog.Default().
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(o *LocalOrchestrator) { o.logger = l }
}

// NewLocalOrchestrator creates a ledger-backed orchestrator.
func NewLocalOrchestrator(ledger ResourceLedger, opts ...LocalOption) *LocalOrchestrator {
	o := &LocalOrchestrator{
		ledger:  ledger,
		region:  DefaultRegion,
		account: DefaultAccount,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Provision implements Orchestrator.
func (o *LocalOrchestrator) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	hash, err := ir.ResourceHash(req.ID, req.Kind, map[string]any{
		"properties":  req.Properties,
		"inputs":      req.Inputs,
		"environment": req.Environment,
		"policies":    req.Policies,
		"permission":  req.Permission,
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	prev, found, err := o.ledger.GetResource(ctx, req.Stack, string(req.ID))
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("read ledger: %w", err)
	}
	if found && prev.SpecHash == hash {
		return ProvisionResult{
			PhysicalID: prev.PhysicalID,
			Attributes: prev.Attributes,
			Change:     ChangeUnchanged,
		}, nil
	}

	change, generation := ChangeCreated, 1
	if found {
		change, generation = ChangeUpdated, prev.Generation
		if requiresReplacement(req, prev) {
			change, generation = ChangeReplaced, prev.Generation+1
		}
	}

	physicalID, attrs, err := o.derive(req, generation)
	if err != nil {
		return ProvisionResult{}, err
	}

	err = o.ledger.PutResource(ctx, store.Resource{
		Stack:        req.Stack,
		LogicalID:    string(req.ID),
		Kind:         string(req.Kind),
		PhysicalID:   physicalID,
		SpecHash:     hash,
		Attributes:   attrs,
		Generation:   generation,
		DeploymentID: req.DeploymentID,
	})
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("write ledger: %w", err)
	}
	o.logger.Debug("ledger updated", "logical_id", req.ID, "physical_id", physicalID,
		"change", change, "generation", generation)

	return ProvisionResult{
		PhysicalID: physicalID,
		Attributes: attrs,
		Change:     change,
		Pending:    req.Kind == ir.KindCertificate,
	}, nil
}

// Await implements Orchestrator. Validation completes after the configured
// delay.
func (o *LocalOrchestrator) Await(ctx context.Context, req ProvisionRequest, pending ProvisionResult) (ProvisionResult, error) {
	if o.validationDelay > 0 {
		t := time.NewTimer(o.validationDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return pending, ctx.Err()
		case <-t.C:
		}
	}
	pending.Pending = false
	return pending, nil
}

// requiresReplacement reports whether an immutable property changed.
func requiresReplacement(req ProvisionRequest, prev store.Resource) bool {
	table, ok := req.Properties.(ir.StorageTable)
	if !ok {
		return false
	}
	return prev.Attributes["partition_key"] != partitionKey(table)
}

func partitionKey(t ir.StorageTable) string {
	return t.PartitionKey.Name + ":" + string(t.PartitionKey.Type)
}

// derive computes the physical id and attributes of a resource. Both only
// change with the generation, so in-place updates keep them.
func (o *LocalOrchestrator) derive(req ProvisionRequest, generation int) (string, map[string]string, error) {
	suffix := shortHash(req.Stack, string(req.ID), fmt.Sprint(generation))
	named := func(base string) string {
		if generation > 1 {
			return base + "-" + suffix[:8]
		}
		return base
	}

	switch p := req.Properties.(type) {
	case ir.StorageTable:
		name := named(p.TableName)
		return name, map[string]string{
			"name":          name,
			"arn":           o.arn("dynamodb", "table/"+name),
			"partition_key": partitionKey(p),
		}, nil

	case ir.SharedLayer:
		arn := o.arn("lambda", fmt.Sprintf("layer:%s:%d", p.ID, generation))
		return arn, map[string]string{"arn": arn}, nil

	case ir.ComputeFunction:
		name := fmt.Sprintf("%s-%s-%s", req.Stack, p.ID, strings.ToUpper(suffix[:12]))
		return name, map[string]string{
			"name": name,
			"arn":  o.arn("lambda", "function:"+name),
		}, nil

	case ir.Certificate:
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(req.Stack+"/"+string(req.ID)+"/"+fmt.Sprint(generation)))
		arn := fmt.Sprintf("arn:aws:acm:%s:%s:certificate/%s", p.Region, o.account, id)
		return arn, map[string]string{"arn": arn}, nil

	case ir.DomainBinding:
		attrs := map[string]string{"domain_name": p.DomainName}
		if p.Endpoint == ir.EndpointEdge {
			attrs["target_domain"] = fmt.Sprintf("d%s.cloudfront.net", suffix[:13])
			attrs["hosted_zone_id"] = edgeHostedZoneID
		} else {
			attrs["target_domain"] = fmt.Sprintf("d-%s.execute-api.%s.amazonaws.com", suffix[:10], o.region)
			attrs["hosted_zone_id"] = "Z" + strings.ToUpper(suffix[:13])
		}
		return p.DomainName, attrs, nil

	case ir.AliasRecord:
		target := req.Inputs[string(p.Target)+".target_domain"]
		if target == "" {
			return "", nil, fmt.Errorf("alias %s: target %s has no target_domain", p.ID, p.Target)
		}
		name := strings.TrimSuffix(p.RecordName, ".")
		return name, map[string]string{"name": name, "target": target}, nil

	case ir.RestAPI:
		apiID := suffix[:10]
		return apiID, map[string]string{
			"id":               apiID,
			"root_resource_id": suffix[10:20],
			"execute_arn":      o.arn("execute-api", apiID),
		}, nil

	case ir.APIResource:
		return suffix[:6], map[string]string{"id": suffix[:6]}, nil

	case ir.APIMethod:
		return fmt.Sprintf("%s %s", p.Method, p.Path), map[string]string{"method": p.Method, "path": p.Path}, nil

	case ir.APISurface:
		apiID := req.Inputs[string(p.API)+".id"]
		if apiID == "" {
			return "", nil, fmt.Errorf("stage %s: api %s has no id", req.ID, p.API)
		}
		url := fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s/", apiID, o.region, p.StageName)
		return p.StageName, map[string]string{"name": p.StageName, "url": url}, nil

	case ir.BasePathMapping:
		domain := req.Inputs[string(p.Domain)+".domain_name"]
		if domain == "" {
			return "", nil, fmt.Errorf("mapping %s: domain %s has no domain_name", p.ID, p.Domain)
		}
		url := fmt.Sprintf("https://%s/%s", domain, p.BasePath)
		return domain + "/" + p.BasePath, map[string]string{"url": url}, nil
	}
	return "", nil, fmt.Errorf("unsupported resource %s of kind %s", req.ID, req.Kind)
}

func (o *LocalOrchestrator) arn(service, resource string) string {
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", service, o.region, o.account, resource)
}

func shortHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "/")))
	return hex.EncodeToString(sum[:])
}
