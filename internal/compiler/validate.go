package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/roach88/consentstack/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Identity and references (E101-E104)
	ErrDuplicateID         = "E101" // logical id declared twice
	ErrUndeclaredReference = "E102" // reference to an id nobody declared
	ErrWrongReferenceKind  = "E103" // reference resolves to the wrong kind
	ErrInvalidAccessMode   = "E104" // access mode not read/write/read_write

	// Storage (E105-E107)
	ErrInvalidPartitionKey  = "E105" // empty key name or unsupported key type
	ErrProvisionedCapacity  = "E106" // billing must be request based
	ErrInvalidRemovalPolicy = "E107" // removal policy not destroy/retain

	// Compute (E108-E109)
	ErrEmptyRuntimeSet     = "E108" // layer declares no compatible runtime
	ErrIncompatibleRuntime = "E109" // function runtime not supported by a layer

	// API surface (E110-E113)
	ErrDuplicateRoute      = "E110" // two routes share (path, method)
	ErrInvalidRoute        = "E111" // unsupported method
	ErrInvalidEndpointType = "E112" // endpoint type not EDGE/REGIONAL/PRIVATE
	ErrMissingStage        = "E113" // stage name is empty

	// Domain binding (E114-E117, E119)
	ErrEndpointMismatch  = "E114" // API and domain binding topologies differ
	ErrCertificateRegion = "E115" // edge domains need a us-east-1 certificate
	ErrDuplicateBasePath = "E116" // domain mapped twice on the same base path
	ErrIncompleteChain   = "E117" // mapped domain has no alias record
	ErrAmbiguousChain    = "E119" // mapped domain has more than one alias record

	// Attributes (E118)
	ErrUnknownAttribute = "E118" // reference names an attribute its kind does not expose

	// Graph (E120)
	ErrCyclicDependency = "E120" // references form a cycle
)

// EdgeCertificateRegion is the only region edge-optimized endpoints accept
// certificates from.
const EdgeCertificateRegion = "us-east-1"

// ValidMethods defines the HTTP methods a route may bind.
var ValidMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true, "ANY": true,
}

// ValidationError represents a descriptor validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a topology against structural rules.
// Returns all errors found (does not fail-fast).
func Validate(t *ir.Topology) []ValidationError {
	v := &validator{topo: t, kinds: t.Kinds()}
	v.checkDuplicateIDs()
	v.checkTables()
	v.checkLayers()
	v.checkFunctions()
	v.checkDomainChain()
	v.checkAPIs()
	v.checkOutputs()
	return v.errs
}

type validator struct {
	topo  *ir.Topology
	kinds map[ir.ResourceID]ir.Kind
	errs  []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

// ref checks that id is declared and has the wanted kind.
func (v *validator) ref(field string, id ir.ResourceID, want ir.Kind) bool {
	got, ok := v.kinds[id]
	if !ok {
		v.add(field, ErrUndeclaredReference, "reference to undeclared %s %q", want, id)
		return false
	}
	if got != want {
		v.add(field, ErrWrongReferenceKind, "%q is a %s, expected %s", id, got, want)
		return false
	}
	return true
}

func (v *validator) checkDuplicateIDs() {
	seen := make(map[ir.ResourceID]int)
	count := func(id ir.ResourceID) { seen[id]++ }
	for _, r := range v.topo.Tables {
		count(r.ID)
	}
	for _, r := range v.topo.Layers {
		count(r.ID)
	}
	for _, r := range v.topo.Functions {
		count(r.ID)
	}
	for _, r := range v.topo.Zones {
		count(r.ID)
	}
	for _, r := range v.topo.Certificates {
		count(r.ID)
	}
	for _, r := range v.topo.DomainNames {
		count(r.ID)
	}
	for _, r := range v.topo.AliasRecords {
		count(r.ID)
	}
	for _, r := range v.topo.APIs {
		count(r.ID)
	}
	for _, r := range v.topo.BasePathMappings {
		count(r.ID)
	}

	ids := make([]string, 0, len(seen))
	for id, n := range seen {
		if n > 1 {
			ids = append(ids, string(id))
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		v.add(id, ErrDuplicateID, "logical id %q declared %d times", id, seen[ir.ResourceID(id)])
	}
}

func (v *validator) checkTables() {
	for i, t := range v.topo.Tables {
		field := fmt.Sprintf("tables[%d]", i)
		if strings.TrimSpace(t.PartitionKey.Name) == "" {
			v.add(field+".partition_key.name", ErrInvalidPartitionKey, "partition key name is required")
		}
		switch t.PartitionKey.Type {
		case types.ScalarAttributeTypeS, types.ScalarAttributeTypeN, types.ScalarAttributeTypeB:
		default:
			v.add(field+".partition_key.type", ErrInvalidPartitionKey,
				"unsupported key type %q (want S, N or B)", t.PartitionKey.Type)
		}
		if t.BillingMode != types.BillingModePayPerRequest {
			v.add(field+".billing_mode", ErrProvisionedCapacity,
				"table %q must use %s billing, got %q", t.ID, types.BillingModePayPerRequest, t.BillingMode)
		}
		if t.RemovalPolicy != ir.RemovalDestroy && t.RemovalPolicy != ir.RemovalRetain {
			v.add(field+".removal_policy", ErrInvalidRemovalPolicy,
				"unsupported removal policy %q", t.RemovalPolicy)
		}
	}
}

func (v *validator) checkLayers() {
	for i, l := range v.topo.Layers {
		if len(l.CompatibleRuntimes) == 0 {
			v.add(fmt.Sprintf("layers[%d].compatible_runtimes", i), ErrEmptyRuntimeSet,
				"layer %q must declare at least one compatible runtime", l.ID)
		}
	}
}

func (v *validator) checkFunctions() {
	for i, f := range v.topo.Functions {
		field := fmt.Sprintf("functions[%d]", i)

		for j, layerID := range f.Layers {
			lf := fmt.Sprintf("%s.layers[%d]", field, j)
			if !v.ref(lf, layerID, ir.KindLayer) {
				continue
			}
			layer, _ := v.topo.Layer(layerID)
			if len(layer.CompatibleRuntimes) > 0 && !contains(layer.CompatibleRuntimes, f.Runtime) {
				v.add(lf, ErrIncompatibleRuntime, "runtime %q of %q is not compatible with layer %q %v",
					f.Runtime, f.ID, layerID, layer.CompatibleRuntimes)
			}
		}

		for j, g := range f.Access {
			af := fmt.Sprintf("%s.access[%d]", field, j)
			v.ref(af+".table", g.Table, ir.KindTable)
			if !ir.ValidAccessModes[g.Mode] {
				v.add(af+".mode", ErrInvalidAccessMode, "access mode %q must be read, write or read_write", g.Mode)
			}
		}

		for _, name := range sortedEnvNames(f.Environment) {
			val := f.Environment[name]
			if !val.IsRef() {
				continue
			}
			ef := fmt.Sprintf("%s.environment.%s", field, name)
			kind, ok := v.kinds[val.Ref]
			if !ok {
				v.add(ef, ErrUndeclaredReference, "environment references undeclared resource %q", val.Ref)
				continue
			}
			if !ir.HasAttribute(kind, val.Attr) {
				v.add(ef, ErrUnknownAttribute, "%s %q has no attribute %q (has %s)",
					kind, val.Ref, val.Attr, strings.Join(ir.Attributes(kind), ", "))
			}
		}
	}
}

func (v *validator) checkDomainChain() {
	for i, c := range v.topo.Certificates {
		v.ref(fmt.Sprintf("certificates[%d].zone", i), c.Zone, ir.KindHostedZone)
	}

	for i, d := range v.topo.DomainNames {
		field := fmt.Sprintf("domain_names[%d]", i)
		if !ir.ValidEndpointTypes[d.Endpoint] {
			v.add(field+".endpoint", ErrInvalidEndpointType, "unsupported endpoint type %q", d.Endpoint)
		}
		if !v.ref(field+".certificate", d.Certificate, ir.KindCertificate) {
			continue
		}
		cert, _ := v.topo.Certificate(d.Certificate)
		if d.Endpoint == ir.EndpointEdge && cert.Region != EdgeCertificateRegion {
			v.add(field+".certificate", ErrCertificateRegion,
				"edge domain %q needs a certificate in %s, %q is in %q",
				d.DomainName, EdgeCertificateRegion, cert.ID, cert.Region)
		}
	}

	for i, a := range v.topo.AliasRecords {
		field := fmt.Sprintf("alias_records[%d]", i)
		v.ref(field+".zone", a.Zone, ir.KindHostedZone)
		v.ref(field+".target", a.Target, ir.KindDomainName)
	}

	basePaths := make(map[string]ir.ResourceID)
	for i, m := range v.topo.BasePathMappings {
		field := fmt.Sprintf("base_path_mappings[%d]", i)
		domainOK := v.ref(field+".domain", m.Domain, ir.KindDomainName)
		apiOK := v.ref(field+".api", m.API, ir.KindRestAPI)

		key := string(m.Domain) + "|" + ir.NormalizePath(m.BasePath)
		if prev, dup := basePaths[key]; dup {
			v.add(field+".base_path", ErrDuplicateBasePath,
				"domain %q base path %q already mapped by %q", m.Domain, ir.NormalizePath(m.BasePath), prev)
		}
		basePaths[key] = m.ID

		if domainOK {
			switch aliases := aliasesFor(v.topo, m.Domain); {
			case len(aliases) == 0:
				v.add(field+".domain", ErrIncompleteChain,
					"domain %q is mapped by %q but no alias record targets it", m.Domain, m.ID)
			case len(aliases) > 1:
				v.add(field+".domain", ErrAmbiguousChain,
					"domain %q is mapped by %q but several alias records target it: %v", m.Domain, m.ID, aliases)
			}
		}

		if domainOK && apiOK {
			domain, _ := v.topo.DomainName(m.Domain)
			api, _ := v.topo.API(m.API)
			if domain.Endpoint != api.Endpoint {
				v.add(field, ErrEndpointMismatch,
					"API %q is %s but domain %q is %s", api.ID, api.Endpoint, domain.ID, domain.Endpoint)
			}
		}
	}
}

func (v *validator) checkAPIs() {
	for i, a := range v.topo.APIs {
		field := fmt.Sprintf("apis[%d]", i)
		if strings.TrimSpace(a.StageName) == "" {
			v.add(field+".stage_name", ErrMissingStage, "API %q needs a deployment stage name", a.ID)
		}
		if !ir.ValidEndpointTypes[a.Endpoint] {
			v.add(field+".endpoint", ErrInvalidEndpointType, "unsupported endpoint type %q", a.Endpoint)
		}
		for _, ve := range checkRoutes(a) {
			ve.Field = field + "." + ve.Field
			v.errs = append(v.errs, ve)
		}
		for j, r := range a.Routes {
			v.ref(fmt.Sprintf("%s.routes[%d].target", field, j), r.Target, ir.KindFunction)
		}
	}
}

// checkRoutes rejects unsupported methods and duplicate (path, method) pairs.
func checkRoutes(a ir.RestAPI) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]int)
	for j, r := range a.Routes {
		method := strings.ToUpper(r.Method)
		if !ValidMethods[method] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("routes[%d].method", j),
				Message: fmt.Sprintf("unsupported method %q", r.Method),
				Code:    ErrInvalidRoute,
			})
			continue
		}
		if prev, dup := seen[r.Key()]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("routes[%d]", j),
				Message: fmt.Sprintf("duplicate route %s (also routes[%d])", r.Key(), prev),
				Code:    ErrDuplicateRoute,
			})
			continue
		}
		seen[r.Key()] = j
	}
	return errs
}

func (v *validator) checkOutputs() {
	for i, o := range v.topo.Outputs {
		kind, ok := v.kinds[o.Source]
		if !ok {
			v.add(fmt.Sprintf("outputs[%d].source", i), ErrUndeclaredReference,
				"output %q projects undeclared resource %q", o.Name, o.Source)
			continue
		}
		// An API output may read its deployment stage.
		if ir.HasAttribute(kind, o.Attr) || (kind == ir.KindRestAPI && ir.HasAttribute(ir.KindStage, o.Attr)) {
			continue
		}
		v.add(fmt.Sprintf("outputs[%d].attr", i), ErrUnknownAttribute,
			"output %q reads unknown attribute %q of %s %q", o.Name, o.Attr, kind, o.Source)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func sortedEnvNames(env map[string]ir.EnvValue) []string {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
