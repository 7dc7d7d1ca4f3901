package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/roach88/consentstack/internal/ir"
)

// CompileTopology parses a CUE value into a Topology.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the stack struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`stack: CookiesConsent: { table: ... }`)
//	topo, err := CompileTopology(v.LookupPath(cue.ParsePath("stack.CookiesConsent")))
//
// Each resource family is a struct keyed by logical id. Field order in the
// source does not matter; nothing downstream relies on declaration order.
func CompileTopology(v cue.Value) (*ir.Topology, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	topo := &ir.Topology{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		topo.Name = labels[len(labels)-1].String()
	}

	var err error
	if topo.Tables, err = parseEach(v, "table", parseTable); err != nil {
		return nil, err
	}
	if topo.Layers, err = parseEach(v, "layer", parseLayer); err != nil {
		return nil, err
	}
	if topo.Functions, err = parseEach(v, "function", parseFunction); err != nil {
		return nil, err
	}
	if topo.Zones, err = parseEach(v, "zone", parseZone); err != nil {
		return nil, err
	}
	if topo.Certificates, err = parseEach(v, "certificate", parseCertificate); err != nil {
		return nil, err
	}
	if topo.DomainNames, err = parseEach(v, "domainName", parseDomainName); err != nil {
		return nil, err
	}
	if topo.AliasRecords, err = parseEach(v, "aliasRecord", parseAliasRecord); err != nil {
		return nil, err
	}
	if topo.APIs, err = parseEach(v, "api", parseAPI); err != nil {
		return nil, err
	}
	if topo.BasePathMappings, err = parseEach(v, "basePathMapping", parseBasePathMapping); err != nil {
		return nil, err
	}
	if topo.Outputs, err = parseEach(v, "output", parseOutput); err != nil {
		return nil, err
	}

	return topo, nil
}

// parseEach iterates the struct at field and parses every member.
func parseEach[T any](v cue.Value, field string, parse func(id string, v cue.Value) (T, error)) ([]T, error) {
	fam := v.LookupPath(cue.ParsePath(field))
	if !fam.Exists() {
		return nil, nil
	}
	iter, err := fam.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []T
	for iter.Next() {
		item, err := parse(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func parseTable(id string, v cue.Value) (ir.StorageTable, error) {
	t := ir.StorageTable{ID: ir.ResourceID(id)}
	var err error
	if t.TableName, err = optionalString(v, "tableName", id); err != nil {
		return t, err
	}
	pk := v.LookupPath(cue.ParsePath("partitionKey"))
	if !pk.Exists() {
		return t, &CompileError{
			Field:   fmt.Sprintf("table.%s.partitionKey", id),
			Message: "partition key is required",
			Pos:     v.Pos(),
		}
	}
	if t.PartitionKey.Name, err = requiredString(pk, "name", "table."+id+".partitionKey"); err != nil {
		return t, err
	}
	keyType, err := requiredString(pk, "type", "table."+id+".partitionKey")
	if err != nil {
		return t, err
	}
	t.PartitionKey.Type = types.ScalarAttributeType(keyType)

	billing, err := optionalString(v, "billingMode", string(types.BillingModePayPerRequest))
	if err != nil {
		return t, err
	}
	t.BillingMode = types.BillingMode(billing)

	removal, err := optionalString(v, "removalPolicy", string(ir.RemovalRetain))
	if err != nil {
		return t, err
	}
	t.RemovalPolicy = ir.RemovalPolicy(removal)
	return t, nil
}

func parseLayer(id string, v cue.Value) (ir.SharedLayer, error) {
	l := ir.SharedLayer{ID: ir.ResourceID(id)}
	var err error
	if l.CompatibleRuntimes, err = stringList(v, "compatibleRuntimes"); err != nil {
		return l, err
	}
	if l.Code.Asset, err = requiredString(v, "code", "layer."+id); err != nil {
		return l, err
	}
	return l, nil
}

func parseFunction(id string, v cue.Value) (ir.ComputeFunction, error) {
	f := ir.ComputeFunction{ID: ir.ResourceID(id)}
	field := "function." + id
	var err error
	if f.Handler, err = requiredString(v, "handler", field); err != nil {
		return f, err
	}
	if f.Runtime, err = requiredString(v, "runtime", field); err != nil {
		return f, err
	}
	if f.Code.Asset, err = requiredString(v, "code", field); err != nil {
		return f, err
	}

	layers, err := stringList(v, "layers")
	if err != nil {
		return f, err
	}
	for _, l := range layers {
		f.Layers = append(f.Layers, ir.ResourceID(l))
	}

	env := v.LookupPath(cue.ParsePath("environment"))
	if env.Exists() {
		iter, err := env.Fields()
		if err != nil {
			return f, formatCUEError(err)
		}
		f.Environment = make(map[string]ir.EnvValue)
		for iter.Next() {
			name := iter.Label()
			val, err := parseEnvValue(iter.Value(), field+".environment."+name)
			if err != nil {
				return f, err
			}
			f.Environment[name] = val
		}
	}

	access := v.LookupPath(cue.ParsePath("access"))
	if access.Exists() {
		list, err := access.List()
		if err != nil {
			return f, formatCUEError(err)
		}
		for i := 0; list.Next(); i++ {
			itemField := fmt.Sprintf("%s.access[%d]", field, i)
			table, err := requiredString(list.Value(), "table", itemField)
			if err != nil {
				return f, err
			}
			mode, err := requiredString(list.Value(), "mode", itemField)
			if err != nil {
				return f, err
			}
			f.Access = append(f.Access, ir.AccessGrant{
				Table: ir.ResourceID(table),
				Mode:  ir.AccessMode(mode),
			})
		}
	}
	return f, nil
}

// parseEnvValue accepts either a plain string or {ref, attr}.
func parseEnvValue(v cue.Value, field string) (ir.EnvValue, error) {
	if s, err := v.String(); err == nil {
		return ir.EnvValue{Value: s}, nil
	}
	ref, err := requiredString(v, "ref", field)
	if err != nil {
		return ir.EnvValue{}, err
	}
	attr, err := optionalString(v, "attr", "name")
	if err != nil {
		return ir.EnvValue{}, err
	}
	return ir.EnvValue{Ref: ir.ResourceID(ref), Attr: attr}, nil
}

func parseZone(id string, v cue.Value) (ir.HostedZoneRef, error) {
	name, err := requiredString(v, "domainName", "zone."+id)
	return ir.HostedZoneRef{ID: ir.ResourceID(id), DomainName: name}, err
}

func parseCertificate(id string, v cue.Value) (ir.Certificate, error) {
	c := ir.Certificate{ID: ir.ResourceID(id)}
	field := "certificate." + id
	var err error
	if c.DomainName, err = requiredString(v, "domainName", field); err != nil {
		return c, err
	}
	if c.AlternativeNames, err = stringList(v, "alternativeNames"); err != nil {
		return c, err
	}
	zone, err := requiredString(v, "zone", field)
	if err != nil {
		return c, err
	}
	c.Zone = ir.ResourceID(zone)
	if c.Region, err = optionalString(v, "region", "us-east-1"); err != nil {
		return c, err
	}
	return c, nil
}

func parseDomainName(id string, v cue.Value) (ir.DomainBinding, error) {
	d := ir.DomainBinding{ID: ir.ResourceID(id)}
	field := "domainName." + id
	var err error
	if d.DomainName, err = requiredString(v, "domainName", field); err != nil {
		return d, err
	}
	cert, err := requiredString(v, "certificate", field)
	if err != nil {
		return d, err
	}
	d.Certificate = ir.ResourceID(cert)
	endpoint, err := optionalString(v, "endpoint", string(ir.EndpointRegional))
	if err != nil {
		return d, err
	}
	d.Endpoint = ir.EndpointType(endpoint)
	return d, nil
}

func parseAliasRecord(id string, v cue.Value) (ir.AliasRecord, error) {
	a := ir.AliasRecord{ID: ir.ResourceID(id)}
	field := "aliasRecord." + id
	zone, err := requiredString(v, "zone", field)
	if err != nil {
		return a, err
	}
	target, err := requiredString(v, "target", field)
	if err != nil {
		return a, err
	}
	a.Zone, a.Target = ir.ResourceID(zone), ir.ResourceID(target)
	if a.RecordName, err = requiredString(v, "recordName", field); err != nil {
		return a, err
	}
	return a, nil
}

func parseAPI(id string, v cue.Value) (ir.RestAPI, error) {
	a := ir.RestAPI{ID: ir.ResourceID(id)}
	field := "api." + id
	var err error
	if a.Name, err = optionalString(v, "name", id); err != nil {
		return a, err
	}
	if a.StageName, err = optionalString(v, "stageName", "prod"); err != nil {
		return a, err
	}
	endpoint, err := optionalString(v, "endpoint", string(ir.EndpointRegional))
	if err != nil {
		return a, err
	}
	a.Endpoint = ir.EndpointType(endpoint)

	cors := v.LookupPath(cue.ParsePath("cors"))
	if cors.Exists() {
		policy := &ir.CorsPolicy{}
		if policy.AllowOrigins, err = stringList(cors, "allowOrigins"); err != nil {
			return a, err
		}
		if policy.AllowMethods, err = stringList(cors, "allowMethods"); err != nil {
			return a, err
		}
		if creds := cors.LookupPath(cue.ParsePath("allowCredentials")); creds.Exists() {
			if policy.AllowCredentials, err = creds.Bool(); err != nil {
				return a, formatCUEError(err)
			}
		}
		a.Cors = policy
	}

	routes := v.LookupPath(cue.ParsePath("routes"))
	if routes.Exists() {
		list, err := routes.List()
		if err != nil {
			return a, formatCUEError(err)
		}
		for i := 0; list.Next(); i++ {
			itemField := fmt.Sprintf("%s.routes[%d]", field, i)
			r := ir.Route{}
			if r.Path, err = requiredString(list.Value(), "path", itemField); err != nil {
				return a, err
			}
			if r.Method, err = requiredString(list.Value(), "method", itemField); err != nil {
				return a, err
			}
			target, err := requiredString(list.Value(), "target", itemField)
			if err != nil {
				return a, err
			}
			r.Target = ir.ResourceID(target)
			a.Routes = append(a.Routes, r)
		}
	}
	return a, nil
}

func parseBasePathMapping(id string, v cue.Value) (ir.BasePathMapping, error) {
	m := ir.BasePathMapping{ID: ir.ResourceID(id)}
	field := "basePathMapping." + id
	domain, err := requiredString(v, "domain", field)
	if err != nil {
		return m, err
	}
	api, err := requiredString(v, "api", field)
	if err != nil {
		return m, err
	}
	m.Domain, m.API = ir.ResourceID(domain), ir.ResourceID(api)
	if m.BasePath, err = optionalString(v, "basePath", ""); err != nil {
		return m, err
	}
	return m, nil
}

func parseOutput(name string, v cue.Value) (ir.Output, error) {
	o := ir.Output{}
	var err error
	if o.Name, err = optionalString(v, "name", name); err != nil {
		return o, err
	}
	source, err := requiredString(v, "source", "output."+name)
	if err != nil {
		return o, err
	}
	o.Source = ir.ResourceID(source)
	if o.Attr, err = optionalString(v, "attr", "url"); err != nil {
		return o, err
	}
	if o.Placeholder, err = optionalString(v, "placeholder", ""); err != nil {
		return o, err
	}
	return o, nil
}

func requiredString(v cue.Value, path, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", &CompileError{
			Field:   field + "." + path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path, def string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return def, nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError is a structural problem found while reading CUE.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
