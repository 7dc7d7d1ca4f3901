// Package template renders a compiled plan as a CloudFormation-shaped
// document.
//
// The template is the serialized hand-off to an external orchestrator.
// Every dependency edge of the plan appears as an explicit DependsOn
// entry, so nothing relies on declaration order. Hosted zones are looked
// up, never created: each becomes a template parameter.
package template

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/consentstack/internal/ir"
)

// FormatVersion is the template format version.
const FormatVersion = "2010-09-09"

// Template is a rendered plan.
type Template struct {
	FormatVersion string               `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description   string               `json:"Description" yaml:"Description"`
	Metadata      map[string]string    `json:"Metadata,omitempty" yaml:"Metadata,omitempty"`
	Parameters    map[string]Parameter `json:"Parameters,omitempty" yaml:"Parameters,omitempty"`
	Resources     map[string]Resource  `json:"Resources" yaml:"Resources"`
	Outputs       map[string]Output    `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

// Parameter is an input the deployer supplies.
type Parameter struct {
	Type        string `json:"Type" yaml:"Type"`
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
}

// Resource is one template resource.
type Resource struct {
	Type           string         `json:"Type" yaml:"Type"`
	DependsOn      []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
	DeletionPolicy string         `json:"DeletionPolicy,omitempty" yaml:"DeletionPolicy,omitempty"`
	Properties     map[string]any `json:"Properties" yaml:"Properties"`
	Metadata       map[string]any `json:"Metadata,omitempty" yaml:"Metadata,omitempty"`
}

// Output is a template output.
type Output struct {
	Description string `json:"Description" yaml:"Description"`
	Value       any    `json:"Value" yaml:"Value"`
}

// Render converts a plan into a template.
func Render(p *ir.Plan) (*Template, error) {
	r := &renderer{
		plan:  p,
		kinds: make(map[ir.ResourceID]ir.Kind, len(p.Nodes)),
		tmpl: &Template{
			FormatVersion: FormatVersion,
			Description:   fmt.Sprintf("%s (plan %s)", p.Stack, p.Version),
			Parameters:    make(map[string]Parameter),
			Resources:     make(map[string]Resource),
			Outputs:       make(map[string]Output),
		},
	}
	for _, n := range p.Nodes {
		r.kinds[n.ID] = n.Kind
	}
	hash, err := ir.PlanHash(p)
	if err != nil {
		return nil, err
	}
	r.tmpl.Metadata = map[string]string{"PlanHash": hash}

	for _, id := range p.Order {
		n, _ := p.Node(id)
		if err := r.node(n); err != nil {
			return nil, err
		}
	}
	for _, o := range p.Outputs {
		r.tmpl.Outputs[LogicalID(ir.ResourceID(o.Name))] = Output{
			Description: o.Name,
			Value:       r.value(ir.Token(r.outputSource(o), o.Attr)),
		}
	}
	return r.tmpl, nil
}

// JSON renders the template as indented JSON.
func (t *Template) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	return append(data, '\n'), nil
}

// YAML renders the template as YAML.
func (t *Template) YAML() ([]byte, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	return data, nil
}

type renderer struct {
	plan  *ir.Plan
	kinds map[ir.ResourceID]ir.Kind
	tmpl  *Template
}

// add registers a resource with the node's dependencies as DependsOn.
// Hosted zones are parameters and never appear in DependsOn.
func (r *renderer) add(n ir.Node, typ string, props map[string]any, extra ...string) string {
	deps := append([]string(nil), extra...)
	for _, d := range n.DependsOn {
		if r.kinds[d] == ir.KindHostedZone {
			continue
		}
		deps = append(deps, LogicalID(d))
	}
	sort.Strings(deps)
	id := LogicalID(n.ID)
	r.tmpl.Resources[id] = Resource{
		Type:       typ,
		DependsOn:  deps,
		Properties: props,
		Metadata:   map[string]any{"LogicalID": string(n.ID)},
	}
	return id
}

func (r *renderer) node(n ir.Node) error {
	t := &r.plan.Topology
	switch n.Kind {
	case ir.KindHostedZone:
		z, _ := t.Zone(n.ID)
		r.tmpl.Parameters[LogicalID(n.ID)] = Parameter{
			Type:        "AWS::Route53::HostedZone::Id",
			Description: fmt.Sprintf("Existing hosted zone for %s", z.DomainName),
		}

	case ir.KindTable:
		tbl, _ := t.Table(n.ID)
		id := r.add(n, "AWS::DynamoDB::Table", map[string]any{
			"TableName": tbl.TableName,
			"KeySchema": []map[string]any{{"AttributeName": tbl.PartitionKey.Name, "KeyType": "HASH"}},
			"AttributeDefinitions": []map[string]any{{
				"AttributeName": tbl.PartitionKey.Name,
				"AttributeType": string(tbl.PartitionKey.Type),
			}},
			"BillingMode": string(tbl.BillingMode),
		})
		res := r.tmpl.Resources[id]
		res.DeletionPolicy = "Delete"
		if tbl.RemovalPolicy == ir.RemovalRetain {
			res.DeletionPolicy = "Retain"
		}
		r.tmpl.Resources[id] = res

	case ir.KindLayer:
		l, _ := t.Layer(n.ID)
		r.add(n, "AWS::Lambda::LayerVersion", map[string]any{
			"CompatibleRuntimes": l.CompatibleRuntimes,
			"Content":            map[string]any{"Asset": l.Code.Asset},
		})

	case ir.KindFunction:
		r.function(n)

	case ir.KindCertificate:
		c, _ := t.Certificate(n.ID)
		props := map[string]any{
			"DomainName":       c.DomainName,
			"ValidationMethod": "DNS",
			"DomainValidationOptions": []map[string]any{{
				"DomainName":   c.DomainName,
				"HostedZoneId": ref(LogicalID(c.Zone)),
			}},
		}
		if len(c.AlternativeNames) > 0 {
			props["SubjectAlternativeNames"] = c.AlternativeNames
		}
		id := r.add(n, "AWS::CertificateManager::Certificate", props)
		r.tmpl.Resources[id].Metadata["Region"] = c.Region

	case ir.KindDomainName:
		d, _ := t.DomainName(n.ID)
		props := map[string]any{
			"DomainName":            d.DomainName,
			"EndpointConfiguration": map[string]any{"Types": []string{string(d.Endpoint)}},
		}
		if d.Endpoint == ir.EndpointEdge {
			props["CertificateArn"] = ref(LogicalID(d.Certificate))
		} else {
			props["RegionalCertificateArn"] = ref(LogicalID(d.Certificate))
		}
		r.add(n, "AWS::ApiGateway::DomainName", props)

	case ir.KindAliasRecord:
		for _, a := range t.AliasRecords {
			if a.ID != n.ID {
				continue
			}
			r.add(n, "AWS::Route53::RecordSet", map[string]any{
				"HostedZoneId": ref(LogicalID(a.Zone)),
				"Name":         a.RecordName,
				"Type":         "A",
				"AliasTarget": map[string]any{
					"DNSName":      r.value(ir.Token(a.Target, "target_domain")),
					"HostedZoneId": r.value(ir.Token(a.Target, "hosted_zone_id")),
				},
			})
		}

	case ir.KindRestAPI:
		a, _ := t.API(n.ID)
		r.add(n, "AWS::ApiGateway::RestApi", map[string]any{
			"Name":                  a.Name,
			"EndpointConfiguration": map[string]any{"Types": []string{string(a.Endpoint)}},
		})
		if a.Cors != nil {
			r.cors(a)
		}

	case ir.KindAPIResource:
		res, api := r.apiResource(n.ID)
		parent := ref(LogicalID(res.Parent))
		if res.Parent == api {
			parent = getAtt(LogicalID(api), "RootResourceId")
		}
		r.add(n, "AWS::ApiGateway::Resource", map[string]any{
			"RestApiId": ref(LogicalID(api)),
			"ParentId":  parent,
			"PathPart":  res.PathPart,
		})

	case ir.KindAPIMethod:
		r.method(n)

	case ir.KindStage:
		s := r.surface(n.ID)
		r.add(n, "AWS::ApiGateway::Deployment", map[string]any{
			"RestApiId": ref(LogicalID(s.API)),
			"StageName": s.StageName,
		})

	case ir.KindBasePathMapping:
		for _, m := range t.BasePathMappings {
			if m.ID != n.ID {
				continue
			}
			a, _ := t.API(m.API)
			props := map[string]any{
				"DomainName": ref(LogicalID(m.Domain)),
				"RestApiId":  ref(LogicalID(m.API)),
				"Stage":      a.StageName,
			}
			if m.BasePath != "" {
				props["BasePath"] = m.BasePath
			}
			r.add(n, "AWS::ApiGateway::BasePathMapping", props)
		}

	default:
		return fmt.Errorf("render %s: unsupported kind %s", n.ID, n.Kind)
	}
	return nil
}

// function renders the execution role and the function itself.
func (r *renderer) function(n ir.Node) {
	fn, _ := r.plan.Topology.Function(n.ID)

	var statements []map[string]any
	for _, s := range r.plan.PoliciesFor(fn.ID) {
		resources := make([]any, len(s.Resources))
		for i, res := range s.Resources {
			resources[i] = r.value(res)
		}
		statements = append(statements, map[string]any{
			"Sid":      LogicalID(ir.ResourceID(s.Sid)),
			"Effect":   s.Effect,
			"Action":   s.Actions,
			"Resource": resources,
		})
	}
	roleID := LogicalID(fn.ID) + "ServiceRole"
	r.tmpl.Resources[roleID] = Resource{
		Type: "AWS::IAM::Role",
		Properties: map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []map[string]any{{
					"Effect":    "Allow",
					"Principal": map[string]any{"Service": "lambda.amazonaws.com"},
					"Action":    "sts:AssumeRole",
				}},
			},
			"Policies": []map[string]any{{
				"PolicyName": LogicalID(fn.ID) + "Policy",
				"PolicyDocument": map[string]any{
					"Version":   "2012-10-17",
					"Statement": statements,
				},
			}},
		},
		Metadata: map[string]any{"LogicalID": string(fn.ID) + "/role"},
	}

	layers := make([]any, len(fn.Layers))
	for i, l := range fn.Layers {
		layers[i] = ref(LogicalID(l))
	}
	props := map[string]any{
		"Handler": fn.Handler,
		"Runtime": fn.Runtime,
		"Code":    map[string]any{"Asset": fn.Code.Asset},
		"Role":    getAtt(roleID, "Arn"),
	}
	if len(layers) > 0 {
		props["Layers"] = layers
	}
	if len(fn.Environment) > 0 {
		vars := make(map[string]any, len(fn.Environment))
		for name, v := range fn.Environment {
			if v.IsRef() {
				vars[name] = r.value(ir.Token(v.Ref, v.Attr))
			} else {
				vars[name] = v.Value
			}
		}
		props["Environment"] = map[string]any{"Variables": vars}
	}
	r.add(n, "AWS::Lambda::Function", props, roleID)
}

// method renders a method binding and its invoke permission.
func (r *renderer) method(n ir.Node) {
	for _, s := range r.plan.APIs {
		for i, m := range s.Methods {
			if m.ID != n.ID {
				continue
			}
			resource := ref(LogicalID(m.Resource))
			if m.Resource == s.API {
				resource = getAtt(LogicalID(s.API), "RootResourceId")
			}
			id := r.add(n, "AWS::ApiGateway::Method", map[string]any{
				"RestApiId":         ref(LogicalID(s.API)),
				"ResourceId":        resource,
				"HttpMethod":        m.Method,
				"AuthorizationType": "NONE",
				"Integration": map[string]any{
					"Type":                  m.Integration,
					"IntegrationHttpMethod": "POST",
					"Uri": map[string]any{"Fn::Sub": fmt.Sprintf(
						"arn:${AWS::Partition}:apigateway:${AWS::Region}:lambda:path/2015-03-31/functions/${%s.Arn}/invocations",
						LogicalID(m.Function))},
				},
			})
			if i >= len(s.Permissions) {
				continue
			}
			p := s.Permissions[i]
			r.tmpl.Resources[id+"Permission"] = Resource{
				Type:      "AWS::Lambda::Permission",
				DependsOn: []string{LogicalID(p.Function)},
				Properties: map[string]any{
					"Action":       p.Action,
					"FunctionName": getAtt(LogicalID(p.Function), "Arn"),
					"Principal":    p.Principal,
					"SourceArn":    r.value(p.SourceArn),
				},
				Metadata: map[string]any{"LogicalID": p.Sid},
			}
		}
	}
}

// cors renders the preflight method on the API root.
func (r *renderer) cors(a ir.RestAPI) {
	api := LogicalID(a.ID)
	headers := map[string]any{
		"method.response.header.Access-Control-Allow-Origin":      quoteList(a.Cors.AllowOrigins),
		"method.response.header.Access-Control-Allow-Methods":     quoteList(a.Cors.AllowMethods),
		"method.response.header.Access-Control-Allow-Headers":     "'Content-Type,X-Amz-Date,Authorization,X-Api-Key'",
		"method.response.header.Access-Control-Allow-Credentials": fmt.Sprintf("'%t'", a.Cors.AllowCredentials),
	}
	declared := make(map[string]any, len(headers))
	for h := range headers {
		declared[h] = true
	}
	r.tmpl.Resources[api+"OptionsMethod"] = Resource{
		Type:      "AWS::ApiGateway::Method",
		DependsOn: []string{api},
		Properties: map[string]any{
			"RestApiId":         ref(api),
			"ResourceId":        getAtt(api, "RootResourceId"),
			"HttpMethod":        "OPTIONS",
			"AuthorizationType": "NONE",
			"Integration": map[string]any{
				"Type":                 "MOCK",
				"RequestTemplates":     map[string]any{"application/json": "{ statusCode: 200 }"},
				"IntegrationResponses": []map[string]any{{"StatusCode": "204", "ResponseParameters": headers}},
			},
			"MethodResponses": []map[string]any{{"StatusCode": "204", "ResponseParameters": declared}},
		},
		Metadata: map[string]any{"LogicalID": string(a.ID) + "/cors"},
	}
}

func (r *renderer) apiResource(id ir.ResourceID) (ir.APIResource, ir.ResourceID) {
	for _, s := range r.plan.APIs {
		for _, res := range s.Resources {
			if res.ID == id {
				return res, s.API
			}
		}
	}
	return ir.APIResource{}, ""
}

func (r *renderer) surface(stage ir.ResourceID) ir.APISurface {
	for _, s := range r.plan.APIs {
		if s.Stage == stage {
			return s
		}
	}
	return ir.APISurface{}
}

// outputSource maps an API output to its deployment stage, where the
// invocation URL lives.
func (r *renderer) outputSource(o ir.Output) ir.ResourceID {
	if a, ok := r.plan.Topology.API(o.Source); ok {
		return a.StageID()
	}
	return o.Source
}

// LogicalIDs returns the template ids of a plan's nodes, sorted.
func LogicalIDs(p *ir.Plan) []string {
	ids := make([]string, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		ids = append(ids, LogicalID(n.ID))
	}
	sort.Strings(ids)
	return ids
}
