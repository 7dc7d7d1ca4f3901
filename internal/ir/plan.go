package ir

import (
	"fmt"
	"strings"
)

// Node is one vertex of the dependency graph.
// DependsOn lists the nodes that must exist before this one is created.
type Node struct {
	ID        ResourceID   `json:"id"`
	Kind      Kind         `json:"kind"`
	DependsOn []ResourceID `json:"depends_on"`
}

// Edge means From must exist before To can be created.
type Edge struct {
	From   ResourceID `json:"from"`
	To     ResourceID `json:"to"`
	Reason string     `json:"reason"`
}

// Statement kinds.
const (
	StatementTableAccess = "table_access"
	StatementLogs        = "logs"
)

// PolicyStatement is an allow statement attached to a function's
// execution role.
type PolicyStatement struct {
	Sid       string     `json:"sid"`
	Kind      string     `json:"kind"`
	Function  ResourceID `json:"function"`
	Table     ResourceID `json:"table,omitempty"`
	Effect    string     `json:"effect"`
	Actions   []string   `json:"actions"`
	Resources []string   `json:"resources"`
}

// InvokePermission allows the API principal to invoke a function for one
// method binding.
type InvokePermission struct {
	Sid       string     `json:"sid"`
	Function  ResourceID `json:"function"`
	Principal string     `json:"principal"`
	Action    string     `json:"action"`
	SourceArn string     `json:"source_arn"`
}

// APIResource is one path node of a compiled API. The root resource is
// the API itself and is the only resource carrying a CORS policy.
type APIResource struct {
	ID       ResourceID  `json:"id"`
	Path     string      `json:"path"`
	PathPart string      `json:"path_part,omitempty"`
	Parent   ResourceID  `json:"parent,omitempty"`
	Cors     *CorsPolicy `json:"cors,omitempty"`
}

// APIMethod binds one (path, method) pair to a function integration.
type APIMethod struct {
	ID          ResourceID `json:"id"`
	Resource    ResourceID `json:"resource"`
	Path        string     `json:"path"`
	Method      string     `json:"method"`
	Function    ResourceID `json:"function"`
	Integration string     `json:"integration"`
}

// APISurface is the compiled form of a RestAPI.
type APISurface struct {
	API         ResourceID         `json:"api"`
	Stage       ResourceID         `json:"stage"`
	StageName   string             `json:"stage_name"`
	Endpoint    EndpointType       `json:"endpoint"`
	Root        APIResource        `json:"root"`
	Resources   []APIResource      `json:"resources"`
	Methods     []APIMethod        `json:"methods"`
	Permissions []InvokePermission `json:"permissions"`
}

// ChainSpec is the linear domain binding segment of a plan.
// API is the stage node whose readiness gates the base path mapping.
type ChainSpec struct {
	Zone            ResourceID `json:"zone"`
	Certificate     ResourceID `json:"certificate"`
	DomainName      ResourceID `json:"domain_name"`
	AliasRecord     ResourceID `json:"alias_record"`
	BasePathMapping ResourceID `json:"base_path_mapping"`
	API             ResourceID `json:"api"`
}

// Plan is the assembled, serializable graph handed to an orchestrator.
type Plan struct {
	Version  string            `json:"version"`
	Stack    string            `json:"stack"`
	Nodes    []Node            `json:"nodes"`
	Edges    []Edge            `json:"edges"`
	Order    []ResourceID      `json:"order"`
	Policies []PolicyStatement `json:"policies"`
	APIs     []APISurface      `json:"apis"`
	Chains   []ChainSpec       `json:"chains"`
	Outputs  []Output          `json:"outputs"`
	Topology Topology          `json:"topology"`
}

// Node returns the node with the given id.
func (p *Plan) Node(id ResourceID) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// PoliciesFor returns the statements attached to a function's role.
func (p *Plan) PoliciesFor(fn ResourceID) []PolicyStatement {
	var out []PolicyStatement
	for _, s := range p.Policies {
		if s.Function == fn {
			out = append(out, s)
		}
	}
	return out
}

// Token formats a reference to an attribute of another resource that is
// only known after that resource has been provisioned.
//
// Format: "${ID.attr}"
func Token(id ResourceID, attr string) string {
	return fmt.Sprintf("${%s.%s}", id, attr)
}

// ParseToken splits a string produced by Token. The id may itself contain
// dots; the attribute is the text after the last one.
func ParseToken(s string) (ResourceID, string, bool) {
	if !strings.HasPrefix(s, "${") {
		return "", "", false
	}
	end := strings.Index(s, "}")
	if end < 0 {
		return "", "", false
	}
	body := s[2:end]
	dot := strings.LastIndex(body, ".")
	if dot <= 0 || dot == len(body)-1 {
		return "", "", false
	}
	return ResourceID(body[:dot]), body[dot+1:], true
}

// ExpandTokens replaces every token in s using resolve. Tokens that do not
// resolve are left untouched.
func ExpandTokens(s string, resolve func(ResourceID, string) (string, bool)) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		tok := s[start : start+end+1]
		b.WriteString(s[:start])
		v, found := "", false
		if id, attr, ok := ParseToken(tok); ok {
			v, found = resolve(id, attr)
		}
		if found {
			b.WriteString(v)
		} else {
			b.WriteString(tok)
		}
		s = s[start+end+1:]
	}
}
