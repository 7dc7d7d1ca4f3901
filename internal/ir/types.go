package ir

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ResourceID is the logical identity of a declared resource.
// It is the arena key every cross-resource reference goes through.
type ResourceID string

// Kind classifies a plan node.
type Kind string

const (
	KindTable           Kind = "table"
	KindLayer           Kind = "layer"
	KindFunction        Kind = "function"
	KindHostedZone      Kind = "hosted_zone"
	KindCertificate     Kind = "certificate"
	KindDomainName      Kind = "domain_name"
	KindAliasRecord     Kind = "alias_record"
	KindRestAPI         Kind = "rest_api"
	KindAPIResource     Kind = "api_resource"
	KindAPIMethod       Kind = "api_method"
	KindStage           Kind = "stage"
	KindBasePathMapping Kind = "base_path_mapping"
)

// attributes lists what each kind exposes once provisioned.
var attributes = map[Kind][]string{
	KindTable:           {"arn", "name", "partition_key"},
	KindLayer:           {"arn"},
	KindFunction:        {"arn", "name"},
	KindHostedZone:      {"id", "name"},
	KindCertificate:     {"arn"},
	KindDomainName:      {"domain_name", "hosted_zone_id", "target_domain"},
	KindAliasRecord:     {"name", "target"},
	KindRestAPI:         {"execute_arn", "id", "root_resource_id"},
	KindAPIResource:     {"id"},
	KindAPIMethod:       {"method", "path"},
	KindStage:           {"name", "url"},
	KindBasePathMapping: {"url"},
}

// Attributes returns the attribute names a kind exposes, sorted.
func Attributes(k Kind) []string {
	return append([]string(nil), attributes[k]...)
}

// HasAttribute reports whether resources of kind k expose attr.
func HasAttribute(k Kind, attr string) bool {
	for _, a := range attributes[k] {
		if a == attr {
			return true
		}
	}
	return false
}

// AccessMode is the direction of a table access relation.
type AccessMode string

const (
	AccessRead      AccessMode = "read"
	AccessWrite     AccessMode = "write"
	AccessReadWrite AccessMode = "read_write"
)

// ValidAccessModes defines allowed access modes.
var ValidAccessModes = map[AccessMode]bool{
	AccessRead:      true,
	AccessWrite:     true,
	AccessReadWrite: true,
}

// Reads reports whether the mode includes read operations.
func (m AccessMode) Reads() bool { return m == AccessRead || m == AccessReadWrite }

// Writes reports whether the mode includes write operations.
func (m AccessMode) Writes() bool { return m == AccessWrite || m == AccessReadWrite }

// EndpointType is the network topology of an API or domain binding.
type EndpointType string

const (
	EndpointEdge     EndpointType = "EDGE"
	EndpointRegional EndpointType = "REGIONAL"
	EndpointPrivate  EndpointType = "PRIVATE"
)

// ValidEndpointTypes defines allowed endpoint types.
var ValidEndpointTypes = map[EndpointType]bool{
	EndpointEdge:     true,
	EndpointRegional: true,
	EndpointPrivate:  true,
}

// RemovalPolicy controls what happens to a resource on stack teardown.
type RemovalPolicy string

const (
	RemovalDestroy RemovalPolicy = "destroy"
	RemovalRetain  RemovalPolicy = "retain"
)

// KeyAttribute is a typed key attribute of a table.
type KeyAttribute struct {
	Name string                    `json:"name"`
	Type types.ScalarAttributeType `json:"type"` // "S", "N" or "B"
}

// StorageTable describes a key-value table.
//
// PartitionKey is immutable once created: changing its name or type forces
// replacement of the table.
type StorageTable struct {
	ID            ResourceID        `json:"id"`
	TableName     string            `json:"table_name"`
	PartitionKey  KeyAttribute      `json:"partition_key"`
	BillingMode   types.BillingMode `json:"billing_mode"`
	RemovalPolicy RemovalPolicy     `json:"removal_policy"`
}

// CodeRef is an opaque reference to a deployable code bundle.
type CodeRef struct {
	Asset string `json:"asset"`
}

// EnvValue is a function environment value: either a literal or a
// reference to an attribute of another resource.
type EnvValue struct {
	Value string     `json:"value,omitempty"`
	Ref   ResourceID `json:"ref,omitempty"`
	Attr  string     `json:"attr,omitempty"`
}

// IsRef reports whether the value references another resource.
func (v EnvValue) IsRef() bool { return v.Ref != "" }

// AccessGrant is a declared access relation from a function to a table.
type AccessGrant struct {
	Table ResourceID `json:"table"`
	Mode  AccessMode `json:"mode"`
}

// ComputeFunction describes a compute function.
type ComputeFunction struct {
	ID          ResourceID          `json:"id"`
	Handler     string              `json:"handler"`
	Runtime     string              `json:"runtime"`
	Code        CodeRef             `json:"code"`
	Environment map[string]EnvValue `json:"environment,omitempty"`
	Layers      []ResourceID        `json:"layers,omitempty"`
	Access      []AccessGrant       `json:"access,omitempty"`
}

// SharedLayer describes shared code attached to functions by reference.
type SharedLayer struct {
	ID                 ResourceID `json:"id"`
	CompatibleRuntimes []string   `json:"compatible_runtimes"`
	Code               CodeRef    `json:"code"`
}

// HostedZoneRef is a lookup-by-name reference to a pre-existing DNS zone.
// Zones are never created by this system.
type HostedZoneRef struct {
	ID         ResourceID `json:"id"`
	DomainName string     `json:"domain_name"`
}

// Certificate describes a DNS-validated certificate.
type Certificate struct {
	ID               ResourceID `json:"id"`
	DomainName       string     `json:"domain_name"`
	AlternativeNames []string   `json:"alternative_names,omitempty"`
	Zone             ResourceID `json:"zone"`
	Region           string     `json:"region"`
}

// Names returns the primary domain followed by the alternative names.
func (c Certificate) Names() []string {
	return append([]string{c.DomainName}, c.AlternativeNames...)
}

// DomainBinding is a custom domain name object bound to a certificate.
type DomainBinding struct {
	ID          ResourceID   `json:"id"`
	DomainName  string       `json:"domain_name"`
	Certificate ResourceID   `json:"certificate"`
	Endpoint    EndpointType `json:"endpoint"`
}

// AliasRecord binds a record name to a domain binding's provider target.
type AliasRecord struct {
	ID         ResourceID `json:"id"`
	Zone       ResourceID `json:"zone"`
	RecordName string     `json:"record_name"`
	Target     ResourceID `json:"target"`
}

// CorsPolicy is the cross-origin policy attached at an API root.
type CorsPolicy struct {
	AllowOrigins     []string `json:"allow_origins"`
	AllowMethods     []string `json:"allow_methods"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// Route is a declared {path, method} → function binding.
type Route struct {
	Path   string     `json:"path"`
	Method string     `json:"method"`
	Target ResourceID `json:"target"`
}

// Key returns the (path, method) identity of a route.
func (r Route) Key() string {
	return strings.ToUpper(r.Method) + " " + NormalizePath(r.Path)
}

// RestAPI describes a REST surface with a single deployment stage.
type RestAPI struct {
	ID        ResourceID   `json:"id"`
	Name      string       `json:"name"`
	StageName string       `json:"stage_name"`
	Cors      *CorsPolicy  `json:"cors,omitempty"`
	Endpoint  EndpointType `json:"endpoint"`
	Routes    []Route      `json:"routes"`
}

// StageID returns the logical id of the API's deployment stage node.
func (a RestAPI) StageID() ResourceID {
	return ResourceID(fmt.Sprintf("%s/stage/%s", a.ID, a.StageName))
}

// BasePathMapping binds a domain binding to an API's deployment stage.
// An empty BasePath maps the domain root.
type BasePathMapping struct {
	ID       ResourceID `json:"id"`
	Domain   ResourceID `json:"domain"`
	API      ResourceID `json:"api"`
	BasePath string     `json:"base_path,omitempty"`
}

// Output is a named projection of a deployed resource attribute.
// Placeholder is reported when the attribute never resolved.
type Output struct {
	Name        string     `json:"name"`
	Source      ResourceID `json:"source"`
	Attr        string     `json:"attr"`
	Placeholder string     `json:"placeholder"`
}

// Topology is the full descriptor set of one stack.
type Topology struct {
	Name             string            `json:"name"`
	Tables           []StorageTable    `json:"tables,omitempty"`
	Layers           []SharedLayer     `json:"layers,omitempty"`
	Functions        []ComputeFunction `json:"functions,omitempty"`
	Zones            []HostedZoneRef   `json:"zones,omitempty"`
	Certificates     []Certificate     `json:"certificates,omitempty"`
	DomainNames      []DomainBinding   `json:"domain_names,omitempty"`
	AliasRecords     []AliasRecord     `json:"alias_records,omitempty"`
	APIs             []RestAPI         `json:"apis,omitempty"`
	BasePathMappings []BasePathMapping `json:"base_path_mappings,omitempty"`
	Outputs          []Output          `json:"outputs,omitempty"`
}

// Kinds returns the lookup table from declared id to kind.
// Later declarations of a duplicate id win; validation reports duplicates.
func (t *Topology) Kinds() map[ResourceID]Kind {
	kinds := make(map[ResourceID]Kind)
	for _, r := range t.Tables {
		kinds[r.ID] = KindTable
	}
	for _, r := range t.Layers {
		kinds[r.ID] = KindLayer
	}
	for _, r := range t.Functions {
		kinds[r.ID] = KindFunction
	}
	for _, r := range t.Zones {
		kinds[r.ID] = KindHostedZone
	}
	for _, r := range t.Certificates {
		kinds[r.ID] = KindCertificate
	}
	for _, r := range t.DomainNames {
		kinds[r.ID] = KindDomainName
	}
	for _, r := range t.AliasRecords {
		kinds[r.ID] = KindAliasRecord
	}
	for _, r := range t.APIs {
		kinds[r.ID] = KindRestAPI
	}
	for _, r := range t.BasePathMappings {
		kinds[r.ID] = KindBasePathMapping
	}
	return kinds
}

// Table returns the table with the given id.
func (t *Topology) Table(id ResourceID) (StorageTable, bool) {
	for _, r := range t.Tables {
		if r.ID == id {
			return r, true
		}
	}
	return StorageTable{}, false
}

// Function returns the function with the given id.
func (t *Topology) Function(id ResourceID) (ComputeFunction, bool) {
	for _, r := range t.Functions {
		if r.ID == id {
			return r, true
		}
	}
	return ComputeFunction{}, false
}

// Layer returns the layer with the given id.
func (t *Topology) Layer(id ResourceID) (SharedLayer, bool) {
	for _, r := range t.Layers {
		if r.ID == id {
			return r, true
		}
	}
	return SharedLayer{}, false
}

// Zone returns the hosted zone reference with the given id.
func (t *Topology) Zone(id ResourceID) (HostedZoneRef, bool) {
	for _, r := range t.Zones {
		if r.ID == id {
			return r, true
		}
	}
	return HostedZoneRef{}, false
}

// Certificate returns the certificate with the given id.
func (t *Topology) Certificate(id ResourceID) (Certificate, bool) {
	for _, r := range t.Certificates {
		if r.ID == id {
			return r, true
		}
	}
	return Certificate{}, false
}

// DomainName returns the domain binding with the given id.
func (t *Topology) DomainName(id ResourceID) (DomainBinding, bool) {
	for _, r := range t.DomainNames {
		if r.ID == id {
			return r, true
		}
	}
	return DomainBinding{}, false
}

// API returns the REST API with the given id.
func (t *Topology) API(id ResourceID) (RestAPI, bool) {
	for _, r := range t.APIs {
		if r.ID == id {
			return r, true
		}
	}
	return RestAPI{}, false
}

// Descriptor returns the descriptor declared under id, or nil.
// Derived nodes (API resources, methods, stages) have no descriptor.
func (t *Topology) Descriptor(id ResourceID) any {
	for _, r := range t.Tables {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.Layers {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.Functions {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.Zones {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.Certificates {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.DomainNames {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.AliasRecords {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.APIs {
		if r.ID == id {
			return r
		}
	}
	for _, r := range t.BasePathMappings {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// NormalizePath returns a path with a single leading slash and no
// trailing slash. The root path is "/".
func NormalizePath(p string) string {
	segments := PathSegments(p)
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// PathSegments splits a path into its non-empty segments.
func PathSegments(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
