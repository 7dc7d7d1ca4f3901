package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/consentstack/internal/ir"
)

const (
	// IntegrationProxy forwards the whole request to the function.
	IntegrationProxy = "AWS_PROXY"

	// InvokePrincipal is the service principal allowed to invoke functions.
	InvokePrincipal = "apigateway.amazonaws.com"

	// InvokeAction is the action granted by an invoke permission.
	InvokeAction = "lambda:InvokeFunction"
)

// ResourceNodeID returns the node id of the API resource at path.
// The root path is the API itself.
func ResourceNodeID(api ir.ResourceID, path string) ir.ResourceID {
	segments := ir.PathSegments(path)
	if len(segments) == 0 {
		return api
	}
	return ir.ResourceID(fmt.Sprintf("%s/resource/%s", api, strings.Join(segments, "/")))
}

// MethodNodeID returns the node id of the method binding for (path, method).
func MethodNodeID(api ir.ResourceID, path, method string) ir.ResourceID {
	id := fmt.Sprintf("%s/method/%s", api, strings.ToUpper(method))
	if segments := ir.PathSegments(path); len(segments) > 0 {
		id += "/" + strings.Join(segments, "/")
	}
	return ir.ResourceID(id)
}

// CompileAPI maps a validated route table onto a single API root.
//
// Every distinct path (and each of its ancestors) becomes one resource
// node; each (path, method) pair becomes one method binding with a proxy
// integration to its target function. The cross-origin policy is attached
// to the root only.
func CompileAPI(a ir.RestAPI) ir.APISurface {
	s := ir.APISurface{
		API:       a.ID,
		Stage:     a.StageID(),
		StageName: a.StageName,
		Endpoint:  a.Endpoint,
		Root: ir.APIResource{
			ID:   a.ID,
			Path: "/",
			Cors: a.Cors,
		},
		Resources:   []ir.APIResource{},
		Methods:     []ir.APIMethod{},
		Permissions: []ir.InvokePermission{},
	}

	paths := make(map[string]bool)
	for _, r := range a.Routes {
		segments := ir.PathSegments(r.Path)
		for i := 1; i <= len(segments); i++ {
			paths["/"+strings.Join(segments[:i], "/")] = true
		}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	for _, p := range sorted {
		segments := ir.PathSegments(p)
		parent := "/" + strings.Join(segments[:len(segments)-1], "/")
		s.Resources = append(s.Resources, ir.APIResource{
			ID:       ResourceNodeID(a.ID, p),
			Path:     p,
			PathPart: segments[len(segments)-1],
			Parent:   ResourceNodeID(a.ID, parent),
		})
	}

	routes := append([]ir.Route(nil), a.Routes...)
	sort.Slice(routes, func(i, j int) bool { return routes[i].Key() < routes[j].Key() })
	for _, r := range routes {
		path := ir.NormalizePath(r.Path)
		method := strings.ToUpper(r.Method)
		s.Methods = append(s.Methods, ir.APIMethod{
			ID:          MethodNodeID(a.ID, path, method),
			Resource:    ResourceNodeID(a.ID, path),
			Path:        path,
			Method:      method,
			Function:    r.Target,
			Integration: IntegrationProxy,
		})
		s.Permissions = append(s.Permissions, invokePermission(a, r.Target, method, path))
	}
	return s
}

// invokePermission scopes the API principal to one stage, method and path.
func invokePermission(a ir.RestAPI, fn ir.ResourceID, method, path string) ir.InvokePermission {
	arnMethod := method
	if method == "ANY" {
		arnMethod = "*"
	}
	sid := fmt.Sprintf("%s-%s-%s", a.ID, method, strings.Join(ir.PathSegments(path), "-"))
	return ir.InvokePermission{
		Sid:       strings.TrimSuffix(sid, "-") + "-invoke",
		Function:  fn,
		Principal: InvokePrincipal,
		Action:    InvokeAction,
		SourceArn: fmt.Sprintf("%s/%s/%s%s", ir.Token(a.ID, "execute_arn"), a.StageName, arnMethod, path),
	}
}
