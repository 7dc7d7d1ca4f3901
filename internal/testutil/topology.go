package testutil

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/roach88/consentstack/internal/compiler"
	"github.com/roach88/consentstack/internal/ir"
)

// CookiesTopology is the consent recording stack behind the given hosted
// zone: application domain devtest.<zone>, API domain api.devtest.<zone>.
func CookiesTopology(zone string) *ir.Topology {
	app := "devtest." + zone
	node12 := []string{"nodejs12.x", "nodejs14.x"}
	return &ir.Topology{
		Name: "CookiesConsent",
		Tables: []ir.StorageTable{{
			ID:            "CookiesConsentTable",
			TableName:     "CookiesConsent",
			PartitionKey:  ir.KeyAttribute{Name: "PK", Type: types.ScalarAttributeTypeS},
			BillingMode:   types.BillingModePayPerRequest,
			RemovalPolicy: ir.RemovalDestroy,
		}},
		Layers: []ir.SharedLayer{
			{ID: "CookiesConsentLayer", CompatibleRuntimes: node12, Code: ir.CodeRef{Asset: "src/layers/common"}},
			{ID: "utilsLayer", CompatibleRuntimes: node12, Code: ir.CodeRef{Asset: "src/layers/common"}},
		},
		Functions: []ir.ComputeFunction{
			{
				ID:      "CookiesConsentLambda",
				Handler: "createCookiesConsent.handler",
				Runtime: "nodejs12.x",
				Code:    ir.CodeRef{Asset: "src/lambdas"},
				Environment: map[string]ir.EnvValue{
					"TABLE_NAME": {Ref: "CookiesConsentTable", Attr: "name"},
				},
				Layers: []ir.ResourceID{"CookiesConsentLayer", "utilsLayer"},
				Access: []ir.AccessGrant{
					{Table: "CookiesConsentTable", Mode: ir.AccessWrite},
					{Table: "CookiesConsentTable", Mode: ir.AccessRead},
				},
			},
			{
				ID:      "getCookiesConsentLambda",
				Handler: "getCookiesConsent.handler",
				Runtime: "nodejs12.x",
				Code:    ir.CodeRef{Asset: "src/lambdas"},
				Environment: map[string]ir.EnvValue{
					"TABLE_NAME": {Ref: "CookiesConsentTable", Attr: "name"},
				},
				Access: []ir.AccessGrant{{Table: "CookiesConsentTable", Mode: ir.AccessRead}},
			},
		},
		Zones: []ir.HostedZoneRef{{ID: "HostedZone", DomainName: zone}},
		Certificates: []ir.Certificate{{
			ID:               "WildcardCertificate",
			DomainName:       "*." + app,
			AlternativeNames: []string{app},
			Zone:             "HostedZone",
			Region:           "us-east-1",
		}},
		DomainNames: []ir.DomainBinding{{
			ID:          "domain-name",
			DomainName:  "api." + app,
			Certificate: "WildcardCertificate",
			Endpoint:    ir.EndpointEdge,
		}},
		AliasRecords: []ir.AliasRecord{{
			ID:         "cookiesApi-route",
			Zone:       "HostedZone",
			RecordName: "api." + app,
			Target:     "domain-name",
		}},
		APIs: []ir.RestAPI{{
			ID:        "CookiesConsentAPI",
			Name:      "CookiesConsentAPI",
			StageName: "dev",
			Endpoint:  ir.EndpointEdge,
			Cors: &ir.CorsPolicy{
				AllowOrigins:     []string{"*"},
				AllowMethods:     []string{"*"},
				AllowCredentials: true,
			},
			Routes: []ir.Route{
				{Path: "cookiesconsent", Method: "POST", Target: "CookiesConsentLambda"},
				{Path: "getCookiesconsent", Method: "GET", Target: "getCookiesConsentLambda"},
			},
		}},
		BasePathMappings: []ir.BasePathMapping{{
			ID:     "apiMapping",
			Domain: "domain-name",
			API:    "CookiesConsentAPI",
		}},
		Outputs: []ir.Output{{
			Name:        "HTTP API URL",
			Source:      "CookiesConsentAPI",
			Attr:        "url",
			Placeholder: "Something went wrong with deploying the API",
		}},
	}
}

// CompilePlan compiles a topology and panics on build errors.
func CompilePlan(t *ir.Topology) *ir.Plan {
	res, err := compiler.Compile(t)
	if err != nil {
		panic(err)
	}
	return res.Plan
}
