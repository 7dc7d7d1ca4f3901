package compiler

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/roach88/consentstack/internal/ir"
)

// cookiesTopology mirrors stacks/cookiesconsent with the zone example.com.
func cookiesTopology() *ir.Topology {
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
		Zones: []ir.HostedZoneRef{{ID: "HostedZone", DomainName: "example.com"}},
		Certificates: []ir.Certificate{{
			ID:               "WildcardCertificate",
			DomainName:       "*.devtest.example.com",
			AlternativeNames: []string{"devtest.example.com"},
			Zone:             "HostedZone",
			Region:           "us-east-1",
		}},
		DomainNames: []ir.DomainBinding{{
			ID:          "domain-name",
			DomainName:  "api.devtest.example.com",
			Certificate: "WildcardCertificate",
			Endpoint:    ir.EndpointEdge,
		}},
		AliasRecords: []ir.AliasRecord{{
			ID:         "cookiesApi-route",
			Zone:       "HostedZone",
			RecordName: "api.devtest.example.com",
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

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}
