package zones

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"

	"github.com/roach88/consentstack/internal/engine"
)

// HostedZonesAPI is the subset of the Route 53 client used for lookups.
type HostedZonesAPI interface {
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
}

// Route53Lookup resolves public hosted zones through Route 53.
type Route53Lookup struct {
	client HostedZonesAPI
}

// NewRoute53Lookup wraps an existing client.
func NewRoute53Lookup(client HostedZonesAPI) *Route53Lookup {
	return &Route53Lookup{client: client}
}

// NewRoute53LookupFromConfig builds a client from the default AWS
// credential chain.
func NewRoute53LookupFromConfig(ctx context.Context, region string) (*Route53Lookup, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewRoute53Lookup(route53.NewFromConfig(cfg)), nil
}

// LookupZone implements engine.ZoneLookup.
//
// ListHostedZonesByName returns zones in name order starting at the
// requested name, so only the first page can hold an exact match. Private
// zones are ignored.
func (l *Route53Lookup) LookupZone(ctx context.Context, name string) (engine.Zone, error) {
	want := fqdn(name)
	out, err := l.client.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(want),
		MaxItems: aws.Int32(10),
	})
	if err != nil {
		return engine.Zone{}, fmt.Errorf("list hosted zones by name %q: %w", name, err)
	}
	for _, z := range out.HostedZones {
		if fqdn(aws.ToString(z.Name)) != want {
			continue
		}
		if z.Config != nil && z.Config.PrivateZone {
			continue
		}
		return engine.Zone{
			ID:   strings.TrimPrefix(aws.ToString(z.Id), "/hostedzone/"),
			Name: strings.TrimSuffix(want, "."),
		}, nil
	}
	return engine.Zone{}, fmt.Errorf("%q: %w", name, engine.ErrZoneNotFound)
}

// fqdn returns the lower-cased name with exactly one trailing dot.
func fqdn(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), ".")) + "."
}
