// Package zones resolves hosted zone references by domain name.
//
// Zones are never created by a deployment; they must already exist.
// Route53Lookup queries the DNS provider through the narrow HostedZonesAPI
// interface, and StaticLookup serves a fixed set of zones for local
// deployments and tests. Both return errors wrapping engine.ErrZoneNotFound
// on a miss.
package zones
