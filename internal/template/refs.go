package template

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/roach88/consentstack/internal/ir"
)

// LogicalID converts a plan id into a template logical id.
//
// Template ids are alphanumeric: separators are dropped and the following
// letter is upper-cased. An id that had to change gets an 8 character hash
// suffix so two plan ids can never collide.
func LogicalID(id ir.ResourceID) string {
	var b strings.Builder
	upper := true
	for _, r := range string(id) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == string(id) {
		return out
	}
	sum := sha256.Sum256([]byte(id))
	return out + strings.ToUpper(hex.EncodeToString(sum[:4]))
}

func ref(logical string) map[string]any {
	return map[string]any{"Ref": logical}
}

func getAtt(logical, attr string) map[string]any {
	return map[string]any{"Fn::GetAtt": []string{logical, attr}}
}

// quoteList renders a header value the way API Gateway expects it.
func quoteList(items []string) string {
	return "'" + strings.Join(items, ",") + "'"
}

// value converts a string that may hold plan tokens into a template value.
// Strings without tokens stay literal; anything else becomes Fn::Sub.
func (r *renderer) value(s string) any {
	if !strings.Contains(s, "${") {
		return s
	}
	return map[string]any{"Fn::Sub": ir.ExpandTokens(s, r.subExpr)}
}

// subExpr returns the Fn::Sub fragment for one plan attribute.
func (r *renderer) subExpr(id ir.ResourceID, attr string) (string, bool) {
	logical := LogicalID(id)
	switch r.kinds[id] {
	case ir.KindHostedZone:
		return fmt.Sprintf("${%s}", logical), true
	case ir.KindTable, ir.KindFunction:
		if attr == "name" {
			return fmt.Sprintf("${%s}", logical), true
		}
		return fmt.Sprintf("${%s.Arn}", logical), true
	case ir.KindLayer, ir.KindCertificate:
		return fmt.Sprintf("${%s}", logical), true
	case ir.KindDomainName:
		return r.domainExpr(id, attr), true
	case ir.KindRestAPI:
		switch attr {
		case "execute_arn":
			return fmt.Sprintf("arn:${AWS::Partition}:execute-api:${AWS::Region}:${AWS::AccountId}:${%s}", logical), true
		case "root_resource_id":
			return fmt.Sprintf("${%s.RootResourceId}", logical), true
		}
		return fmt.Sprintf("${%s}", logical), true
	case ir.KindStage:
		s := r.surface(id)
		return fmt.Sprintf("https://${%s}.execute-api.${AWS::Region}.${AWS::URLSuffix}/%s/", LogicalID(s.API), s.StageName), true
	}
	return "", false
}

func (r *renderer) domainExpr(id ir.ResourceID, attr string) string {
	logical := LogicalID(id)
	d, _ := r.plan.Topology.DomainName(id)
	edge := d.Endpoint == ir.EndpointEdge
	switch {
	case attr == "target_domain" && edge:
		return fmt.Sprintf("${%s.DistributionDomainName}", logical)
	case attr == "target_domain":
		return fmt.Sprintf("${%s.RegionalDomainName}", logical)
	case attr == "hosted_zone_id" && edge:
		return fmt.Sprintf("${%s.DistributionHostedZoneId}", logical)
	case attr == "hosted_zone_id":
		return fmt.Sprintf("${%s.RegionalHostedZoneId}", logical)
	}
	return fmt.Sprintf("${%s}", logical)
}
