package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPlan     = "consentstack/plan/v1"
	DomainResource = "consentstack/resource/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PlanHash computes the content hash of an assembled plan.
// Two plans built from identical descriptors hash identically.
func PlanHash(p *Plan) (string, error) {
	canonical, err := MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("PlanHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}

// ResourceHash computes the content hash of a single descriptor together
// with whatever derived data the orchestrator receives for it.
// The ledger compares it across applies to detect drift.
func ResourceHash(id ResourceID, kind Kind, payload any) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"id":      string(id),
		"kind":    string(kind),
		"payload": payload,
	})
	if err != nil {
		return "", fmt.Errorf("ResourceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainResource, canonical), nil
}

// MustPlanHash is like PlanHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPlanHash(p *Plan) string {
	h, err := PlanHash(p)
	if err != nil {
		panic(err)
	}
	return h
}
