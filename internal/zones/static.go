package zones

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/consentstack/internal/engine"
)

// StaticLookup serves a fixed set of zones.
type StaticLookup struct {
	zones map[string]engine.Zone
}

// NewStaticLookup creates a lookup over the given zone names. Zone ids are
// derived from the name, so they are stable across runs.
func NewStaticLookup(names ...string) *StaticLookup {
	l := &StaticLookup{zones: make(map[string]engine.Zone, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := fqdn(n)
		sum := sha256.Sum256([]byte(key))
		l.zones[key] = engine.Zone{
			ID:   "Z" + strings.ToUpper(hex.EncodeToString(sum[:])[:13]),
			Name: strings.TrimSuffix(key, "."),
		}
	}
	return l
}

// ParseStaticZones splits a comma separated zone list.
func ParseStaticZones(list string) *StaticLookup {
	return NewStaticLookup(strings.Split(list, ",")...)
}

// LookupZone implements engine.ZoneLookup.
func (l *StaticLookup) LookupZone(_ context.Context, name string) (engine.Zone, error) {
	if z, ok := l.zones[fqdn(name)]; ok {
		return z, nil
	}
	return engine.Zone{}, fmt.Errorf("%q: %w", name, engine.ErrZoneNotFound)
}

// Names returns the served zone names, sorted.
func (l *StaticLookup) Names() []string {
	names := make([]string, 0, len(l.zones))
	for _, z := range l.zones {
		names = append(names, z.Name)
	}
	sort.Strings(names)
	return names
}
