package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/consentstack/internal/ir"
)

// marshalAttributes converts an attribute map to canonical JSON TEXT.
func marshalAttributes(attrs map[string]string) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalAttributes parses attribute JSON TEXT.
// Returns an empty (non-nil) map for empty input.
func unmarshalAttributes(data string) (map[string]string, error) {
	attrs := map[string]string{}
	if data == "" || data == "{}" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return attrs, nil
}
