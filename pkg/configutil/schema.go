package configutil

import (
	"errors"
	"sort"
	"strings"
)

// Schema defines required and optional keys for a settings map.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

type keyInfo struct {
	name     string
	required bool
}

// ValidateSettings validates a settings map against a schema. Keys are
// normalized to be case/underscore/hyphen insensitive. A required key
// with an empty string value counts as missing.
func ValidateSettings(input map[string]any, schema Schema) error {
	allowed := make(map[string]keyInfo, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Required {
		allowed[normalizeKey(k)] = keyInfo{name: k, required: true}
	}
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = keyInfo{name: k}
	}

	var missing, unknown []string
	seen := make(map[string]bool, len(input))
	for k, v := range input {
		nk := normalizeKey(k)
		seen[nk] = true
		info, ok := allowed[nk]
		if !ok {
			if !schema.AllowUnknown {
				unknown = append(unknown, k)
			}
			continue
		}
		if info.required && emptyValue(v) {
			missing = append(missing, info.name)
		}
	}
	for nk, info := range allowed {
		if info.required && !seen[nk] {
			missing = append(missing, info.name)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

func emptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
