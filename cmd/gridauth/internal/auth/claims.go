package auth

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ExtractGroups reads a group claim that is either a flat string array
// (["Readers"]) or an array of objects ([{"name": "Readers"}]) with claimPath naming
// the member field. A missing claim yields no groups.
func ExtractGroups(claims map[string]any, claimField string, claimPath string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok || rawValue == nil {
		return []string{}, nil
	}

	if groups, ok := rawValue.([]any); ok {
		result := make([]string, 0, len(groups))
		for _, g := range groups {
			if str, ok := g.(string); ok {
				result = append(result, str)
			}
		}
		if len(result) > 0 || len(groups) == 0 {
			return result, nil
		}
	}
	if groups, ok := rawValue.([]string); ok {
		return groups, nil
	}

	if claimPath == "" {
		return nil, fmt.Errorf("claim %s: expected []string or []object with a path", claimField)
	}

	var objects []map[string]any
	if err := mapstructure.Decode(rawValue, &objects); err != nil {
		return nil, fmt.Errorf("claim %s: decode nested groups: %w", claimField, err)
	}
	result := make([]string, 0, len(objects))
	for _, obj := range objects {
		if val, ok := obj[claimPath].(string); ok {
			result = append(result, val)
		}
	}
	return result, nil
}

// ExtractClaimString returns a non-empty string claim.
func ExtractClaimString(claims map[string]any, claimField string) (string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		return "", fmt.Errorf("claim field %s not found", claimField)
	}

	value, ok := rawValue.(string)
	if !ok {
		return "", fmt.Errorf("claim field %s is not a string", claimField)
	}
	if value == "" {
		return "", fmt.Errorf("claim field %s is empty", claimField)
	}
	return value, nil
}

// ExtractUsername reads the configured username claim, falling back to "sub".
func ExtractUsername(claims map[string]any, claimField string) (string, error) {
	if claimField != "" {
		if name, err := ExtractClaimString(claims, claimField); err == nil {
			return name, nil
		}
	}
	return ExtractClaimString(claims, "sub")
}
