package project

import (
	"fmt"
	"regexp"
)

// templatePattern matches ${name} references in descriptor values
var templatePattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Populate replaces every ${name} reference in s with its value from vars.
// A reference without a value is an error.
func Populate(s string, vars map[string]string) (string, error) {
	var missing string
	out := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := templatePattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", fmt.Errorf("variable %q is not defined", missing)
	}
	return out, nil
}
