package runner

import (
	"sort"
	"strings"
)

// buildEnv creates the environment variable list for the child.
// Function variables come first, the parent environment overrides them, and
// NODE_PATH is applied last when modulesPath is set.
func buildEnv(envVars map[string]string, parent []string, modulesPath string) []string {
	merged := make(map[string]string, len(envVars)+len(parent)+1)
	for key, value := range envVars {
		merged[key] = value
	}

	for _, e := range parent {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		merged[parts[0]] = parts[1]
	}

	if modulesPath != "" {
		merged["NODE_PATH"] = modulesPath
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env
}
