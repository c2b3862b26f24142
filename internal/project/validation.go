package project

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Only allow alphanumeric characters, hyphens, and underscores
	validFunctionNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Reserved names that cannot be used
	reservedNames = map[string]bool{
		".":  true,
		"..": true,
		"_":  true,
		"-":  true,
	}
)

// ValidateFunctionName validates that a function name is safe and meets requirements
func ValidateFunctionName(name string) error {
	if name == "" {
		return fmt.Errorf("function name cannot be empty")
	}

	// Deployed names are "<project>-<function>" and providers cap them at 64
	if len(name) > 64 {
		return fmt.Errorf("function name too long (max 64 characters), got %d", len(name))
	}

	if reservedNames[name] {
		return fmt.Errorf("function name '%s' is reserved", name)
	}

	if !validFunctionNameRegex.MatchString(name) {
		return fmt.Errorf("function name must contain only letters, numbers, hyphens, and underscores (got: %s)", name)
	}

	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("function name cannot contain path separators")
	}

	return nil
}

// SplitHandler splits a handler reference such as "lib/handler.default" into
// its directory ("lib"), file ("handler") and exported method ("default").
func SplitHandler(handler string) (dir, file, method string, err error) {
	handler = strings.ReplaceAll(handler, "\\", "/")

	dot := strings.LastIndex(handler, ".")
	slash := strings.LastIndex(handler, "/")
	if dot <= slash+1 || dot == len(handler)-1 {
		return "", "", "", fmt.Errorf("invalid handler %q: expected <file>.<method>", handler)
	}

	dir = "."
	if slash >= 0 {
		dir = handler[:slash]
	}
	return dir, handler[slash+1 : dot], handler[dot+1:], nil
}
