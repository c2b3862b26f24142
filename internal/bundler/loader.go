package bundler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LoaderName is the base name of the generated loader module
const LoaderName = "_serverless_handler"

// LoaderHandler returns the handler that points at the loader generated for handler.
// "lib/handler.default" becomes "lib/_serverless_handler.handler".
func LoaderHandler(handler string) string {
	dir := path.Dir(strings.ReplaceAll(handler, "\\", "/"))
	return path.Join(dir, LoaderName+".handler")
}

// GenerateLoader renders a module that copies envVars into process.env and
// re-exports method from ./file as "handler"
func GenerateLoader(envVars map[string]string, file, method string) ([]byte, error) {
	if envVars == nil {
		envVars = map[string]string{}
	}

	var vars bytes.Buffer
	enc := json.NewEncoder(&vars)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(envVars); err != nil {
		return nil, fmt.Errorf("failed to encode environment variables: %w", err)
	}

	modulePath, err := json.Marshal("./" + file)
	if err != nil {
		return nil, err
	}
	methodName, err := json.Marshal(method)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("var envVars = ")
	buf.Write(bytes.TrimRight(vars.Bytes(), "\n"))
	buf.WriteString(";\n")
	buf.WriteString("for (var key in envVars) {\n")
	buf.WriteString("  process.env[key] = envVars[key];\n")
	buf.WriteString("}\n")
	fmt.Fprintf(&buf, "exports.handler = require(%s)[%s];\n", modulePath, methodName)
	return buf.Bytes(), nil
}

// WriteLoader writes the loader with extension ext next to the handler file
// inside distDir and returns its path
func WriteLoader(distDir, handlerDir, ext, file, method string, envVars map[string]string) (string, error) {
	content, err := GenerateLoader(envVars, file, method)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(distDir, filepath.FromSlash(handlerDir))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create loader directory: %w", err)
	}
	loaderPath := filepath.Join(dir, LoaderName+"."+ext)
	if err := os.WriteFile(loaderPath, content, 0600); err != nil {
		return "", fmt.Errorf("failed to write loader: %w", err)
	}
	return loaderPath, nil
}
