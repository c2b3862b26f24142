package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultRuntime is used when a descriptor does not name one
	DefaultRuntime = "babel"

	// DefaultTimeoutSeconds mirrors the provider default for new functions
	DefaultTimeoutSeconds = 6

	// DefaultMemorySizeMB mirrors the provider default for new functions
	DefaultMemorySizeMB = 1024
)

// descriptor is the typed view of s-function.json
type descriptor struct {
	Name        string                 `json:"name"`
	CustomName  string                 `json:"customName,omitempty"`
	Runtime     string                 `json:"runtime"`
	Handler     string                 `json:"handler"`
	Timeout     int                    `json:"timeout"`
	MemorySize  int                    `json:"memorySize"`
	Environment map[string]string      `json:"environment,omitempty"`
	Package     *packageConfig         `json:"package,omitempty"`
	Custom      map[string]interface{} `json:"custom,omitempty"`
}

type packageConfig struct {
	ExcludePatterns []string `json:"excludePatterns,omitempty"`
}

// Function is a function directory inside a project
type Function struct {
	desc     descriptor
	extra    map[string]json.RawMessage // fields this package does not model, kept across Save
	project  *Project
	rootPath string
}

// NewFunction creates an unsaved function rooted at dir with default settings
func NewFunction(p *Project, dir, name string) (*Function, error) {
	if err := ValidateFunctionName(name); err != nil {
		return nil, err
	}

	root, err := functionRoot(p, dir)
	if err != nil {
		return nil, err
	}

	return &Function{
		desc: descriptor{
			Name:        name,
			Runtime:     DefaultRuntime,
			Timeout:     DefaultTimeoutSeconds,
			MemorySize:  DefaultMemorySizeMB,
			Environment: map[string]string{},
			Custom:      map[string]interface{}{},
		},
		extra:    map[string]json.RawMessage{},
		project:  p,
		rootPath: root,
	}, nil
}

// LoadFunction reads the function descriptor from dir.
// A relative dir is resolved against the project root.
func LoadFunction(p *Project, dir string) (*Function, error) {
	root, err := functionRoot(p, dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(root, FunctionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("function descriptor not found: %s", filepath.Join(root, FunctionFile))
		}
		return nil, fmt.Errorf("failed to read function descriptor: %w", err)
	}

	fn := &Function{project: p, rootPath: root}
	if err := json.Unmarshal(data, &fn.desc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FunctionFile, err)
	}
	if err := json.Unmarshal(data, &fn.extra); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FunctionFile, err)
	}
	for _, known := range []string{"name", "customName", "runtime", "handler", "timeout", "memorySize", "environment", "package", "custom"} {
		delete(fn.extra, known)
	}

	if err := ValidateFunctionName(fn.desc.Name); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FunctionFile, err)
	}
	if fn.desc.Runtime == "" {
		fn.desc.Runtime = DefaultRuntime
	}
	if fn.desc.Timeout <= 0 {
		fn.desc.Timeout = DefaultTimeoutSeconds
	}
	if fn.desc.MemorySize <= 0 {
		fn.desc.MemorySize = DefaultMemorySizeMB
	}

	return fn, nil
}

func functionRoot(p *Project, dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		dir = p.RootPath(dir)
	}
	root := filepath.Clean(dir)

	rel, err := filepath.Rel(p.RootPath(), root)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("function directory %s is outside the project", dir)
	}
	return root, nil
}

// Name returns the function name
func (f *Function) Name() string {
	return f.desc.Name
}

// Runtime returns the runtime name the function is built with
func (f *Function) Runtime() string {
	return f.desc.Runtime
}

// Handler returns the handler reference, e.g. "handler.default"
func (f *Function) Handler() string {
	return f.desc.Handler
}

// SetHandler replaces the handler reference
func (f *Function) SetHandler(handler string) {
	f.desc.Handler = handler
}

// Timeout returns the configured execution timeout
func (f *Function) Timeout() time.Duration {
	return time.Duration(f.desc.Timeout) * time.Second
}

// MemorySize returns the configured memory size in MB
func (f *Function) MemorySize() int {
	return f.desc.MemorySize
}

// ExcludePatterns returns the package exclude patterns
func (f *Function) ExcludePatterns() []string {
	if f.desc.Package == nil {
		return nil
	}
	return f.desc.Package.ExcludePatterns
}

// RuntimeOptions returns the custom.runtime section of the descriptor
func (f *Function) RuntimeOptions() map[string]interface{} {
	if f.desc.Custom == nil {
		return nil
	}
	opts, _ := f.desc.Custom["runtime"].(map[string]interface{})
	return opts
}

// RootPath joins elem onto the function directory
func (f *Function) RootPath(elem ...string) string {
	return filepath.Join(append([]string{f.rootPath}, elem...)...)
}

// ProjectPath joins elem onto the project root
func (f *Function) ProjectPath(elem ...string) string {
	return f.project.RootPath(elem...)
}

// ProjectName returns the name of the owning project
func (f *Function) ProjectName() string {
	return f.project.Name
}

// DeployedName returns the name the function is deployed under.
// customName is populated with the project variables plus stage, region,
// project and name; otherwise the name is "<project>-<function>".
func (f *Function) DeployedName(stage, region string) string {
	if f.desc.CustomName == "" {
		return f.project.Name + "-" + f.desc.Name
	}

	vars, err := f.project.Variables(stage, region)
	if err != nil {
		log.Warn().Err(err).Str("function", f.desc.Name).Msg("Could not load variables for customName")
		vars = map[string]string{}
	}
	vars["stage"] = stage
	vars["region"] = region
	vars["project"] = f.project.Name
	vars["name"] = f.desc.Name

	name, err := Populate(f.desc.CustomName, vars)
	if err != nil {
		log.Warn().Err(err).Str("function", f.desc.Name).Msg("Could not populate customName, using it verbatim")
		return f.desc.CustomName
	}
	return name
}

// EnvVars resolves the environment variables for a stage and region.
// The SERVERLESS_* variables are set first and the function environment is
// applied over them.
func (f *Function) EnvVars(stage, region string) (map[string]string, error) {
	vars, err := f.project.Variables(stage, region)
	if err != nil {
		return nil, err
	}

	env := map[string]string{
		"SERVERLESS_PROJECT":          f.project.Name,
		"SERVERLESS_STAGE":            stage,
		"SERVERLESS_REGION":           region,
		"SERVERLESS_DATA_MODEL_STAGE": stage,
		"SERVERLESS_FUNCTION_NAME":    f.desc.Name,
	}
	if dataModelStage, ok := vars["dataModelStage"]; ok && dataModelStage != "" {
		env["SERVERLESS_DATA_MODEL_STAGE"] = dataModelStage
	}

	keys := make([]string, 0, len(f.desc.Environment))
	for key := range f.desc.Environment {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value, err := Populate(f.desc.Environment[key], vars)
		if err != nil {
			return nil, fmt.Errorf("function %s: environment %s: %w", f.desc.Name, key, err)
		}
		env[key] = value
	}

	return env, nil
}

// Save writes the descriptor back to s-function.json
func (f *Function) Save() error {
	out := make(map[string]interface{}, len(f.extra)+9)
	for key, value := range f.extra {
		out[key] = value
	}

	typed, err := json.Marshal(f.desc)
	if err != nil {
		return fmt.Errorf("failed to encode function descriptor: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &fields); err != nil {
		return fmt.Errorf("failed to encode function descriptor: %w", err)
	}
	for key, value := range fields {
		out[key] = value
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode function descriptor: %w", err)
	}

	if err := os.MkdirAll(f.rootPath, 0755); err != nil {
		return fmt.Errorf("failed to create function directory: %w", err)
	}
	if err := os.WriteFile(f.RootPath(FunctionFile), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write function descriptor: %w", err)
	}

	log.Debug().Str("function", f.desc.Name).Str("path", f.RootPath(FunctionFile)).Msg("Function descriptor saved")

	return nil
}
