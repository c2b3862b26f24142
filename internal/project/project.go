// Package project models the serverless project layout the runtime operates on:
// the project file, stage/region variables, and function descriptors.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	// ProjectFile is the project descriptor at the project root
	ProjectFile = "s-project.json"

	// FunctionFile is the function descriptor inside every function directory
	FunctionFile = "s-function.json"

	// VariablesDir holds the stage/region variable files, relative to the project root
	VariablesDir = "_meta/variables"
)

// ErrNotAProject is returned when no project file can be found
var ErrNotAProject = errors.New("not a serverless project (s-project.json not found)")

// Project is a loaded serverless project
type Project struct {
	Name   string                 `json:"name"`
	Custom map[string]interface{} `json:"custom,omitempty"`

	rootPath string
}

// Load reads the project descriptor from rootPath
func Load(rootPath string) (*Project, error) {
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(absRoot, ProjectFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAProject
		}
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ProjectFile, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("invalid %s: name is required", ProjectFile)
	}
	p.rootPath = absRoot

	log.Debug().Str("project", p.Name).Str("root", absRoot).Msg("Project loaded")

	return &p, nil
}

// Find walks up from dir until it finds a project file and loads it
func Find(dir string) (*Project, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(current, ProjectFile)); err == nil {
			return Load(current)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotAProject
		}
		current = parent
	}
}

// RootPath joins elem onto the project root
func (p *Project) RootPath(elem ...string) string {
	return filepath.Join(append([]string{p.rootPath}, elem...)...)
}

// Variables returns the merged variables for a stage and region.
// Files are applied in order common, stage, stage-region; later files win.
// stage and region are always set.
func (p *Project) Variables(stage, region string) (map[string]string, error) {
	vars := make(map[string]string)

	files := []string{"s-variables-common.json"}
	if stage != "" {
		files = append(files, fmt.Sprintf("s-variables-%s.json", stage))
		if region != "" {
			files = append(files, fmt.Sprintf("s-variables-%s-%s.json", stage, region))
		}
	}

	for _, name := range files {
		path := p.RootPath(VariablesDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read variables file %s: %w", name, err)
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid variables file %s: %w", name, err)
		}
		for key, value := range raw {
			vars[key] = stringify(value)
		}
	}

	if stage != "" {
		vars["stage"] = stage
	}
	if region != "" {
		vars["region"] = region
	}

	return vars, nil
}

// stringify renders a decoded JSON value the way it would appear in an env var
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
