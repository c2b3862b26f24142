package bundler

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// metafile is the subset of the esbuild metafile read for size reports
type metafile struct {
	Inputs  map[string]metafileInput  `json:"inputs"`
	Outputs map[string]metafileOutput `json:"outputs"`
}

type metafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []metafileImport `json:"imports"`
}

type metafileImport struct {
	Path     string `json:"path"`
	External bool   `json:"external,omitempty"`
}

type metafileOutput struct {
	Bytes   int                     `json:"bytes"`
	Inputs  map[string]inputContrib `json:"inputs"`
	Imports []metafileImport        `json:"imports"`
}

type inputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// Analysis describes what went into a bundle
type Analysis struct {
	Function        string          `json:"function" yaml:"function"`
	TotalBytes      int             `json:"total_bytes" yaml:"total_bytes"`
	Inputs          []InputAnalysis `json:"inputs" yaml:"inputs"`
	ExternalImports []string        `json:"external_imports,omitempty" yaml:"external_imports,omitempty"`
}

// InputAnalysis is one source file's share of the bundle
type InputAnalysis struct {
	Path          string  `json:"path" yaml:"path"`
	Bytes         int     `json:"bytes" yaml:"bytes"`
	BytesInOutput int     `json:"bytes_in_output" yaml:"bytes_in_output"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
}

// analyze reads an esbuild metafile. Input paths are shown relative to distDir.
func analyze(raw, function, distDir string) (*Analysis, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}

	result := &Analysis{Function: function}
	external := map[string]bool{}

	for _, output := range meta.Outputs {
		// Source maps are separate outputs without inputs
		if len(output.Inputs) == 0 {
			continue
		}
		result.TotalBytes = output.Bytes

		for _, imp := range output.Imports {
			if imp.External {
				external[imp.Path] = true
			}
		}

		for inputPath, contrib := range output.Inputs {
			info, ok := meta.Inputs[inputPath]
			if !ok {
				continue
			}

			percentage := 0.0
			if result.TotalBytes > 0 {
				percentage = float64(contrib.BytesInOutput) / float64(result.TotalBytes) * 100
			}
			result.Inputs = append(result.Inputs, InputAnalysis{
				Path:          displayPath(inputPath, distDir),
				Bytes:         info.Bytes,
				BytesInOutput: contrib.BytesInOutput,
				Percentage:    percentage,
			})
		}
		break
	}

	sort.Slice(result.Inputs, func(i, j int) bool {
		if result.Inputs[i].BytesInOutput != result.Inputs[j].BytesInOutput {
			return result.Inputs[i].BytesInOutput > result.Inputs[j].BytesInOutput
		}
		return result.Inputs[i].Path < result.Inputs[j].Path
	})
	for path := range external {
		result.ExternalImports = append(result.ExternalImports, path)
	}
	sort.Strings(result.ExternalImports)

	return result, nil
}

func displayPath(inputPath, distDir string) string {
	if idx := strings.Index(inputPath, ":"); idx > 0 && !filepath.IsAbs(inputPath) {
		// Namespaced inputs such as "ignored:fs"
		return "<" + inputPath + ">"
	}
	if filepath.IsAbs(inputPath) {
		if rel, err := filepath.Rel(distDir, inputPath); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(inputPath)
}

// DisplayAnalysis prints a size breakdown, limited to the ten largest inputs
// unless showAll is set
func DisplayAnalysis(w io.Writer, a *Analysis, showAll bool) {
	_, _ = fmt.Fprintf(w, "\n=== Bundle Analysis: %s ===\n", a.Function)
	_, _ = fmt.Fprintf(w, "Total bundle size: %s\n", formatBytesHuman(a.TotalBytes))

	if len(a.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal imports (resolved at runtime):")
		for _, imp := range a.ExternalImports {
			_, _ = fmt.Fprintf(w, "  - %s\n", imp)
		}
	}

	if len(a.Inputs) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")

		maxFiles := 10
		if showAll {
			maxFiles = len(a.Inputs)
		}

		width := 0
		for i, input := range a.Inputs {
			if i >= maxFiles {
				break
			}
			if len(input.Path) > width {
				width = len(input.Path)
			}
		}

		for i, input := range a.Inputs {
			if i >= maxFiles {
				_, _ = fmt.Fprintf(w, "  ... and %d more files\n", len(a.Inputs)-maxFiles)
				break
			}
			_, _ = fmt.Fprintf(w, "  %-*s  %8s  %5.1f%%\n", width, input.Path, formatBytesHuman(input.BytesInOutput), input.Percentage)
		}
	}
	_, _ = fmt.Fprintln(w)
}

func formatBytesHuman(bytes int) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := int64(bytes) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
