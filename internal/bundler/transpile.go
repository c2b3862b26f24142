package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// TranspileJob describes transpiling a handler for a local run
type TranspileJob struct {
	// Root is the function directory
	Root string
	// ProjectRoot is searched for node_modules in addition to Root
	ProjectRoot string
	// Source is the handler source relative to Root, e.g. "lib/handler.js"
	Source string
	// OutDir receives the transpiled module at the same relative path with a .js extension
	OutDir      string
	Options     *Options
	EnvVars     map[string]string
	ModulesPath string
	// DefaultTarget applies when the transpile options name neither a target nor presets
	DefaultTarget string
}

// Transpile bundles the handler source into a CommonJS module with an inline
// source map so node can require it directly. Only transforms are applied;
// plugins such as minify are build concerns.
func Transpile(ctx context.Context, job *TranspileJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	opts := job.Options
	if opts == nil {
		resolved, err := ResolveOptions(nil)
		if err != nil {
			return "", err
		}
		opts = resolved
	}

	entry := filepath.Join(job.Root, filepath.FromSlash(job.Source))
	if _, err := os.Stat(entry); err != nil {
		return "", fmt.Errorf("handler source not found: %w", err)
	}

	rel := strings.TrimSuffix(filepath.FromSlash(job.Source), filepath.Ext(job.Source)) + ".js"
	outfile := filepath.Join(job.OutDir, rel)

	buildOpts := api.BuildOptions{
		EntryPoints:   []string{entry},
		Outfile:       outfile,
		Bundle:        true,
		Write:         true,
		Format:        api.FormatCommonJS,
		Platform:      api.PlatformNode,
		Sourcemap:     api.SourceMapInline,
		AbsWorkingDir: job.Root,
		LogLevel:      api.LogLevelSilent,
	}
	configureResolution(&buildOpts, opts, nodePaths(job.Root, job.ProjectRoot, job.ModulesPath))

	b := &Build{Options: &buildOpts, EnvVars: job.EnvVars, DefaultTarget: job.DefaultTarget}
	if err := b.apply("transform", opts.Transforms); err != nil {
		return "", err
	}

	result := api.Build(buildOpts)
	if err := buildErrors(result.Errors); err != nil {
		return "", fmt.Errorf("failed to transpile %s: %w", job.Source, err)
	}
	for _, warning := range messages(result.Warnings) {
		log.Warn().Str("source", job.Source).Msg(warning)
	}

	log.Debug().Str("source", entry).Str("out", outfile).Msg("Transpiled handler")
	return outfile, nil
}
