// Package bundler turns a function directory into a deployable bundle with esbuild.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// BundleFile is the name of the bundle written to the dist directory
const BundleFile = "bundle.js"

// defaultResolveExtensions are esbuild's own defaults, kept when extensions are added
var defaultResolveExtensions = []string{".tsx", ".ts", ".jsx", ".js", ".css", ".json"}

// PackagedPath is one file or directory that goes into the deployment package
type PackagedPath struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// Job describes one function build
type Job struct {
	// Name is the function name, used for the dist directory
	Name string
	// Root is the function directory being built
	Root string
	// ProjectRoot is searched for node_modules in addition to Root
	ProjectRoot string
	// HandlerDir, HandlerFile and HandlerMethod are the parts of the handler,
	// e.g. "lib", "handler" and "default" for "lib/handler.default"
	HandlerDir    string
	HandlerFile   string
	HandlerMethod string
	// EnvVars are written into the loader
	EnvVars         map[string]string
	ExcludePatterns []string
	Options         *Options
	// DistRoot is where dist directories are created; empty means the OS temp dir
	DistRoot string
	// ModulesPath is an extra node_modules directory to resolve from
	ModulesPath string
	// DefaultTarget applies when the transpile options name neither a target nor presets
	DefaultTarget string
}

// Output is the result of a build
type Output struct {
	DistDir  string
	Paths    []PackagedPath
	Analysis *Analysis
	Warnings []string
}

// EntryName is the slash-separated entry of a build relative to the dist directory
func (j *Job) EntryName() string {
	return path.Join(j.HandlerDir, LoaderName+"."+j.Options.HandlerExt)
}

// Bundle copies the function into a new dist directory, writes the loader and
// bundles it into <dist>/bundle.js
func Bundle(ctx context.Context, job *Job) (*Output, error) {
	if job.Options == nil {
		opts, err := ResolveOptions(nil)
		if err != nil {
			return nil, err
		}
		job.Options = opts
	}
	opts := job.Options

	distDir, err := CreateDistDir(job.DistRoot, job.Name)
	if err != nil {
		return nil, err
	}
	if err := CopyFunction(job.Root, distDir, job.ExcludePatterns); err != nil {
		return nil, err
	}

	if _, err := WriteLoader(distDir, job.HandlerDir, opts.HandlerExt, job.HandlerFile, job.HandlerMethod, job.EnvVars); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := filepath.Join(distDir, filepath.FromSlash(job.EntryName()))
	bundlePath := filepath.Join(distDir, BundleFile)

	buildOpts := api.BuildOptions{
		EntryPoints:   []string{entry},
		Outfile:       bundlePath,
		Bundle:        true,
		Write:         false,
		Metafile:      true,
		Format:        api.FormatIIFE,
		GlobalName:    opts.Standalone,
		Platform:      api.PlatformNode,
		AbsWorkingDir: distDir,
		LogLevel:      api.LogLevelSilent,
		Footer: map[string]string{
			"js": standaloneFooter(opts.Standalone),
		},
	}
	if opts.Sourcemap {
		buildOpts.Sourcemap = api.SourceMapLinked
	}
	configureResolution(&buildOpts, opts, nodePaths(job.Root, job.ProjectRoot, job.ModulesPath))

	b := &Build{Options: &buildOpts, EnvVars: job.EnvVars, DefaultTarget: job.DefaultTarget}
	if err := b.apply("transform", opts.Transforms); err != nil {
		return nil, err
	}
	if err := b.apply("plugin", opts.Plugins); err != nil {
		return nil, err
	}
	if len(opts.Requires) > 0 {
		buildOpts.Plugins = append(buildOpts.Plugins, requiresPlugin(entry, opts.Requires))
	}

	log.Debug().
		Str("function", job.Name).
		Str("entry", entry).
		Str("dist", distDir).
		Bool("minify", opts.MinifyEnabled()).
		Msg("Bundling function")

	result := api.Build(buildOpts)
	if err := buildErrors(result.Errors); err != nil {
		return nil, fmt.Errorf("failed to bundle %s: %w", job.Name, err)
	}

	for _, file := range result.OutputFiles {
		if err := os.WriteFile(file.Path, file.Contents, 0600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	out := &Output{
		DistDir:  distDir,
		Paths:    []PackagedPath{{Name: job.EntryName(), Path: bundlePath}},
		Warnings: messages(result.Warnings),
	}
	for _, include := range opts.IncludePaths {
		out.Paths = append(out.Paths, PackagedPath{
			Name: include,
			Path: filepath.Join(distDir, filepath.FromSlash(include)),
		})
	}

	analysis, err := analyze(result.Metafile, job.Name, distDir)
	if err != nil {
		log.Warn().Err(err).Str("function", job.Name).Msg("Failed to analyze bundle")
	} else {
		out.Analysis = analysis
	}

	log.Info().
		Str("function", job.Name).
		Str("bundle", bundlePath).
		Int("warnings", len(out.Warnings)).
		Msg("Function bundled")

	return out, nil
}

// standaloneFooter exports the bundle's global as the module when loaded with require
func standaloneFooter(name string) string {
	return fmt.Sprintf("if (typeof module !== \"undefined\" && module.exports) { module.exports = %s; }", name)
}

// nodePaths lists the node_modules directories to resolve bare imports from
func nodePaths(root, projectRoot, modulesPath string) []string {
	paths := []string{filepath.Join(root, "node_modules")}
	if projectRoot != "" && projectRoot != root {
		paths = append(paths, filepath.Join(projectRoot, "node_modules"))
	}
	if modulesPath != "" {
		paths = append(paths, modulesPath)
	}
	return paths
}

// configureResolution applies the exclude, ignore and extensions settings
func configureResolution(buildOpts *api.BuildOptions, opts *Options, paths []string) {
	buildOpts.NodePaths = paths
	buildOpts.External = append(buildOpts.External, opts.Exclude...)
	if len(opts.Extensions) > 0 {
		exts := append([]string{}, defaultResolveExtensions...)
		for _, ext := range opts.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
		buildOpts.ResolveExtensions = exts
	}
	if len(opts.Ignore) > 0 {
		buildOpts.Plugins = append(buildOpts.Plugins, ignorePlugin(opts.Ignore))
	}
}

const ignoredNamespace = "ignored"

// ignorePlugin replaces the named modules with an empty module
func ignorePlugin(modules []string) api.Plugin {
	quoted := make([]string, len(modules))
	for i, m := range modules {
		quoted[i] = regexp.QuoteMeta(m)
	}
	filter := "^(" + strings.Join(quoted, "|") + ")$"

	return api.Plugin{
		Name: "ignore",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: filter},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      args.Path,
						Namespace: ignoredNamespace,
					}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: ignoredNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents := "module.exports = {};"
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
				})
		},
	}
}

// requiresPlugin appends a require call for each module to the entry
func requiresPlugin(entry string, requires []Item) api.Plugin {
	return api.Plugin{
		Name: "requires",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: "^" + regexp.QuoteMeta(entry) + "$"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					source, err := os.ReadFile(args.Path) //nolint:gosec // entry is the generated loader
					if err != nil {
						return api.OnLoadResult{}, err
					}

					var sb strings.Builder
					sb.Write(source)
					for _, req := range requires {
						fmt.Fprintf(&sb, "\nrequire(%q);", req.Name)
					}
					sb.WriteString("\n")

					contents := sb.String()
					return api.OnLoadResult{
						Contents:   &contents,
						ResolveDir: filepath.Dir(args.Path),
						Loader:     loaderFor(args.Path),
					}, nil
				})
		},
	}
}

func loaderFor(file string) api.Loader {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".ts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

// buildErrors joins every esbuild error into one error
func buildErrors(msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(msgs))
	for _, text := range messages(msgs) {
		errs = append(errs, errors.New(text))
	}
	return errors.Join(errs...)
}

func messages(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			out = append(out, fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
			continue
		}
		out = append(out, msg.Text)
	}
	return out
}
