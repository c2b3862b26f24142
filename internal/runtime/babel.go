package runtime

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/runtime-babel/internal/bundler"
	"github.com/fluxbase-eu/runtime-babel/internal/project"
	"github.com/fluxbase-eu/runtime-babel/internal/runner"
)

const (
	// BabelName is the name the babel runtime is registered under
	BabelName = "babel"

	// DefaultHandler is the handler set on scaffolded functions
	DefaultHandler = "handler.default"

	// EventFile holds the event passed to local runs
	EventFile = "event.json"

	// HandlerFile is the scaffolded handler source
	HandlerFile = "handler.js"

	installRule = "-----------------"
)

//go:embed templates/handler.js
var handlerTemplate []byte

func init() {
	Register(BabelName, func(settings Settings) Runtime {
		return NewBabel(settings)
	})
}

// Babel runs and bundles JavaScript functions, transpiling them with esbuild
type Babel struct {
	settings Settings
	runner   *runner.Runner
	out      io.Writer
}

// NewBabel creates the babel runtime
func NewBabel(settings Settings) *Babel {
	opts := []runner.Option{
		runner.WithNodePath(settings.NodePath),
		runner.WithModulesPath(settings.ModulesPath),
	}
	if settings.GracePeriod > 0 {
		opts = append(opts, runner.WithGracePeriod(settings.GracePeriod))
	}

	out := settings.Output
	if out == nil {
		out = io.Discard
	}

	return &Babel{
		settings: settings,
		runner:   runner.New(opts...),
		out:      out,
	}
}

// Name returns the runtime name a provider deploys with
func (b *Babel) Name(provider string) string {
	if provider == "aws" {
		return "nodejs"
	}
	return BabelName
}

// HandlerPath returns the handler the deployed bundle exposes
func (b *Babel) HandlerPath(fn Function) string {
	return bundler.LoaderHandler(fn.Handler())
}

// Scaffold writes a starter handler and event, and points the function at the handler
func (b *Babel) Scaffold(ctx context.Context, fn Function) error {
	if fn == nil {
		return ErrFunctionRequired
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	fn.SetHandler(DefaultHandler)

	var g errgroup.Group
	g.Go(func() error {
		return writeFile(fn.RootPath(HandlerFile), handlerTemplate)
	})
	g.Go(func() error {
		return writeFile(fn.RootPath(EventFile), []byte("{}\n"))
	})
	g.Go(fn.Save)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to scaffold %s: %w", fn.Name(), err)
	}

	log.Info().Str("function", fn.Name()).Str("handler", DefaultHandler).Msg("Function scaffolded")
	return nil
}

// Run invokes the function once in a local node process and prints the outcome.
// The result is nil when the process wrote to stderr.
func (b *Babel) Run(ctx context.Context, fn Function, stage, region string) (*runner.Result, error) {
	execution, err := b.Invoke(ctx, fn, stage, region)
	if err != nil {
		return nil, err
	}
	b.report(execution)
	return execution.Result, nil
}

// Invoke runs the function locally without printing the outcome
func (b *Babel) Invoke(ctx context.Context, fn Function, stage, region string) (*runner.Execution, error) {
	if fn == nil {
		return nil, ErrFunctionRequired
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		event   json.RawMessage
		envVars map[string]string
	)
	var g errgroup.Group
	g.Go(func() error {
		data, err := os.ReadFile(fn.RootPath(EventFile))
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("failed to read event: %s is not valid JSON", fn.RootPath(EventFile))
		}
		event = data
		return nil
	})
	g.Go(func() error {
		vars, err := fn.EnvVars(stage, region)
		if err != nil {
			return err
		}
		envVars = vars
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dir, file, _, err := project.SplitHandler(fn.Handler())
	if err != nil {
		return nil, err
	}
	opts, err := bundler.ResolveOptions(fn.RuntimeOptions())
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "runtime-babel-run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	// Sibling assets stay next to the transpiled module so __dirname reads resolve
	if err := bundler.CopyFunction(fn.RootPath(), tmpDir, nil); err != nil {
		return nil, err
	}

	_, err = bundler.Transpile(ctx, &bundler.TranspileJob{
		Root:          fn.RootPath(),
		ProjectRoot:   fn.ProjectPath(),
		Source:        path.Join(dir, file+"."+opts.HandlerExt),
		OutDir:        tmpDir,
		Options:       opts,
		EnvVars:       envVars,
		ModulesPath:   b.settings.ModulesPath,
		DefaultTarget: b.settings.Target,
	})
	if err != nil {
		return nil, err
	}

	transpileOpts := opts.Babel
	transpileOpts.Sourcemap = true
	if _, ok := fn.RuntimeOptions()["babel"]; !ok && b.settings.Target != "" {
		transpileOpts.Target = b.settings.Target
	}

	return b.runner.Run(ctx, runner.Request{
		Event:            event,
		Handler:          fn.Handler(),
		Name:             fn.DeployedName(stage, region),
		Dir:              tmpDir,
		WorkDir:          fn.RootPath(),
		TranspileOptions: transpileOpts.ToMap(),
		TimeoutMs:        fn.Timeout().Milliseconds(),
		MemorySize:       fn.MemorySize(),
	}, envVars)
}

// report prints the outcome of a local run
func (b *Babel) report(execution *runner.Execution) {
	if execution.Thrown() {
		_, _ = fmt.Fprintln(b.out, "Failed - This Error Was Thrown:")
		_, _ = fmt.Fprintln(b.out, execution.Stderr)
		return
	}

	if execution.Output != "" {
		_, _ = io.WriteString(b.out, execution.Output)
	}

	result := execution.Result
	if result.Succeeded() {
		_, _ = fmt.Fprintln(b.out, "Success! - This Response Was Returned:")
		_, _ = fmt.Fprintln(b.out, indentJSON(result.Response))
		return
	}

	_, _ = fmt.Fprintln(b.out, "Failed - This Error Was Returned:")
	_, _ = fmt.Fprintln(b.out, result.Message())
	if result.Stack != "" {
		_, _ = fmt.Fprintln(b.out, result.Stack)
	}
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Build bundles the function and returns the paths to package
func (b *Babel) Build(ctx context.Context, fn Function, stage, region string) ([]bundler.PackagedPath, error) {
	out, err := b.Bundle(ctx, fn, stage, region)
	if err != nil {
		return nil, err
	}
	return out.Paths, nil
}

// Bundle is Build with the dist directory, warnings and size analysis included
func (b *Babel) Bundle(ctx context.Context, fn Function, stage, region string) (*bundler.Output, error) {
	if fn == nil {
		return nil, ErrFunctionRequired
	}

	envVars, err := fn.EnvVars(stage, region)
	if err != nil {
		return nil, err
	}
	dir, file, method, err := project.SplitHandler(fn.Handler())
	if err != nil {
		return nil, err
	}
	opts, err := bundler.ResolveOptions(fn.RuntimeOptions())
	if err != nil {
		return nil, err
	}

	return bundler.Bundle(ctx, &bundler.Job{
		Name:            fn.Name(),
		Root:            fn.RootPath(),
		ProjectRoot:     fn.ProjectPath(),
		HandlerDir:      dir,
		HandlerFile:     file,
		HandlerMethod:   method,
		EnvVars:         envVars,
		ExcludePatterns: fn.ExcludePatterns(),
		Options:         opts,
		DistRoot:        b.settings.DistRoot,
		ModulesPath:     b.settings.ModulesPath,
		DefaultTarget:   b.settings.Target,
	})
}

// InstallDependencies runs npm install in dir, relative to projectRoot
func (b *Babel) InstallDependencies(ctx context.Context, projectRoot, dir string) error {
	target := filepath.Join(projectRoot, dir)

	npm := b.settings.NpmPath
	if npm == "" {
		npm = "npm"
	}
	if resolved, err := exec.LookPath(npm); err == nil {
		npm = resolved
	}

	_, _ = fmt.Fprintf(b.out, "Installing NPM dependencies in dir: %s\n", dir)
	_, _ = fmt.Fprintln(b.out, installRule)

	cmd := exec.CommandContext(ctx, npm, "install") //nolint:gosec // npm path comes from config or PATH lookup
	cmd.Dir = target
	cmd.Stdout = b.out
	cmd.Stderr = b.out

	log.Debug().Str("dir", target).Str("npm", npm).Msg("Running npm install")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("npm install in %s failed: %w", dir, err)
	}

	_, _ = fmt.Fprintln(b.out, installRule)
	return nil
}

func writeFile(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0750); err != nil {
		return err
	}
	return os.WriteFile(name, data, 0600)
}
