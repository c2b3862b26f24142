// Package runner runs a function handler once in a Node.js child process.
package runner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"
)

// harness is the Node.js script that loads and invokes the handler
//
//go:embed runner.js
var harness string

// minWaitDelay is the shortest pipe wait after a kill
const minWaitDelay = 500 * time.Millisecond

// ErrNoResult is returned when the child exits without writing a result
var ErrNoResult = errors.New("function run produced no result")

// Runner spawns Node.js to run handlers locally
type Runner struct {
	nodePath    string
	modulesPath string
	gracePeriod time.Duration
}

// Option is a functional option for configuring Runner
type Option func(*Runner)

// WithNodePath overrides the node executable
func WithNodePath(path string) Option {
	return func(r *Runner) {
		if path != "" {
			r.nodePath = path
		}
	}
}

// WithModulesPath sets NODE_PATH for the child
func WithModulesPath(path string) Option {
	return func(r *Runner) {
		r.modulesPath = path
	}
}

// WithGracePeriod sets how long past the function timeout the child may run
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) {
		r.gracePeriod = d
	}
}

// New creates a runner
func New(opts ...Option) *Runner {
	r := &Runner{
		nodePath:    detectNodePath(),
		gracePeriod: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// detectNodePath finds the node executable
func detectNodePath() string {
	nodePath, err := exec.LookPath("node")
	if err == nil {
		return nodePath
	}

	paths := []string{
		"/usr/local/bin/node",
		"/usr/bin/node",
		"/opt/homebrew/bin/node",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "node"
}

// NodePath returns the node executable the runner spawns
func (r *Runner) NodePath() string {
	return r.nodePath
}

// Run writes req to a node child and collects its output.
// envVars are the function's variables; the parent environment is layered on
// top of them and NODE_PATH last.
func (r *Runner) Run(ctx context.Context, req Request, envVars map[string]string) (*Execution, error) {
	start := time.Now()

	if req.ResultSep == "" {
		req.ResultSep = ResultSeparator
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if len(req.Event) == 0 {
		req.Event = json.RawMessage("{}")
	}

	warnOnMemorySize(req)

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}

	scriptFile, err := os.CreateTemp("", "runtime-babel-runner-*.js")
	if err != nil {
		return nil, fmt.Errorf("failed to create runner script: %w", err)
	}
	scriptPath := scriptFile.Name()
	defer func() { _ = os.Remove(scriptPath) }()

	if _, err := scriptFile.WriteString(harness); err != nil {
		_ = scriptFile.Close()
		return nil, fmt.Errorf("failed to write runner script: %w", err)
	}
	_ = scriptFile.Close()

	runCtx := ctx
	var timeout time.Duration
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs)*time.Millisecond + r.gracePeriod
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.nodePath, scriptPath) //nolint:gosec // node path comes from config or PATH lookup
	cmd.Dir = req.Dir
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Env = buildEnv(envVars, os.Environ(), r.modulesPath)
	cmd.Stdin = bytes.NewReader(input)
	// Processes the handler spawns may hold the output pipes open after node is killed
	cmd.WaitDelay = r.waitDelay()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().
		Str("request_id", req.RequestID).
		Str("function", req.Name).
		Str("handler", req.Handler).
		Str("node", r.nodePath).
		Msg("Spawning function runner")

	runErr := cmd.Run()

	execution := &Execution{
		RequestID: req.RequestID,
		Duration:  time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		execution.Output, _ = SplitOutput(stdout.String(), req.ResultSep)
		execution.Result = timeoutResult(req.TimeoutMs)
		log.Warn().
			Str("request_id", req.RequestID).
			Str("function", req.Name).
			Dur("timeout", timeout).
			Msg("Function run timed out")
		return execution, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to start node: %w", runErr)
		}
		log.Debug().Int("exit_code", exitErr.ExitCode()).Str("request_id", req.RequestID).Msg("Function runner exited with error")
	}

	if stderr.Len() > 0 {
		execution.Stderr = stderr.String()
		execution.Output, _ = SplitOutput(stdout.String(), req.ResultSep)
		return execution, nil
	}

	output, result, err := ParseOutput(stdout.String(), req.ResultSep)
	if err != nil {
		return nil, err
	}
	execution.Output = output
	execution.Result = result

	log.Debug().
		Str("request_id", req.RequestID).
		Str("status", result.Status).
		Int64("duration_ms", execution.Duration.Milliseconds()).
		Msg("Function run finished")

	return execution, nil
}

// waitDelay bounds how long Wait blocks on inherited pipes once the child is killed
func (r *Runner) waitDelay() time.Duration {
	if r.gracePeriod > minWaitDelay {
		return r.gracePeriod
	}
	return minWaitDelay
}

// SplitOutput separates user output from the raw result text.
// found is false when the separator is absent.
func SplitOutput(stdout, sep string) (output string, found bool) {
	idx := strings.Index(stdout, sep)
	if idx < 0 {
		return stdout, false
	}
	return stdout[:idx], true
}

// ParseOutput splits stdout on sep and decodes the trailing result object
func ParseOutput(stdout, sep string) (string, *Result, error) {
	parts := strings.SplitN(stdout, sep, 2)
	if len(parts) < 2 {
		return stdout, nil, ErrNoResult
	}

	var result Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(parts[1])), &result); err != nil {
		return parts[0], nil, fmt.Errorf("failed to parse function result: %w", err)
	}
	if result.Status == "" {
		return parts[0], nil, fmt.Errorf("failed to parse function result: missing status")
	}

	return parts[0], &result, nil
}

func timeoutResult(timeoutMs int64) *Result {
	msg, _ := json.Marshal(fmt.Sprintf("Task timed out after %.2f seconds", float64(timeoutMs)/1000))
	return &Result{Status: StatusError, Response: msg}
}

// warnOnMemorySize logs when the configured memory size cannot be provided locally
func warnOnMemorySize(req Request) {
	if req.MemorySize <= 0 {
		return
	}
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	availableMB := vmStat.Available / 1024 / 1024
	if uint64(req.MemorySize) > availableMB {
		log.Warn().
			Str("function", req.Name).
			Int("memory_size_mb", req.MemorySize).
			Uint64("available_memory_mb", availableMB).
			Msg("Function memory size exceeds available system memory")
	}
}
