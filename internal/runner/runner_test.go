package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEnv_Layering(t *testing.T) {
	envVars := map[string]string{
		"TABLE":     "orders",
		"SHARED":    "from-function",
		"NODE_PATH": "/function/node_modules",
	}
	parent := []string{
		"SHARED=from-parent",
		"PATH=/usr/bin",
		"MALFORMED",
		"=nokey",
	}

	env := buildEnv(envVars, parent, "/plugin/node_modules")

	envMap := make(map[string]string)
	for _, e := range env {
		parts := strings.SplitN(e, "=", 2)
		require.Len(t, parts, 2)
		envMap[parts[0]] = parts[1]
	}

	assert.Equal(t, "orders", envMap["TABLE"])
	assert.Equal(t, "from-parent", envMap["SHARED"], "parent environment overrides function variables")
	assert.Equal(t, "/usr/bin", envMap["PATH"])
	assert.Equal(t, "/plugin/node_modules", envMap["NODE_PATH"], "NODE_PATH is applied last")
	assert.NotContains(t, envMap, "MALFORMED")
	assert.Len(t, env, 4)
}

func TestBuildEnv_NoModulesPath(t *testing.T) {
	env := buildEnv(map[string]string{"NODE_PATH": "/fn"}, nil, "")
	assert.Equal(t, []string{"NODE_PATH=/fn"}, env)
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantOutput string
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "success with user output",
			stdout:     "hello\nworld\n" + ResultSeparator + `{"status":"success","response":{"ok":true}}`,
			wantOutput: "hello\nworld\n",
			wantStatus: StatusSuccess,
		},
		{
			name:       "error without user output",
			stdout:     ResultSeparator + `{"status":"error","response":"boom","stack":"Error: boom"}`,
			wantOutput: "",
			wantStatus: StatusError,
		},
		{
			name:    "missing separator",
			stdout:  "just output",
			wantErr: true,
		},
		{
			name:    "garbage result",
			stdout:  ResultSeparator + "{not json",
			wantErr: true,
		},
		{
			name:    "missing status",
			stdout:  ResultSeparator + `{"response":1}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, result, err := ParseOutput(tt.stdout, ResultSeparator)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutput, output)
			assert.Equal(t, tt.wantStatus, result.Status)
		})
	}
}

func TestParseOutput_MissingSeparatorIsErrNoResult(t *testing.T) {
	_, _, err := ParseOutput("nothing here", ResultSeparator)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestResult_Message(t *testing.T) {
	assert.Equal(t, "boom", (&Result{Response: json.RawMessage(`"boom"`)}).Message())
	assert.Equal(t, `{"code":1}`, (&Result{Response: json.RawMessage(`{"code":1}`)}).Message())
	assert.Equal(t, "", (&Result{}).Message())
	assert.Equal(t, "", (*Result)(nil).Message())
}

func TestTimeoutResult(t *testing.T) {
	result := timeoutResult(1500)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "Task timed out after 1.50 seconds", result.Message())
}

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is not installed")
	}
}

func writeHandler(t *testing.T, code string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.js"), []byte(code), 0644))
	return dir
}

func TestRun_CallbackSuccess(t *testing.T) {
	requireNode(t)

	dir := writeHandler(t, `
exports.main = function(event, context, cb) {
  console.log("processing", event.id);
  cb(null, { id: event.id, table: process.env.TABLE, fn: context.functionName });
};
`)

	r := New()
	execution, err := r.Run(context.Background(), Request{
		Event:     json.RawMessage(`{"id":42}`),
		Handler:   "handler.main",
		Name:      "shop-orders",
		Dir:       dir,
		TimeoutMs: 10000,
	}, map[string]string{"TABLE": "orders"})
	require.NoError(t, err)

	require.False(t, execution.Thrown(), execution.Stderr)
	require.True(t, execution.Result.Succeeded())
	assert.Equal(t, "processing 42\n", execution.Output)
	assert.JSONEq(t, `{"id":42,"table":"orders","fn":"shop-orders"}`, string(execution.Result.Response))
	assert.NotEmpty(t, execution.RequestID)
}

func TestRun_PromiseRejection(t *testing.T) {
	requireNode(t)

	dir := writeHandler(t, `
exports.main = async function() {
  throw new Error("database unavailable");
};
`)

	execution, err := New().Run(context.Background(), Request{
		Handler: "handler.main",
		Name:    "shop-orders",
		Dir:     dir,
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, execution.Result)
	assert.False(t, execution.Result.Succeeded())
	assert.Equal(t, "database unavailable", execution.Result.Message())
	assert.Contains(t, execution.Result.Stack, "Error: database unavailable")
}

func TestRun_SyncThrow(t *testing.T) {
	requireNode(t)

	dir := writeHandler(t, `
exports.main = function() {
  throw new TypeError("bad input");
};
`)

	execution, err := New().Run(context.Background(), Request{
		Handler: "handler.main",
		Dir:     dir,
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, execution.Result)
	assert.Equal(t, StatusError, execution.Result.Status)
	assert.Equal(t, "bad input", execution.Result.Message())
	assert.Contains(t, execution.Result.Stack, "TypeError")
}

func TestRun_StderrIsThrown(t *testing.T) {
	requireNode(t)

	dir := writeHandler(t, `
exports.main = function(event, context) {
  setImmediate(function() { throw new Error("escaped"); });
};
`)

	execution, err := New().Run(context.Background(), Request{
		Handler: "handler.main",
		Dir:     dir,
	}, nil)
	require.NoError(t, err)

	assert.True(t, execution.Thrown())
	assert.Contains(t, execution.Stderr, "escaped")
	assert.Nil(t, execution.Result)
}

func TestRun_Timeout(t *testing.T) {
	requireNode(t)

	dir := writeHandler(t, `
exports.main = function() {
  setInterval(function() {}, 1000);
};
`)

	execution, err := New(WithGracePeriod(0)).Run(context.Background(), Request{
		Handler:   "handler.main",
		Dir:       dir,
		TimeoutMs: 300,
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, execution.Result)
	assert.Equal(t, StatusError, execution.Result.Status)
	assert.Contains(t, execution.Result.Message(), "timed out")
}

func TestRun_TimeoutWithInheritedPipes(t *testing.T) {
	requireNode(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep is not installed")
	}

	dir := writeHandler(t, `
const { spawn } = require("child_process");
exports.main = function() {
  spawn("sleep", ["10"], { stdio: "inherit" });
};
`)

	start := time.Now()
	execution, err := New(WithGracePeriod(0)).Run(context.Background(), Request{
		Handler:   "handler.main",
		Dir:       dir,
		TimeoutMs: 300,
	}, nil)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, execution.Result)
	assert.Contains(t, execution.Result.Message(), "timed out")
}

func TestWarnOnMemorySize(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })

	tests := []struct {
		name       string
		memorySize int
		wantWarn   bool
	}{
		{name: "unset", memorySize: 0, wantWarn: false},
		{name: "fits", memorySize: 1, wantWarn: false},
		{name: "exceeds host", memorySize: 1 << 30, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			warnOnMemorySize(Request{Name: "shop-orders", MemorySize: tt.memorySize})

			if tt.wantWarn {
				assert.Contains(t, buf.String(), "Function memory size exceeds available system memory")
				assert.Contains(t, buf.String(), `"memory_size_mb":1073741824`)
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestRunner_WaitDelay(t *testing.T) {
	assert.Equal(t, minWaitDelay, New(WithGracePeriod(0)).waitDelay())
	assert.Equal(t, 3*time.Second, New(WithGracePeriod(3*time.Second)).waitDelay())
}

func TestRun_SpawnFailure(t *testing.T) {
	r := New(WithNodePath(filepath.Join(t.TempDir(), "no-such-node")))

	_, err := r.Run(context.Background(), Request{Handler: "handler.main", Dir: t.TempDir()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start node")
}
