package runner

import (
	"encoding/json"
	"time"
)

// ResultSeparator splits user output from the result object on the child's stdout
const ResultSeparator = "___serverless_function_run_results___"

const (
	// StatusSuccess marks a handler that returned a response
	StatusSuccess = "success"
	// StatusError marks a handler that failed or threw
	StatusError = "error"
)

// Request is the object written to the child's stdin.
// Dir is where the handler module is loaded from; WorkDir, when set, is the
// child's working directory instead of Dir.
type Request struct {
	Event            json.RawMessage        `json:"event"`
	ResultSep        string                 `json:"resultSep"`
	Handler          string                 `json:"handler"`
	Name             string                 `json:"name"`
	Dir              string                 `json:"dir"`
	WorkDir          string                 `json:"-"`
	TranspileOptions map[string]interface{} `json:"transpileOptions,omitempty"`
	RequestID        string                 `json:"requestId"`
	TimeoutMs        int64                  `json:"timeoutMs,omitempty"`
	MemorySize       int                    `json:"memorySize,omitempty"`
}

// Result is the object the child writes after the separator
type Result struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	Stack    string          `json:"stack,omitempty"`
}

// Succeeded reports whether the handler returned a response
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Message returns the response as display text. String responses are unquoted.
func (r *Result) Message() string {
	if r == nil || len(r.Response) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Response, &s); err == nil {
		return s
	}
	return string(r.Response)
}

// Execution is everything observed from one child process
type Execution struct {
	RequestID string
	// Output is what the handler printed before the separator
	Output string
	// Stderr is non-empty when the child wrote to stderr; Result is nil then
	Stderr   string
	Result   *Result
	Duration time.Duration
}

// Thrown reports whether the child wrote to stderr
func (e *Execution) Thrown() bool {
	return e.Stderr != ""
}
