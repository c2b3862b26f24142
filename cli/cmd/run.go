package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/runtime-babel/cli/util"
	"github.com/fluxbase-eu/runtime-babel/internal/runner"
	"github.com/fluxbase-eu/runtime-babel/internal/runtime"
)

var (
	runStage  string
	runRegion string
)

var runCmd = &cobra.Command{
	Use:   "run [function-dir]",
	Short: "Run a function locally",
	Long: `Invoke a function once with the event in its event.json, using the
environment variables resolved for the stage and region.

Examples:
  runtime-babel run functions/orders
  runtime-babel run functions/orders --stage prod --region eu-west-1
  runtime-babel run functions/orders -o json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: requireProject,
	RunE:    runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runStage, "stage", "s", "", "stage (default from config)")
	runCmd.Flags().StringVarP(&runRegion, "region", "r", "", "region (default from config)")
}

// invoker runs a function without printing its outcome
type invoker interface {
	Invoke(ctx context.Context, fn runtime.Function, stage, region string) (*runner.Execution, error)
}

// runRecord is the structured form of a local run
type runRecord struct {
	RequestID  string      `json:"request_id" yaml:"request_id"`
	Status     string      `json:"status" yaml:"status"`
	Response   interface{} `json:"response,omitempty" yaml:"response,omitempty"`
	Stack      string      `json:"stack,omitempty" yaml:"stack,omitempty"`
	Output     string      `json:"output,omitempty" yaml:"output,omitempty"`
	Stderr     string      `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	DurationMs int64       `json:"duration_ms" yaml:"duration_ms"`
	Duration   string      `json:"duration" yaml:"duration"`
}

func runRun(cmd *cobra.Command, args []string) error {
	fn, rt, err := loadFunction(args[0])
	if err != nil {
		return err
	}
	stage, region := stageAndRegion(runStage, runRegion)

	if inv, ok := rt.(invoker); ok && formatter.Structured() {
		execution, err := inv.Invoke(cmd.Context(), fn, stage, region)
		if err != nil {
			return err
		}
		return formatter.Print(newRunRecord(execution))
	}

	_, err = rt.Run(cmd.Context(), fn, stage, region)
	return err
}

func newRunRecord(execution *runner.Execution) *runRecord {
	record := &runRecord{
		RequestID:  execution.RequestID,
		Output:     execution.Output,
		Stderr:     execution.Stderr,
		DurationMs: execution.Duration.Milliseconds(),
		Duration:   util.FormatDuration(execution.Duration),
		Status:     "thrown",
	}
	if execution.Result != nil {
		record.Status = execution.Result.Status
		record.Stack = execution.Result.Stack
		if len(execution.Result.Response) > 0 {
			var response interface{}
			if err := json.Unmarshal(execution.Result.Response, &response); err == nil {
				record.Response = response
			}
		}
	}
	return record
}
