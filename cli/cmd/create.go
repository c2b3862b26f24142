package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/runtime-babel/cli/util"
	"github.com/fluxbase-eu/runtime-babel/internal/project"
	"github.com/fluxbase-eu/runtime-babel/internal/runtime"
)

var (
	createName    string
	createRuntime string
	createForce   bool
)

var createCmd = &cobra.Command{
	Use:   "create [function-dir]",
	Short: "Scaffold a new function",
	Long: `Scaffold a new function: writes handler.js, an empty event.json and
s-function.json with the handler set to handler.default.

Examples:
  runtime-babel create functions/orders
  runtime-babel create functions/orders --name list-orders
  runtime-babel create functions/orders --force`,
	Args:    cobra.ExactArgs(1),
	PreRunE: requireProject,
	RunE:    runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "function name (default is the directory name)")
	createCmd.Flags().StringVar(&createRuntime, "runtime", runtime.BabelName, "runtime to scaffold with")
	createCmd.Flags().BoolVarP(&createForce, "force", "f", false, "overwrite an existing function without asking")
}

func runCreate(cmd *cobra.Command, args []string) error {
	dir := args[0]
	name := createName
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}

	fn, err := project.NewFunction(proj, dir, name)
	if err != nil {
		return err
	}

	if exists(fn.RootPath(project.FunctionFile)) || exists(fn.RootPath(runtime.HandlerFile)) {
		ok, err := confirmOverwrite(fn.RootPath())
		if err != nil {
			return err
		}
		if !ok {
			formatter.PrintSuccess("Aborted")
			return nil
		}
	}

	factory, err := runtime.Lookup(createRuntime)
	if err != nil {
		return err
	}
	if err := factory(runtimeSettings(stdout)).Scaffold(cmd.Context(), fn); err != nil {
		return err
	}

	rel, err := filepath.Rel(proj.RootPath(), fn.RootPath())
	if err != nil {
		rel = fn.RootPath()
	}
	formatter.PrintSuccess(fmt.Sprintf("Created function %s in %s (handler: %s)", fn.Name(), rel, fn.Handler()))
	return nil
}

func confirmOverwrite(dir string) (bool, error) {
	if createForce {
		return true, nil
	}
	if !util.IsInteractive() {
		return false, fmt.Errorf("a function already exists in %s (use --force to overwrite)", dir)
	}
	return util.NewPrompter().Confirm(fmt.Sprintf("A function already exists in %s. Overwrite it?", dir), false)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
