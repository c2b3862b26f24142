package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/runtime-babel/internal/runtime"
)

var installCmd = &cobra.Command{
	Use:   "install [dir]",
	Short: "Install npm dependencies",
	Long: `Run npm install in a directory of the project (default is the project root).

Examples:
  runtime-babel install
  runtime-babel install functions/orders`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: requireProject,
	RunE:    runInstall,
}

// dependencyInstaller installs a runtime's package dependencies
type dependencyInstaller interface {
	InstallDependencies(ctx context.Context, projectRoot, dir string) error
}

func runInstall(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	factory, err := runtime.Lookup(runtime.BabelName)
	if err != nil {
		return err
	}

	var out io.Writer = stdout
	if quiet {
		out = io.Discard
	}
	installer, ok := factory(runtimeSettings(out)).(dependencyInstaller)
	if !ok {
		return fmt.Errorf("runtime %s cannot install dependencies", runtime.BabelName)
	}
	return installer.InstallDependencies(cmd.Context(), proj.RootPath(), dir)
}
