package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/runtime-babel/cli/output"
	"github.com/fluxbase-eu/runtime-babel/internal/bundler"
	"github.com/fluxbase-eu/runtime-babel/internal/runtime"
)

var runtimesExtensions bool

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List available runtimes",
	Long: `List the registered runtimes and the name each deploys under for the
configured provider.

Examples:
  runtime-babel runtimes
  runtime-babel runtimes --extensions
  runtime-babel runtimes -o json`,
	Args:    cobra.NoArgs,
	PreRunE: requireConfig,
	RunE:    runRuntimes,
}

func init() {
	runtimesCmd.Flags().BoolVar(&runtimesExtensions, "extensions", false, "list bundler transforms and plugins instead")
}

func runRuntimes(cmd *cobra.Command, args []string) error {
	if runtimesExtensions {
		formatter.PrintList(bundler.Extensions())
		return nil
	}

	data := output.TableData{Headers: []string{"NAME", "PROVIDER", "DEPLOYS AS"}}
	for _, name := range runtime.Names() {
		factory, err := runtime.Lookup(name)
		if err != nil {
			return err
		}
		rt := factory(runtimeSettings(nil))
		data.Rows = append(data.Rows, []string{name, cfg.Provider, rt.Name(cfg.Provider)})
	}
	formatter.PrintTable(data)
	return nil
}
