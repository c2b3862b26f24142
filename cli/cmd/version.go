package cmd

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	Long:  `Display the version, commit hash, and build date of runtime-babel.`,
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintf(stdout, "runtime-babel %s\n", Version)
		_, _ = fmt.Fprintf(stdout, "Commit: %s\n", Commit)
		_, _ = fmt.Fprintf(stdout, "Build Date: %s\n", BuildDate)
		_, _ = fmt.Fprintf(stdout, "Go: %s %s/%s\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
	},
}
