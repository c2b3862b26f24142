// Package cmd provides the Cobra commands for the runtime-babel CLI.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/runtime-babel/cli/output"
	"github.com/fluxbase-eu/runtime-babel/internal/config"
	"github.com/fluxbase-eu/runtime-babel/internal/project"
	"github.com/fluxbase-eu/runtime-babel/internal/runtime"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile    string
	projectDir string
	outputFmt  string
	noHeaders  bool
	quiet      bool
	debug      bool

	// Shared across commands
	cfg       *config.Config
	proj      *project.Project
	formatter *output.Formatter

	// stdout and stderr are replaced in tests
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "runtime-babel",
	Short: "Scaffold, run and bundle JavaScript functions",
	Long: `runtime-babel scaffolds JavaScript functions in a serverless project,
runs them locally with Node.js and bundles them for deployment with esbuild.

Get started:
  runtime-babel create functions/hello     Scaffold a function
  runtime-babel run functions/hello        Invoke it locally with event.json
  runtime-babel build functions/hello      Bundle it into a dist directory
  runtime-babel package functions/hello    Bundle and zip it, optionally uploading`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Silence errors only when --quiet is used
		cmd.SilenceErrors = quiet
		setupLogging()
	},
}

// Execute runs the CLI, cancelling running commands on SIGINT or SIGTERM
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is runtime-babel.yaml in the project root)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "",
		"project directory (default is the nearest directory with s-project.json)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug output")

	// Bind environment variables
	viper.SetEnvPrefix(config.EnvPrefix)
	_ = viper.BindEnv("debug") // RUNTIME_BABEL_DEBUG

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(runtimesCmd)
}

// setupLogging configures the global logger for the console
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: stderr})

	switch {
	case debug || viper.GetBool("debug"):
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// initializeFormatter sets up the output formatter
func initializeFormatter() error {
	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format, noHeaders, quiet)
	formatter.Writer = stdout
	formatter.ErrWriter = stderr
	return nil
}

// requireProject locates the project and loads its configuration; used in PreRunE
func requireProject(cmd *cobra.Command, args []string) error {
	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
	}

	p, err := project.Find(dir)
	if err != nil {
		return err
	}
	proj = p

	return loadConfig(proj.RootPath())
}

// requireConfig loads the configuration, using the project when one is found
func requireConfig(cmd *cobra.Command, args []string) error {
	root := projectDir
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			if p, err := project.Find(wd); err == nil {
				root = p.RootPath()
			}
		}
	}
	return loadConfig(root)
}

func loadConfig(projectRoot string) error {
	var err error
	cfg, err = config.Load(config.LoadOptions{ProjectRoot: projectRoot, ConfigFile: cfgFile})
	if err != nil {
		return err
	}

	if cfg.Debug && !debug {
		debug = true
		setupLogging()
	}

	return initializeFormatter()
}

// runtimeSettings maps the configuration onto runtime settings
func runtimeSettings(out io.Writer) runtime.Settings {
	return runtime.Settings{
		NodePath:    cfg.Node.Path,
		NpmPath:     cfg.Node.NpmPath,
		ModulesPath: cfg.Node.ModulesPath,
		GracePeriod: cfg.Run.GracePeriod,
		DistRoot:    cfg.Build.DistRoot,
		Target:      cfg.Build.Target,
		Output:      out,
	}
}

// loadFunction reads the function in dir and creates its runtime
func loadFunction(dir string) (*project.Function, runtime.Runtime, error) {
	fn, err := project.LoadFunction(proj, dir)
	if err != nil {
		return nil, nil, err
	}

	factory, err := runtime.Lookup(fn.Runtime())
	if err != nil {
		return nil, nil, fmt.Errorf("function %s: %w", fn.Name(), err)
	}

	out := stdout
	if quiet {
		out = io.Discard
	}
	return fn, factory(runtimeSettings(out)), nil
}

// stageAndRegion returns the flag values, falling back to the configuration
func stageAndRegion(stage, region string) (string, string) {
	if stage == "" {
		stage = cfg.Stage
	}
	if region == "" {
		region = cfg.Region
	}
	return stage, region
}
