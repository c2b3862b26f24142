package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/runtime-babel/cli/output"
	"github.com/fluxbase-eu/runtime-babel/cli/util"
	"github.com/fluxbase-eu/runtime-babel/internal/artifact"
	"github.com/fluxbase-eu/runtime-babel/internal/bundler"
	"github.com/fluxbase-eu/runtime-babel/internal/project"
	"github.com/fluxbase-eu/runtime-babel/internal/runtime"
)

var (
	buildStage   string
	buildRegion  string
	buildAnalyze bool
	buildAll     bool

	packageOut    string
	packageUpload bool
)

var buildCmd = &cobra.Command{
	Use:   "build [function-dir]",
	Short: "Bundle a function for deployment",
	Long: `Copy the function into a fresh dist directory, generate the environment
loader and bundle it with esbuild. Prints the paths to package.

Examples:
  runtime-babel build functions/orders
  runtime-babel build functions/orders --stage prod --analyze
  runtime-babel build functions/orders -o json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: requireProject,
	RunE:    runBuild,
}

var packageCmd = &cobra.Command{
	Use:   "package [function-dir]",
	Short: "Bundle a function and zip it",
	Long: `Build the function and write the packaged paths into a zip archive.
With --upload the archive is stored in the configured S3-compatible bucket
under <project>/<stage>/<region>/<deployed-name>/<timestamp>.zip.

Examples:
  runtime-babel package functions/orders
  runtime-babel package functions/orders --out ./orders.zip
  runtime-babel package functions/orders --stage prod --upload`,
	Args:    cobra.ExactArgs(1),
	PreRunE: requireProject,
	RunE:    runPackage,
}

func init() {
	buildCmd.Flags().StringVarP(&buildStage, "stage", "s", "", "stage (default from config)")
	buildCmd.Flags().StringVarP(&buildRegion, "region", "r", "", "region (default from config)")
	buildCmd.Flags().BoolVar(&buildAnalyze, "analyze", false, "show a bundle size breakdown")
	buildCmd.Flags().BoolVar(&buildAll, "all-files", false, "list every input in the size breakdown")

	packageCmd.Flags().StringVarP(&buildStage, "stage", "s", "", "stage (default from config)")
	packageCmd.Flags().StringVarP(&buildRegion, "region", "r", "", "region (default from config)")
	packageCmd.Flags().StringVar(&packageOut, "out", "", "zip file to write (default is <deployed-name>.zip in the package directory)")
	packageCmd.Flags().BoolVar(&packageUpload, "upload", false, "upload the package to the configured bucket")
}

// outputBundler builds a function and reports the full bundler output
type outputBundler interface {
	Bundle(ctx context.Context, fn runtime.Function, stage, region string) (*bundler.Output, error)
}

// buildResult is the structured form of a build
type buildResult struct {
	DistDir  string                 `json:"dist_dir" yaml:"dist_dir"`
	Paths    []bundler.PackagedPath `json:"paths" yaml:"paths"`
	Warnings []string               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Analysis *bundler.Analysis      `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

func buildFunction(ctx context.Context, fn *project.Function, rt runtime.Runtime, stage, region string) (*buildResult, error) {
	if b, ok := rt.(outputBundler); ok {
		out, err := b.Bundle(ctx, fn, stage, region)
		if err != nil {
			return nil, err
		}
		return &buildResult{
			DistDir:  out.DistDir,
			Paths:    out.Paths,
			Warnings: out.Warnings,
			Analysis: out.Analysis,
		}, nil
	}

	paths, err := rt.Build(ctx, fn, stage, region)
	if err != nil {
		return nil, err
	}
	result := &buildResult{Paths: paths}
	if len(paths) > 0 {
		result.DistDir = filepath.Dir(paths[0].Path)
	}
	return result, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	fn, rt, err := loadFunction(args[0])
	if err != nil {
		return err
	}
	stage, region := stageAndRegion(buildStage, buildRegion)

	result, err := buildFunction(cmd.Context(), fn, rt, stage, region)
	if err != nil {
		return err
	}

	if formatter.Structured() {
		if !buildAnalyze {
			result.Analysis = nil
		}
		return formatter.Print(result)
	}

	for _, warning := range result.Warnings {
		formatter.PrintWarning(warning)
	}
	formatter.PrintTable(pathsTable(result.Paths))

	if buildAnalyze && result.Analysis != nil && !quiet {
		bundler.DisplayAnalysis(stdout, result.Analysis, buildAll)
	}
	return nil
}

func pathsTable(paths []bundler.PackagedPath) output.TableData {
	data := output.TableData{Headers: []string{"NAME", "PATH"}}
	for _, p := range paths {
		data.Rows = append(data.Rows, []string{p.Name, p.Path})
	}
	return data
}

// packageResult is the structured form of a package run
type packageResult struct {
	Archive  *artifact.Archive `json:"archive" yaml:"archive"`
	Uploaded *artifact.Object  `json:"uploaded,omitempty" yaml:"uploaded,omitempty"`
}

func runPackage(cmd *cobra.Command, args []string) error {
	fn, rt, err := loadFunction(args[0])
	if err != nil {
		return err
	}
	stage, region := stageAndRegion(buildStage, buildRegion)
	deployedName := fn.DeployedName(stage, region)

	if packageUpload {
		if err := cfg.Storage.Validate(); err != nil {
			return err
		}
	}

	built, err := buildFunction(cmd.Context(), fn, rt, stage, region)
	if err != nil {
		return err
	}
	for _, warning := range built.Warnings {
		formatter.PrintWarning(warning)
	}

	dest := packagePath(packageOut, cfg.Build.PackageDir, built.DistDir, deployedName)
	archive, err := artifact.Zip(built.Paths, dest)
	if err != nil {
		return err
	}
	result := &packageResult{Archive: archive}

	if packageUpload {
		uploader, err := artifact.NewUploader(artifact.StorageOptions{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return err
		}
		key := artifact.ObjectKey(proj.Name, stage, region, deployedName, time.Now())
		obj, err := uploader.Upload(cmd.Context(), key, archive.Path)
		if err != nil {
			return err
		}
		result.Uploaded = obj
	}

	if formatter.Structured() {
		return formatter.Print(result)
	}

	data := output.TableData{
		Headers: []string{"PACKAGE", "FILES", "SIZE", "LOCATION"},
		Rows: [][]string{{
			archive.Path,
			strconv.Itoa(archive.Files),
			util.FormatBytes(archive.Size),
			location(result.Uploaded),
		}},
	}
	formatter.PrintTable(data)
	return nil
}

// packagePath picks the zip location: the --out flag, then the configured
// package directory, then the dist directory
func packagePath(out, packageDir, distDir, deployedName string) string {
	if out != "" {
		return out
	}
	dir := packageDir
	if dir == "" {
		dir = distDir
	}
	return filepath.Join(dir, deployedName+".zip")
}

func location(obj *artifact.Object) string {
	if obj == nil {
		return "-"
	}
	return fmt.Sprintf("s3://%s/%s", obj.Bucket, obj.Key)
}
