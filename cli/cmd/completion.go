package cmd

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/runtime-babel/internal/project"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate a completion script for runtime-babel. Commands that take a
function directory complete the directories of the current project that
contain an s-function.json.

Examples:
  source <(runtime-babel completion bash)
  runtime-babel completion zsh > "${fpath[1]}/_runtime-babel"
  runtime-babel completion fish > ~/.config/fish/completions/runtime-babel.fish`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(stdout, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(stdout, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(stdout)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, buildCmd, packageCmd} {
		c.ValidArgsFunction = completeFunctionDirs
	}
}

// completeFunctionDirs offers the project-relative directories holding a function descriptor
func completeFunctionDirs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		dir = wd
	}
	p, err := project.Find(dir)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	return functionDirs(p.RootPath()), cobra.ShellCompDirectiveNoFileComp
}

func functionDirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root && (d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if d.IsDir() || d.Name() != project.FunctionFile {
			return nil
		}
		if rel, err := filepath.Rel(root, filepath.Dir(path)); err == nil && rel != "." {
			dirs = append(dirs, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(dirs)
	return dirs
}
