package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/pypidata/pkg/pages"
)

// completionCommand generates shell completion scripts.
func (c *CLI) completionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for pypidata.

  $ source <(pypidata completion bash)
  $ pypidata completion zsh > "${fpath[1]}/_pypidata"
  $ pypidata completion fish > ~/.config/fish/completions/pypidata.fish
  PS> pypidata completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), c.Out
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}

// completeKinds completes the --type flag.
func completeKinds(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	kinds := make([]string, 0, len(pages.Kinds))
	for _, k := range pages.Kinds {
		kinds = append(kinds, string(k))
	}
	return kinds, cobra.ShellCompDirectiveNoFileComp
}
