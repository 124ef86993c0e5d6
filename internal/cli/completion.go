package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish>",
		Short: "Generate a shell completion script",
		Long: `Generate a completion script for scrapctl.

  source <(scrapctl completion bash)
  scrapctl completion zsh > "${fpath[1]}/_scrapctl"`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     []string{"bash", "zsh", "fish"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return fmt.Errorf("unsupported shell %q", args[0])
			}
		},
	}
}
