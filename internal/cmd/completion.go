package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion script for scribeup.

To load completions:

Bash:
  $ source <(scribeup completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ scribeup completion bash > /etc/bash_completion.d/scribeup
  # macOS:
  $ scribeup completion bash > $(brew --prefix)/etc/bash_completion.d/scribeup

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ scribeup completion zsh > "${fpath[1]}/_scribeup"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ scribeup completion fish > ~/.config/fish/completions/scribeup.fish
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			}
			return nil
		},
	}
}
