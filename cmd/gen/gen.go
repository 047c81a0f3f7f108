package gen

import (
	"fmt"

	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate man pages and shell completions",
	Long:  `Generate man pages and shell completions for the courier CLI`,
}

var CompletionCmd = &cobra.Command{
	Use:       "completion <bash|zsh|fish>",
	Short:     "Generate a shell completion script",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		default:
			return fmt.Errorf("Unsupported shell '%s'", args[0])
		}
	},
}

func init() {
	RootCmd.AddCommand(ManPagesCmd, CompletionCmd)
}
