package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/courier/internal/meta"
)

var manDir string

var ManPagesCmd = &cobra.Command{
	Use:   "man [dir]",
	Short: "Generate man pages for the courier CLI",
	Long: `Writes one man page per courier command, section 1. The pages go to
the directory given as an argument, or to --dir.`,
	Args: cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		dir := manDir
		if len(args) == 1 {
			dir = args[0]
		}

		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("Failed to create man page directory: %w", err)
		}

		header := &doc.GenManHeader{
			Title:   "COURIER",
			Section: "1",
			Manual:  "Courier Manual",
			Source:  fmt.Sprintf("courier %s", meta.GetInfo().ClientVersion()),
		}

		root := cmd.Root()
		root.DisableAutoGenTag = true

		if err := doc.GenManTree(root, header, dir); err != nil {
			return fmt.Errorf("Failed to generate man pages: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Wrote man pages to", dir)

		return nil
	},
}

func init() {
	flags := ManPagesCmd.Flags()

	flags.StringVar(&manDir, "dir", "man", "directory to write the man pages to")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
