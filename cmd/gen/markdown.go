package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var markdownDir string

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate markdown reference pages for the sparkplug commands",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := prepare(cmd, markdownDir, "markdown"); err != nil {
			return err
		}

		if err := doc.GenMarkdownTree(cmd.Root(), markdownDir); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Done.")
		return nil
	},
}

func init() {
	dirFlag(MarkdownCmd, &markdownDir, "docs", "the directory to write the markdown pages to")
}
