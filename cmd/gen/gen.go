package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd groups the documentation generators of the sparkplug binary.
var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for the sparkplug commands",
	Long:  `Generate man pages or markdown reference pages for every sparkplug command`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd, MarkdownCmd)
}

// dirFlag adds the --dir flag of a generator. Shells complete it with
// directories only.
func dirFlag(cmd *cobra.Command, dir *string, value, usage string) {
	flags := cmd.PersistentFlags()
	flags.StringVar(dir, "dir", value, usage)

	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}

// prepare creates the output directory and turns off the generated-by
// footer, which would change every page on every run.
func prepare(cmd *cobra.Command, dir, kind string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "Creating %s\n", dir)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	cmd.Root().DisableAutoGenTag = true
	fmt.Fprintf(cmd.OutOrStdout(), "Writing %s pages for %s to %s\n", kind, cmd.Root().Name(), dir)

	return nil
}
