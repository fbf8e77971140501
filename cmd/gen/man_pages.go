package gen

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/sparkplug/internal/meta"
)

// buildTimeLayout is the format of meta.BuildTimeUTC.
const buildTimeLayout = "2006/01/02 15:04:05"

var (
	manDir     string
	manSection string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for the sparkplug commands",
	Long: `Writes one man page per sparkplug command, node, host and demo
included. Pages are dated with the build time of the binary when it
is known, so regenerating them from the same build gives the same files.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		header := &doc.GenManHeader{
			Section: manSection,
			Manual:  "Sparkplug Manual",
			Source:  meta.GetInfo().String(),
		}

		if meta.BuildTimeUTC != "" {
			built, err := time.Parse(buildTimeLayout, meta.BuildTimeUTC)
			if err != nil {
				return fmt.Errorf("build time %q: %w", meta.BuildTimeUTC, err)
			}
			header.Date = &built
		}

		if err := prepare(cmd, manDir, "man"); err != nil {
			return err
		}

		if err := doc.GenManTree(cmd.Root(), header, manDir); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Done.")
		return nil
	},
}

func init() {
	dirFlag(ManPagesCmd, &manDir, "man", "the directory to write the man pages to")
	ManPagesCmd.Flags().StringVar(&manSection, "section", "1", "the manual section of the pages")
}
