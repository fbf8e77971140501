package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/sparkplug/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "sparkplug",
	Short: "Sparkplug edge node and host application",
	Long: `Sparkplug edge node and host application

Usage
	sparkplug node
	sparkplug host
	sparkplug demo

Settings are read from SPARKPLUG_* environment variables and .env.local.
`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(NodeCmd, HostCmd, DemoCmd, VersionCmd, gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
