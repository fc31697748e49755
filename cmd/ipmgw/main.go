package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
	errMark  = color.New(color.FgRed, color.Bold).SprintFunc()
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errMark("Error:"), err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree writing to out and errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "ipmgw",
		Short: "In-product messaging command engine and on-page dialog scheduler",
		Long: `ipmgw receives IPM commands from the messaging server, decides when and
where on-page dialogs are shown in browser tabs, and reports what the user
did with them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().String("config", "config.yaml", "Path to configuration file or directory")

	root.AddCommand(systemCmd())
	root.AddCommand(configCmd())
	root.AddCommand(commandCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(versionCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
