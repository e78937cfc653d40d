// Command taskctl manages tasks through the taskgate client core.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/taskgate/shutdown"
)

var Version = "dev"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath  string
	accountPath string
	json        bool
}

func main() {
	ctx, stop := shutdown.SignalContext(context.Background())
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "taskctl - manage tasks from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: taskgate.toml or ~/.config/taskgate/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&opts.accountPath, "account", "a", "", "account file with [account] email and password")
	rootCmd.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "output as JSON")

	rootCmd.AddCommand(verifyCmd(opts))
	rootCmd.AddCommand(loginCmd(opts))
	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(getCmd(opts))
	rootCmd.AddCommand(createCmd(opts))
	rootCmd.AddCommand(updateCmd(opts))
	rootCmd.AddCommand(completeCmd(opts))
	rootCmd.AddCommand(reopenCmd(opts))
	rootCmd.AddCommand(deleteCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))

	return rootCmd
}
