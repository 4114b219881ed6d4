// Package cmd implements the assetdesk command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

var rootCmd = &cobra.Command{
	Use:   "assetdesk",
	Short: "IT asset console client",
	Long: `assetdesk signs administrators into the IT asset console and manages
equipment loans and support tickets from the terminal.

The session is shared by every command: sign in once with 'assetdesk auth login'
and the stored session is verified and refreshed on each run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which signal handling cancels.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// RenderError formats a command error for stderr.
func RenderError(err error) string {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	return ux.FormatError(err, verbose)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.assetdesk/config.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.String("log-format", "", "log format: text or json (overrides config)")
	flags.StringP("output", "o", "table", "output format: table, json, yaml")
	flags.Bool("no-color", false, "disable colored output")
	flags.BoolP("verbose", "v", false, "show error details")
	flags.Bool("trace", false, "log a span for every API call and session transition")
}
