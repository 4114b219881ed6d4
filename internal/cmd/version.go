package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/version"
	"github.com/felixgeelhaar/assetdesk/internal/ux"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.

Use --verbose for the full build line and -o json or -o yaml for
machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	info := version.GetInfo()

	switch cmdCtx.Format {
	case "json", "yaml":
		formatter, err := ux.NewFormatter(cmdCtx.Format, &ux.FormatterOptions{Writer: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		return formatter.Format(info)
	}

	if cmdCtx.Verbose {
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "assetdesk %s\n", info.Short())
	return nil
}
