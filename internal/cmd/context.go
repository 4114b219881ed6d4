package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/assetdesk/internal/config"
)

// CommandContext holds the persistent flags of a command invocation.
type CommandContext struct {
	// Output control
	Format  string
	NoColor bool
	Verbose bool
	Trace   bool

	// Configuration
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// NewCommandContext extracts command context from cobra.Command flags.
//
//	func runCommand(cmd *cobra.Command, args []string) error {
//		cmdCtx, err := NewCommandContext(cmd)
//		if err != nil {
//			return err
//		}
//		// Use cmdCtx.Format, cmdCtx.ConfigPath, etc.
//	}
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()

	format, err := flags.GetString("output")
	if err != nil {
		return nil, err
	}
	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return nil, err
	}
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, err
	}
	trace, err := flags.GetBool("trace")
	if err != nil {
		return nil, err
	}
	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, err
	}
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = config.DefaultPath()
	}

	return &CommandContext{
		Format:     format,
		NoColor:    noColor,
		Verbose:    verbose,
		Trace:      trace,
		ConfigPath: configPath,
		LogLevel:   logLevel,
		LogFormat:  logFormat,
	}, nil
}
