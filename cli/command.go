package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/grovetools/slidesync/logging"
	"github.com/grovetools/slidesync/pkg/paths"
)

// DefaultServer is the API address used by client commands.
const DefaultServer = "http://localhost:3000"

// CommandOptions holds common options for slidesync commands
type CommandOptions struct {
	ConfigFile string
	Server     string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a new command with the standard flags
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to config.json")
	cmd.PersistentFlags().String("server", DefaultServer, "Base URL of a running server, for client commands")

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		ConfigureLogging(GetOptions(cmd))
	}

	SetStyledHelp(cmd)
	return cmd
}

// GetOptions extracts common options from a command
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	server, _ := cmd.Flags().GetString("server")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		Server:     server,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// ConfigPath resolves the config file for these options.
func (o CommandOptions) ConfigPath() string {
	return paths.ResolveConfig(o.ConfigFile)
}

// ConfigureLogging applies --verbose and --json on top of SLIDESYNC_LOG_*.
func ConfigureLogging(opts CommandOptions) {
	cfg := logging.ConfigFromEnv()
	if opts.Verbose {
		cfg.Level = logrus.DebugLevel.String()
	}
	if opts.JSONOutput {
		cfg.Format.Preset = "json"
	}
	logging.Configure(cfg)
}
