package cmd

import (
	"github.com/spf13/cobra"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/pkg/paths"
)

// PathsOutput lists the files and directories slidesync uses.
type PathsOutput struct {
	Config    string `json:"config"`
	ConfigDir string `json:"config_dir"`
	StateDir  string `json:"state_dir"`
	ServeLog  string `json:"serve_log"`
	IngestLog string `json:"ingest_log"`
}

// NewPathsCmd creates the `paths` command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the config file and state directories in use",
		Long: `Prints, as JSON, the config file the other commands would resolve and the
XDG directories used for defaults and logs. SLIDESYNC_HOME moves both
directories under one root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PrintJSON(cmd.OutOrStdout(), PathsOutput{
				Config:    cli.GetOptions(cmd).ConfigPath(),
				ConfigDir: paths.ConfigDir(),
				StateDir:  paths.StateDir(),
				ServeLog:  paths.LogFile("serve"),
				IngestLog: paths.LogFile("ingest"),
			})
		},
	}
}
