package main

import (
	"os"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"slidesync",
		"Self-hosted slideshow that ingests photos and streams changes to viewers",
	)
	rootCmd.Long = `slidesync watches a raw image directory, converts new photos into sized WebP
files, and serves them to browsers that show a live slideshow. 'run' starts
both halves; 'serve' and 'ingest' start them separately.`

	rootCmd.AddCommand(cmd.NewRunCmd())
	rootCmd.AddCommand(cmd.NewServeCmd())
	rootCmd.AddCommand(cmd.NewIngestCmd())
	rootCmd.AddCommand(cmd.NewReprocessCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewPathsCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		_ = cli.NewErrorHandler(os.Stderr, verbose).Handle(err)
		os.Exit(1)
	}
}
