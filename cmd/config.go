package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grovetools/slidesync/cli"
	"github.com/grovetools/slidesync/config"
	apperrors "github.com/grovetools/slidesync/errors"
	"github.com/grovetools/slidesync/pkg/client"
)

// NewConfigCmd creates the `config` command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration",
		Long: `Reads and writes config.json. By default the file resolved from --config,
$SLIDESYNC_CONFIG, ./config.json or the user config directory is used; with
--remote the running server's admin API is used instead.

Running processes pick up file edits on their own.`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Example: `  slidesync config show
  slidesync config show --format yaml
  slidesync config show --remote --server http://frame.local:3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			format, _ := cmd.Flags().GetString("format")
			remote, _ := cmd.Flags().GetBool("remote")
			if opts.JSONOutput {
				format = "json"
			}

			var doc map[string]interface{}
			if remote {
				d, err := client.New(opts.Server).Config(cmd.Context())
				if err != nil {
					return err
				}
				doc = d
			} else {
				snap, err := readConfigFile(opts.ConfigPath())
				if err != nil {
					return err
				}
				doc = snap.Document()
			}
			return writeConfig(cmd.OutOrStdout(), doc, format)
		},
	}
	cmd.Flags().StringP("format", "f", "table", "Output format: table, json, yaml or toml")
	cmd.Flags().Bool("remote", false, "Read from the running server instead of the file")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting by its dotted key",
		Long: `Sets a single value and writes the file atomically. The value is parsed as
JSON when possible, so numbers, booleans and arrays keep their types.

Changing targetWidth or targetHeight through --remote also requests a
reprocessing job.`,
		Example: `  slidesync config set slideshowInterval 10000
  slidesync config set preprocessing.quality 90
  slidesync config set preprocessing.targetWidth 1920 --remote`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			remote, _ := cmd.Flags().GetBool("remote")
			out := cmd.OutOrStdout()

			if remote {
				partial, err := config.PartialFromPath(args[0], args[1])
				if err != nil {
					return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid config key")
				}
				res, err := client.New(opts.Server).UpdateConfig(cmd.Context(), partial)
				if err != nil {
					return err
				}
				if opts.JSONOutput {
					return cli.PrintJSON(out, res)
				}
				fmt.Fprintf(out, "%s %s\n", cli.SuccessStyle.Render("Updated"), args[0])
				if res.Reprocessing {
					fmt.Fprintln(out, cli.MutedStyle.Render("Reprocessing requested"))
				}
				return nil
			}

			store, err := config.Load(opts.ConfigPath())
			if err != nil {
				return err
			}
			_, changes, err := store.Set(args[0], args[1])
			if err != nil {
				return err
			}
			if opts.JSONOutput {
				return cli.PrintJSON(out, changes)
			}
			fmt.Fprintf(out, "%s %s in %s\n", cli.SuccessStyle.Render("Updated"), args[0], store.Path())
			if changes.OutputGeometryChanged {
				fmt.Fprintln(out, cli.MutedStyle.Render("A running server will request reprocessing when it sees the change."))
			}
			return nil
		},
	}
	cmd.Flags().Bool("remote", false, "Update through the running server instead of the file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a config file without loading it into a process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			path := opts.ConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := readConfigFile(path); err != nil {
				return err
			}
			if opts.JSONOutput {
				return cli.PrintJSON(cmd.OutOrStdout(), map[string]interface{}{"valid": true, "path": path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cli.SuccessStyle.Render("Valid:"), path)
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}
}

// readConfigFile validates the file at path without creating it.
func readConfigFile(path string) (*config.Snapshot, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "cannot resolve config path")
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ConfigNotFound(abs)
		}
		return nil, apperrors.TransientIO("read", abs, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.ConfigInvalid(abs, err)
	}
	return config.NewSnapshot(doc, filepath.Dir(abs))
}

func writeConfig(w io.Writer, doc map[string]interface{}, format string) error {
	switch format {
	case "json":
		return cli.PrintJSON(w, doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(doc)
	case "table", "":
		cli.PrintKeyValues(w, doc)
		return nil
	default:
		return apperrors.ValidationFailed("format", "one of table, json, yaml or toml")
	}
}
