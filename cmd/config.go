package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sleepiecappy/riverflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML: defaults, then the config file,
then RIVERFLOW_* environment variables, then flags.

Use --init to write the defaults to the config file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var (
	configInitFlag  bool
	configForceFlag bool
)

func init() {
	configCmd.Flags().BoolVar(&configInitFlag, "init", false, "Write the default configuration file")
	configCmd.Flags().BoolVar(&configForceFlag, "force", false, "Overwrite an existing file with --init")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if configInitFlag {
		path := configFlag
		if path == "" {
			path = config.ConfigFile()
		}
		if err := config.WriteDefault(path, configForceFlag); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "Wrote %s\n", path)
		return err
	}

	data, err := appLoader.YAML()
	if err != nil {
		return err
	}
	source := appLoader.ConfigFileUsed()
	if source == "" {
		source = "defaults (no config file)"
	}
	fmt.Fprintf(out, "# source: %s\n", source)
	_, err = out.Write(data)
	return err
}
