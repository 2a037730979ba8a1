package cmd

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and check DailyCapture configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			out []byte
			err error
		)
		switch configFormat {
		case "yaml", "":
			out, err = yaml.Marshal(cfg)
		case "toml":
			out, err = toml.Marshal(cfg)
		default:
			return fmt.Errorf("unsupported format '%s' (supported: yaml, toml)", configFormat)
		}
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Loading already validated it.
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", provider.File())
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "output format: yaml or toml")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}
