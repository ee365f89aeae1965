package cmd

import (
	"github.com/spf13/cobra"

	"taskcore/pkg/config"
)

// configCmd represents the config command group
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the kernel configuration",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the effective configuration as YAML",
	Long:  `Prints the configuration after defaults are applied and validation passed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configViewCmd)
	rootCmd.AddCommand(configCmd)
}
