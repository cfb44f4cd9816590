package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/svcport/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Loads the config file, applies defaults and environment overrides,
and prints the resulting configuration as YAML.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		out, err := cfg.Dump()
		if err != nil {
			exitWithError("failed to render config", err)
		}
		fmt.Print(out)
	},
}
