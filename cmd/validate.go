package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/svcport/internal/config"
	"icc.tech/svcport/internal/port"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and port state without running",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := cfg.Validate(); err != nil {
			exitWithError("invalid configuration", err)
		}
		if _, _, _, err := buildServices(cfg); err != nil {
			exitWithError("invalid service config", err)
		}

		// Filters the configured services will install.
		if len(cfg.Services.ARP) > 0 {
			if err := port.ValidateFilter("arp"); err != nil {
				exitWithError("arp filter rejected", err)
			}
		}
		if len(cfg.Services.Ping) > 0 {
			if err := port.ValidateFilter("icmp"); err != nil {
				exitWithError("icmp filter rejected", err)
			}
		}

		client, cleanup, err := buildClient(cfg)
		if err != nil {
			exitWithError("failed to open port", err)
		}
		defer cleanup()
		if err := client.Validate(cfg.Port.ID, port.StateUp, port.StateAcquired, port.StateService); err != nil {
			exitWithError("port not ready", err)
		}

		fmt.Println("configuration OK")
	},
}
