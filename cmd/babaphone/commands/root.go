package commands

import (
	"fmt"

	"babaphone/pkg/config"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

var rootCmd = &cobra.Command{
	Use:   "babaphone",
	Short: "BabaPhone - peer-to-peer baby monitor",
	Long: `BabaPhone streams sound from a child device to a parent device on the
same network, over a hotspot the child opens, or through a relay server.

Use "babaphone [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level")
	rootCmd.PersistentFlags().String("name", "", "Device name shown to peers")
	rootCmd.PersistentFlags().String("relay", "", "Relay server URL, enables relay fallback")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(childCmd)
	rootCmd.AddCommand(parentCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("BabaPhone\n")
		fmt.Printf("  Version:  %s\n", Version)
		fmt.Printf("  Commit:   %s\n", Commit)
	},
}

var configPaths = []string{
	"configs/config.yaml",
	"/etc/babaphone/config.yaml",
	"config.yaml",
}

// loadConfig reads the config file named by --config, or the first of the
// default paths, and applies the global flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else {
		for _, p := range configPaths {
			if cfg, err = config.Load(p); err == nil {
				break
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		cfg.Monitor.DeviceName = name
	}
	if url, _ := cmd.Flags().GetString("relay"); url != "" {
		cfg.RelayClient.Enabled = true
		cfg.RelayClient.URL = url
	}
	return cfg, nil
}
