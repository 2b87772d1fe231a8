package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	configEnv         = "RELAY_CONFIG"
	defaultConfigPath = "./relay.yaml"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay health-aware reverse proxy",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVar(
		&cfgPath,
		"config",
		"",
		"Path to configuration file (env "+configEnv+")",
	)
}

func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}

	if env := os.Getenv(configEnv); env != "" {
		return env
	}

	return defaultConfigPath
}
