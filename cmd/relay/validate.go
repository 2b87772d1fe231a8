package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xff16/relay"
)

var validateCmd = &cobra.Command{
	Use:          "validate",
	Short:        "Validates configuration file",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := runValidate(); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "configuration file is valid, you can start the server")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	cfg, err := relay.LoadConfig(resolveConfigPath())
	if err != nil {
		return err
	}

	// Constructing the remotes also resolves liveness inheritance and endpoint URLs.
	for _, p := range cfg.Proxies {
		remote, err := relay.NewRemote(p.Name, p.Remote)
		if err != nil {
			return err
		}

		remote.Close()
	}

	return nil
}
