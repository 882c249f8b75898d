package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/motor-control/mcn/internal/config"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.0.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mcn version %s (config schema %s)\n", Version, config.SchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
