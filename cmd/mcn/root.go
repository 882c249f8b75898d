package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcn",
	Short: "Motor control node",
	Long: `mcn turns short text commands (FORWARD, BACKWARD, LEFT, RIGHT, STOP)
received over TCP, UDP or WebSocket into differential motor outputs, and stops
the motors when commands stop arriving.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
