// Package cmd implements the snowdesk command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "snowdesk",
	Short: "Snow operations assistant for the Department of Snow",
	Long: `Snowdesk answers citizen questions about snow removal services,
plowing schedules, road conditions, and winter weather.

Run "snowdesk serve" to start the HTTP API, or "snowdesk ask" to
answer a single question from the command line.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
