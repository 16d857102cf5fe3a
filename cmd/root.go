// Package cmd contains the tide command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tide",
	Short: "Tide - authenticated chat relay for Gemini",
	Long: `Tide is a small web service that relays chat messages from
authenticated users to the Gemini API, rotating across a pool of API keys
and optionally persisting chat history to PostgreSQL.

Running tide without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
