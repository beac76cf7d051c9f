package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/sms-service/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the application version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Version)
	},
}
