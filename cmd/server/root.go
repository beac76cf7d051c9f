package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "sms-service",
	Short:         "HTTP API that validates SMS send requests against IBM Cloud Secrets Manager",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}
