package main // Entry point package

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cobra.EnableTraverseRunHooks = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
