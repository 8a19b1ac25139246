package main

import (
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "mergegate",
		Short: "Compliance gating for pull requests",
		Long:  "mergegate queues pull requests for compliance analysis and publishes the verdict back as check runs, review comments, and labels",
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:7474", "daemon server address")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(reanalyzeCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
