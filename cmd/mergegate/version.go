package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mergegate-dev/mergegate/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show mergegate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mergegate %s\n", version.Version)
		},
	}
}
