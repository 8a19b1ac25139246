package main

import (
	"fmt"

	"github.com/mergegate-dev/mergegate/internal/daemon"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status daemon.StatusResponse
			if err := daemonGet("/api/status", &status); err != nil {
				fmt.Println("Daemon: not running")
				fmt.Println()
				fmt.Println("Start with: mergegated")
				return nil
			}

			fmt.Printf("Daemon: running (uptime: %s) [%s]\n", status.Uptime, status.Version)
			fmt.Printf("Workers: %d/%d active\n", status.ActiveWorkers, status.MaxWorkers)
			fmt.Printf("Tasks:   %d pending, %d running, %d completed, %d failed, %d cancelled\n",
				status.Tasks.Pending, status.Tasks.InProgress,
				status.Tasks.Completed, status.Tasks.Failed, status.Tasks.Cancelled)
			return nil
		},
	}
}
