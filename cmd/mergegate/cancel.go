package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mergegate-dev/mergegate/internal/daemon"
)

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <owner/repo#number>",
		Short: "Cancel queued analysis for a pull request",
		Long: `Cancel all pending tasks for a pull request. Tasks already being
analyzed are left to finish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, number, err := parsePRRef(args[0])
			if err != nil {
				return err
			}

			var resp struct {
				Cancelled int `json:"cancelled"`
			}
			req := daemon.CancelRequest{Owner: owner, Repo: repo, PRNumber: number}
			if err := daemonPost("/api/task/cancel", req, &resp); err != nil {
				return err
			}

			fmt.Printf("Cancelled %d pending task(s) for %s/%s#%d\n",
				resp.Cancelled, owner, repo, number)
			return nil
		},
	}
}
