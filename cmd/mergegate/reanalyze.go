package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mergegate-dev/mergegate/internal/daemon"
	"github.com/mergegate-dev/mergegate/internal/storage"
)

func reanalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reanalyze <owner/repo#number>",
		Short: "Queue a fresh analysis of a pull request",
		Long: `Queue a fresh high-priority analysis of a pull request's current head,
even if an identical task is already queued.

Example:
  mergegate reanalyze acme/payments#412`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, number, err := parsePRRef(args[0])
			if err != nil {
				return err
			}

			var resp struct {
				Status string       `json:"status"`
				Task   storage.Task `json:"task"`
			}
			req := daemon.ReanalyzeRequest{Owner: owner, Repo: repo, PRNumber: number}
			if err := daemonPost("/api/reanalyze", req, &resp); err != nil {
				return err
			}

			fmt.Printf("Enqueued task %d for %s/%s#%d (sha %s)\n",
				resp.Task.ID, owner, repo, number, resp.Task.HeadSHA)
			return nil
		},
	}
}
