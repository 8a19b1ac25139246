package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mergegate-dev/mergegate/internal/storage"
)

var (
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "136", Dark: "226"})
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "26", Dark: "39"})
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "46"})
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"})
)

// styleStatus colors a status string when stdout is a terminal
func styleStatus(status storage.TaskStatus) string {
	s := string(status)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	switch status {
	case storage.TaskStatusPending:
		return pendingStyle.Render(s)
	case storage.TaskStatusInProgress:
		return runningStyle.Render(s)
	case storage.TaskStatusCompleted:
		return completedStyle.Render(s)
	case storage.TaskStatusFailed:
		return failedStyle.Render(s)
	}
	return s
}

func tasksCmd() *cobra.Command {
	var (
		status     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List analysis tasks",
		Long: `List analysis tasks, newest first.

Examples:
  mergegate tasks                   # Recent tasks
  mergegate tasks --status pending  # Only queued tasks
  mergegate tasks --json            # Output as JSON`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/tasks?limit=%d", limit)
			if status != "" {
				path += "&status=" + status
			}

			var resp struct {
				Tasks []storage.Task `json:"tasks"`
			}
			if err := daemonGet(path, &resp); err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Tasks)
			}

			if len(resp.Tasks) == 0 {
				fmt.Println("No tasks found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPR\tSHA\tPRIORITY\tSTATUS\tAGE")
			for _, t := range resp.Tasks {
				sha := t.HeadSHA
				if len(sha) > 8 {
					sha = sha[:8]
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Slug(), sha,
					t.Priority, styleStatus(t.Status),
					time.Since(t.CreatedAt).Round(time.Second))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, in_progress, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum tasks to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}

			var task storage.Task
			if err := daemonGet(fmt.Sprintf("/api/task?id=%d", id), &task); err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}
}
