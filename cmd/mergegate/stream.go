package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

func streamCmd() *cobra.Command {
	var repoFilter string

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream task events in real-time",
		Long: `Stream task events from the daemon in real-time.

Events are printed as JSONL (one JSON object per line).

Examples:
  mergegate stream                       # Stream all events
  mergegate stream --repo acme/payments  # One repository only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			streamURL := serverAddr + "/api/stream/events"
			if repoFilter != "" {
				streamURL += "?" + url.Values{"repo": {repoFilter}}.Encode()
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			go func() {
				<-sigCh
				cancel()
			}()

			req, err := http.NewRequestWithContext(ctx, "GET", streamURL, nil)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			client := &http.Client{Timeout: 0} // No timeout for streaming
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("connect to daemon: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("stream failed: %s", body)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				if ctx.Err() != nil {
					return nil
				}
				line := scanner.Text()
				// SSE framing: data lines carry events, comments are keepalives
				if payload, ok := strings.CutPrefix(line, "data: "); ok {
					fmt.Println(payload)
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&repoFilter, "repo", "", "only events for this owner/repo")
	return cmd
}
